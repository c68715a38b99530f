package workspace

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

func newMemTree(t *testing.T, files map[string]string) (*Tree, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for p, c := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(c), 0o644))
	}
	return NewTree(fsys), fsys
}

func TestSnapshotSkipsIgnoredPaths(t *testing.T) {
	tree, _ := newMemTree(t, map[string]string{
		"src/App.tsx":                "app",
		"index.html":                 "<html>",
		"node_modules/react/index.js": "react",
		".git/HEAD":                  "ref",
		"src/.tmp-123":               "partial",
	})

	snap, err := tree.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "src/App.tsx"}, snap.Paths())
	assert.Equal(t, "app", snap["src/App.tsx"])
}

func TestSnapshotOfMissingRootIsEmpty(t *testing.T) {
	tree := NewTree(afero.NewBasePathFs(afero.NewMemMapFs(), "/nowhere"))
	snap, err := tree.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestCheckPath(t *testing.T) {
	tree, _ := newMemTree(t, nil)

	got, err := tree.CheckPath("./src//App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "src/App.tsx", got)

	for _, bad := range []string{"", ".", "..", "../x", "/etc/passwd", ".git/config", "node_modules/a.js"} {
		_, err := tree.CheckPath(bad)
		assert.ErrorIs(t, err, ErrBadPath, bad)
	}
}

func TestApplyWritesAndDeletes(t *testing.T) {
	tree, fsys := newMemTree(t, map[string]string{"src/Old.tsx": "old", "src/App.tsx": "app"})

	changed, err := tree.Apply([]domain.Mutation{
		{Path: "src/Footer.tsx", Op: domain.MutationWrite, Content: "footer"},
		{Path: "src/App.tsx", Op: domain.MutationWrite, Content: "app + footer"},
		{Path: "src/Old.tsx", Op: domain.MutationDelete},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Footer.tsx", "src/App.tsx", "src/Old.tsx"}, changed)

	snap, err := tree.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"src/App.tsx": "app + footer", "src/Footer.tsx": "footer"}, snap)

	leftovers, err := afero.Glob(fsys, "src/.tmp-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	tree, _ := newMemTree(t, map[string]string{"src/App.tsx": "app"})
	before, err := tree.Snapshot()
	require.NoError(t, err)

	_, err = tree.Apply([]domain.Mutation{
		{Path: "src/App.tsx", Op: domain.MutationWrite, Content: "changed"},
		{Path: "src/New.tsx", Op: domain.MutationWrite, Content: "new"},
		{Path: "src/Missing.tsx", Op: domain.MutationDelete},
	})
	var failure *domain.MutationApplyFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "src/Missing.tsx", failure.Path)

	after, err := tree.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyRejectsBadInput(t *testing.T) {
	tree, _ := newMemTree(t, nil)

	_, err := tree.Apply(nil)
	var failure *domain.MutationApplyFailure
	assert.ErrorAs(t, err, &failure)

	_, err = tree.Apply([]domain.Mutation{{Path: "../escape", Op: domain.MutationWrite}})
	assert.ErrorIs(t, err, ErrBadPath)

	_, err = tree.Apply([]domain.Mutation{{Path: "a.txt", Op: "chmod"}})
	assert.ErrorAs(t, err, &failure)
}

func TestExternalWriteConflict(t *testing.T) {
	tree, fsys := newMemTree(t, nil)
	require.NoError(t, tree.WriteFile("src/App.tsx", "ours"))

	tree.NoteExternalWrite("src/App.tsx")
	assert.Empty(t, tree.Conflicts(), "the tree's own write is not a conflict")

	require.NoError(t, afero.WriteFile(fsys, "src/App.tsx", []byte("theirs"), 0o644))
	tree.NoteExternalWrite("src/App.tsx")
	assert.Equal(t, []string{"src/App.tsx"}, tree.Conflicts())

	_, err := tree.Apply([]domain.Mutation{{Path: "src/App.tsx", Op: domain.MutationWrite, Content: "ours again"}})
	assert.ErrorIs(t, err, domain.ErrEditConflict)

	content, err := tree.ReadFile("src/App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "theirs", content)

	assert.Empty(t, tree.Conflicts(), "a reported conflict is cleared")
	_, err = tree.Apply([]domain.Mutation{{Path: "src/App.tsx", Op: domain.MutationWrite, Content: "merged"}})
	assert.NoError(t, err)
}

func TestRegistryIsolatesProjects(t *testing.T) {
	reg := NewMemRegistry()

	a, err := reg.Tree("alpha")
	require.NoError(t, err)
	b, err := reg.Tree("beta")
	require.NoError(t, err)
	require.NoError(t, a.WriteFile("README.md", "alpha"))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)

	again, err := reg.Tree("alpha")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = reg.Tree("../etc")
	assert.Error(t, err)
	assert.False(t, reg.OnDisk())
}
