package workspace

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/spf13/afero"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Registry hands out one Tree per project under a common root.
type Registry struct {
	fs     afero.Fs
	root   string
	onDisk bool
	ignore []string

	mu    sync.Mutex
	trees map[string]*Tree
}

// NewRegistry creates a registry on an arbitrary filesystem.
func NewRegistry(fsys afero.Fs, root string, ignore ...string) *Registry {
	return &Registry{
		fs:     fsys,
		root:   root,
		ignore: ignore,
		trees:  make(map[string]*Tree),
	}
}

// NewOSRegistry creates a registry of on-disk projects under root.
func NewOSRegistry(root string, ignore ...string) *Registry {
	r := NewRegistry(afero.NewOsFs(), root, ignore...)
	r.onDisk = true
	return r
}

// NewMemRegistry creates a registry of in-memory projects.
func NewMemRegistry(ignore ...string) *Registry {
	return NewRegistry(afero.NewMemMapFs(), "/projects", ignore...)
}

// ValidProjectID reports whether id can name a project directory.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id) && id != "." && id != ".."
}

// Tree returns the project's tree, creating its directory on first use.
func (r *Registry) Tree(projectID string) (*Tree, error) {
	if !ValidProjectID(projectID) {
		return nil, fmt.Errorf("invalid project id %q", projectID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trees[projectID]; ok {
		return t, nil
	}

	dir := r.Dir(projectID)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	t := NewTree(afero.NewBasePathFs(r.fs, dir), r.ignore...)
	r.trees[projectID] = t
	return t, nil
}

// Dir returns the project's directory on the registry filesystem.
func (r *Registry) Dir(projectID string) string {
	return filepath.Join(r.root, projectID)
}

// OnDisk reports whether trees are backed by the OS filesystem.
func (r *Registry) OnDisk() bool {
	return r.onDisk
}
