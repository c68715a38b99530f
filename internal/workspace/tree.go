// Package workspace is the project file tree the orchestrator edits.
//
// Trees sit on afero so tests run on memory and servers on disk. Every
// mutation set is applied all-or-nothing, and writes made behind the tree's
// back are flagged so a task never overwrites them silently.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// DefaultIgnore lists paths that are never snapshotted or written.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	"dist/**",
	"**/.tmp-*",
	"**/.DS_Store",
}

// ErrBadPath is returned for paths outside the project or on the ignore list.
var ErrBadPath = errors.New("path is outside the project")

// Snapshot maps project-relative paths to file contents.
type Snapshot map[string]string

// Paths returns the snapshot's paths in sorted order.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Tree is one project's files.
type Tree struct {
	fs     afero.Fs
	ignore []string

	applyMu sync.Mutex

	mu      sync.Mutex
	written map[string]string
	dirty   map[string]time.Time
}

// NewTree creates a tree over fs. With no patterns DefaultIgnore applies.
func NewTree(fsys afero.Fs, ignore ...string) *Tree {
	if len(ignore) == 0 {
		ignore = DefaultIgnore
	}
	return &Tree{
		fs:      fsys,
		ignore:  ignore,
		written: make(map[string]string),
		dirty:   make(map[string]time.Time),
	}
}

// Ignored reports whether p matches an ignore pattern.
func (t *Tree) Ignored(p string) bool {
	for _, pattern := range t.ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// IgnorePatterns returns the tree's ignore patterns.
func (t *Tree) IgnorePatterns() []string {
	return append([]string(nil), t.ignore...)
}

// CheckPath validates a project-relative path and returns its clean form.
func (t *Tree) CheckPath(p string) (string, error) {
	c := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	c = strings.TrimPrefix(c, "./")
	if c == "." || c == "" || strings.HasPrefix(c, "/") || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, p)
	}
	if t.Ignored(c) {
		return "", fmt.Errorf("%w: %q is ignored", ErrBadPath, p)
	}
	return c, nil
}

// Snapshot reads every non-ignored file.
func (t *Tree) Snapshot() (Snapshot, error) {
	snap := make(Snapshot)
	err := afero.Walk(t.fs, ".", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel := filepath.ToSlash(p)
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if t.Ignored(rel + "/x") {
				return filepath.SkipDir
			}
			return nil
		}
		if t.Ignored(rel) {
			return nil
		}
		data, err := afero.ReadFile(t.fs, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		snap[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot project: %w", err)
	}
	return snap, nil
}

// ReadFile reads one file.
func (t *Tree) ReadFile(p string) (string, error) {
	c, err := t.CheckPath(p)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(t.fs, c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes one file atomically.
func (t *Tree) WriteFile(p, content string) error {
	_, err := t.Apply([]domain.Mutation{{Path: p, Op: domain.MutationWrite, Content: content}})
	return err
}

// Remove deletes one file.
func (t *Tree) Remove(p string) error {
	_, err := t.Apply([]domain.Mutation{{Path: p, Op: domain.MutationDelete}})
	return err
}

type backup struct {
	path    string
	existed bool
	content []byte
}

// Apply applies a mutation set all-or-nothing and returns the changed paths.
// On failure every file is restored and a *domain.MutationApplyFailure is
// returned. A path changed outside the tree since it was last written fails
// with domain.ErrEditConflict.
func (t *Tree) Apply(ms []domain.Mutation) ([]string, error) {
	if len(ms) == 0 {
		return nil, &domain.MutationApplyFailure{Err: errors.New("empty mutation set")}
	}

	t.applyMu.Lock()
	defer t.applyMu.Unlock()

	clean := make([]domain.Mutation, len(ms))
	for i, m := range ms {
		c, err := t.CheckPath(m.Path)
		if err != nil {
			return nil, &domain.MutationApplyFailure{Path: m.Path, Err: err}
		}
		if m.Op != domain.MutationWrite && m.Op != domain.MutationDelete {
			return nil, &domain.MutationApplyFailure{Path: c, Err: fmt.Errorf("unknown op %q", m.Op)}
		}
		clean[i] = domain.Mutation{Path: c, Op: m.Op, Content: m.Content}
	}
	if err := t.takeConflicts(clean); err != nil {
		return nil, err
	}

	var (
		backups []backup
		changed []string
	)
	for _, m := range clean {
		b, err := t.backup(m.Path)
		if err != nil {
			t.rollback(backups)
			return nil, &domain.MutationApplyFailure{Path: m.Path, Err: err}
		}
		backups = append(backups, b)

		if err := t.applyOne(m, b.existed); err != nil {
			t.rollback(backups)
			return nil, &domain.MutationApplyFailure{Path: m.Path, Err: err}
		}
		changed = append(changed, m.Path)
	}
	return changed, nil
}

func (t *Tree) applyOne(m domain.Mutation, existed bool) error {
	switch m.Op {
	case domain.MutationDelete:
		if !existed {
			return fmt.Errorf("cannot delete %s: %w", m.Path, os.ErrNotExist)
		}
		t.remember(m.Path, "")
		return t.fs.Remove(m.Path)
	default:
		t.remember(m.Path, hash([]byte(m.Content)))
		return writeFileAtomic(t.fs, m.Path, []byte(m.Content))
	}
}

func (t *Tree) backup(p string) (backup, error) {
	data, err := afero.ReadFile(t.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return backup{path: p}, nil
		}
		return backup{}, err
	}
	return backup{path: p, existed: true, content: data}, nil
}

func (t *Tree) rollback(backups []backup) {
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		var err error
		if b.existed {
			t.remember(b.path, hash(b.content))
			err = writeFileAtomic(t.fs, b.path, b.content)
		} else {
			t.remember(b.path, "")
			if rmErr := t.fs.Remove(b.path); rmErr != nil && !os.IsNotExist(rmErr) {
				err = rmErr
			}
		}
		if err != nil {
			logging.Error("rollback failed", "path", b.path, "error", err)
		}
	}
}

// writeFileAtomic writes data using temp file + rename.
func writeFileAtomic(fsys afero.Fs, p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer fsys.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fsys.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", p, err)
	}
	return nil
}

func (t *Tree) remember(p, sum string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written[p] = sum
}

// NoteExternalWrite is called when p changed on disk. Writes whose content
// matches what the tree itself last wrote are ignored.
func (t *Tree) NoteExternalWrite(p string) {
	if t.Ignored(p) {
		return
	}
	data, err := afero.ReadFile(t.fs, p)
	if err != nil {
		return
	}
	sum := hash(data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.written[p] == sum {
		return
	}
	t.dirty[p] = time.Now()
	t.written[p] = sum
	logging.Info("external edit detected", "path", p)
}

// Conflicts returns paths changed outside the tree and not yet reported.
func (t *Tree) Conflicts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.dirty))
	for p := range t.dirty {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ResetConflicts forgets every pending external edit.
func (t *Tree) ResetConflicts() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = make(map[string]time.Time)
}

// takeConflicts fails if any mutation targets an externally edited path.
// The reported paths are cleared so a re-planned task can proceed.
func (t *Tree) takeConflicts(ms []domain.Mutation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range ms {
		if _, ok := t.dirty[m.Path]; ok {
			delete(t.dirty, m.Path)
			return &domain.MutationApplyFailure{
				Path: m.Path,
				Err:  fmt.Errorf("%w: %s was edited outside the run", domain.ErrEditConflict, m.Path),
			}
		}
	}
	return nil
}

func hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
