package service

import (
	"context"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Manual edits go through editable, which holds the project lock so a run
// cannot start halfway through a write.

// ListFiles returns the project's file paths.
func (s *Service) ListFiles(ctx context.Context, projectID string) ([]string, error) {
	pr, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	snap, err := pr.tree.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Paths(), nil
}

// ReadFile reads one project file. Reads are allowed during a run.
func (s *Service) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	pr, err := s.project(projectID)
	if err != nil {
		return "", err
	}
	return pr.tree.ReadFile(path)
}

// WriteFile writes a file on behalf of the user. It fails with
// domain.ErrEditConflict while a run is active.
func (s *Service) WriteFile(ctx context.Context, projectID, path, content string) error {
	return s.editable(projectID, func(pr *projectRun) error {
		return pr.tree.WriteFile(path, content)
	})
}

// DeleteFile deletes a file on behalf of the user. It fails with
// domain.ErrEditConflict while a run is active.
func (s *Service) DeleteFile(ctx context.Context, projectID, path string) error {
	return s.editable(projectID, func(pr *projectRun) error {
		return pr.tree.Remove(path)
	})
}

func (s *Service) editable(projectID string, edit func(pr *projectRun) error) error {
	pr, err := s.project(projectID)
	if err != nil {
		return err
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.machine.Snapshot().Status.IsActive() {
		return domain.ErrEditConflict
	}
	// External edits only matter to runs; a user edit supersedes them.
	pr.tree.ResetConflicts()
	return edit(pr)
}
