package planner

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Normalize trims text fields, cleans every path and de-duplicates and sorts
// each file set. Normalizing a normalized plan returns it unchanged.
func Normalize(p domain.Plan) domain.Plan {
	out := domain.Plan{
		Reasoning: strings.TrimSpace(p.Reasoning),
		Thoughts:  strings.TrimSpace(p.Thoughts),
		Plan: domain.FileIntent{
			Create: normalizeSet(p.Plan.Create),
			Update: normalizeSet(p.Plan.Update),
			Delete: normalizeSet(p.Plan.Delete),
		},
	}
	for _, t := range p.Tasks {
		if t = strings.TrimSpace(t); t != "" {
			out.Tasks = append(out.Tasks, t)
		}
	}
	return out
}

// CleanPath converts a model-supplied path to slash form relative to the
// project root.
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

func normalizeSet(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		c := CleanPath(p)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate checks the structural rules of a plan: a reasoning, relative
// clean paths, pairwise disjoint sets and at least one intent or task.
func Validate(p *domain.Plan) error {
	if strings.TrimSpace(p.Reasoning) == "" {
		return fmt.Errorf("%w: reasoning is required", domain.ErrInvalidPlan)
	}

	owner := make(map[string]string)
	sets := []struct {
		name  string
		paths []string
	}{
		{"create", p.Plan.Create},
		{"update", p.Plan.Update},
		{"delete", p.Plan.Delete},
	}
	for _, set := range sets {
		for _, fp := range set.paths {
			if err := checkPath(fp); err != nil {
				return err
			}
			if prev, ok := owner[fp]; ok && prev != set.name {
				return fmt.Errorf("%w: %s appears in both %s and %s", domain.ErrInvalidPlan, fp, prev, set.name)
			}
			owner[fp] = set.name
		}
	}

	if len(owner) == 0 && len(p.Tasks) == 0 {
		return fmt.Errorf("%w: plan has no file intents and no tasks", domain.ErrInvalidPlan)
	}
	return nil
}

func checkPath(p string) error {
	switch {
	case p == "" || p == ".":
		return fmt.Errorf("%w: empty path", domain.ErrInvalidPlan)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: absolute path %q", domain.ErrInvalidPlan, p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("%w: path %q escapes the project", domain.ErrInvalidPlan, p)
	case path.Clean(p) != p:
		return fmt.Errorf("%w: path %q is not clean", domain.ErrInvalidPlan, p)
	}
	return nil
}

// Tasks returns the ordered task list of a plan. When the model gave none,
// one task per file intent is derived in create, update, delete order.
func Tasks(p *domain.Plan) []string {
	if len(p.Tasks) > 0 {
		return append([]string(nil), p.Tasks...)
	}
	var tasks []string
	for _, fp := range p.Plan.Create {
		tasks = append(tasks, "create "+fp)
	}
	for _, fp := range p.Plan.Update {
		tasks = append(tasks, "update "+fp)
	}
	for _, fp := range p.Plan.Delete {
		tasks = append(tasks, "delete "+fp)
	}
	return tasks
}
