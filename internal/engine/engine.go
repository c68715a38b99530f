// Package engine executes an approved plan one task at a time against a
// project tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/annotate"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/planner"
	"github.com/xiaot623/gogo/autopilot/internal/router"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

// ErrNoMutations is returned when the Coder answers a task with no changes.
var ErrNoMutations = errors.New("coder returned no mutations")

// Input is the approved plan to execute.
type Input struct {
	ProjectID string
	Objective string
	Plan      domain.Plan
	Tasks     []string
	// Start is the index of the first task to run.
	Start int
}

// Outcome is the result of one task.
type Outcome struct {
	Index    int
	Task     string
	Changed  []string
	Thoughts string
	Err      error
}

// Hooks let the caller record progress. A hook error stops execution and is
// returned from Run as is.
type Hooks struct {
	Begin func(index int) error
	Done  func(o Outcome) error
	// Commit wraps the apply of a task's mutations. It must call apply at
	// most once, and returns an error without calling it when the run has
	// moved on. That error stops Run before Done is called.
	Commit func(index int, apply func() error) error
}

// Engine runs tasks.
type Engine struct {
	invoker router.Invoker
	channel annotate.Channel
}

// New creates an Engine. A nil channel discards annotations.
func New(invoker router.Invoker, channel annotate.Channel) *Engine {
	if channel == nil {
		channel = annotate.Nop{}
	}
	return &Engine{invoker: invoker, channel: channel}
}

// Run executes the tasks from in.Start in order. It stops at the first
// failing task and returns that task's error.
func (e *Engine) Run(ctx context.Context, tree *workspace.Tree, in Input, hooks Hooks) error {
	for i := in.Start; i < len(in.Tasks); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if hooks.Begin != nil {
			if err := hooks.Begin(i); err != nil {
				return err
			}
		}

		out, err := e.runTask(ctx, tree, in, i, hooks.Commit)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if hooks.Done != nil {
			if err := hooks.Done(out); err != nil {
				return err
			}
		}
		if out.Err != nil {
			return out.Err
		}
	}
	return nil
}

// runTask returns a non-nil error only when the task's result must be
// dropped because the run was cancelled or superseded.
func (e *Engine) runTask(ctx context.Context, tree *workspace.Tree, in Input, index int, commit func(int, func() error) error) (Outcome, error) {
	task := in.Tasks[index]
	out := Outcome{Index: index, Task: task}
	log := logging.With("project_id", in.ProjectID, "task_index", index)

	highlighted := ""
	if sel, ok := TargetOf(task); ok {
		e.channel.Highlight(in.ProjectID, sel, domain.ActionHighlightClick)
		highlighted = sel
	}
	defer e.channel.Clear(in.ProjectID)

	set, err := e.generate(ctx, tree, in, index)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		out.Err = err
		return out, nil
	}
	out.Thoughts = set.Thoughts

	if set.Selector != "" && set.Selector != highlighted {
		kind := set.Action
		if kind == "" || kind == domain.ActionClear {
			kind = domain.ActionHighlightType
		}
		e.channel.Highlight(in.ProjectID, set.Selector, kind)
	}

	var (
		changed  []string
		applyErr error
		applied  bool
	)
	apply := func() error {
		applied = true
		changed, applyErr = tree.Apply(set.Mutations)
		return applyErr
	}
	if commit == nil {
		_ = apply()
	} else if err := commit(index, apply); err != nil && !applied {
		log.Debug("task result dropped", "error", err)
		return out, err
	}
	if applyErr != nil {
		log.Warn("task apply failed", "error", applyErr)
		out.Err = applyErr
		return out, nil
	}
	out.Changed = changed
	log.Debug("task applied", "changed", len(changed))
	return out, nil
}

func (e *Engine) generate(ctx context.Context, tree *workspace.Tree, in Input, index int) (*domain.MutationSet, error) {
	files := make([]fileView, 0, len(in.Plan.Paths()))
	for _, p := range in.Plan.Paths() {
		content, err := tree.ReadFile(p)
		if err != nil {
			files = append(files, fileView{Path: p, Missing: true})
			continue
		}
		files = append(files, fileView{Path: p, Content: clip(content)})
	}

	resp, err := e.invoker.Invoke(ctx, domain.RoleCoder, &llm.CompletionRequest{
		Kind:   llm.KindMutations,
		System: systemPrompt,
		Prompt: buildPrompt(in, index, files),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var set domain.MutationSet
	if err := llm.DecodeJSON(resp.Text, &set); err != nil {
		return nil, coderFailure(fmt.Errorf("failed to decode mutations: %w", err))
	}
	if len(set.Mutations) == 0 {
		return nil, coderFailure(ErrNoMutations)
	}
	if err := checkScope(&in.Plan, set.Mutations); err != nil {
		return nil, err
	}
	return &set, nil
}

// checkScope rejects mutations outside the plan's file intent. Plans
// without file intent are not scoped.
func checkScope(p *domain.Plan, ms []domain.Mutation) error {
	paths := p.Paths()
	if len(paths) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(paths))
	for _, fp := range paths {
		allowed[fp] = true
	}
	for _, m := range ms {
		clean := planner.CleanPath(m.Path)
		if !allowed[clean] {
			return &domain.MutationApplyFailure{Path: m.Path, Err: errors.New("path is not part of the plan")}
		}
	}
	return nil
}

var testIDPattern = regexp.MustCompile(`data-testid=["']([^"']+)["']`)

// TargetOf extracts a test id named in a task description.
func TargetOf(task string) (string, bool) {
	m := testIDPattern.FindStringSubmatch(task)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func coderFailure(err error) error {
	return &domain.ProviderFailure{Role: domain.RoleCoder, Err: err}
}
