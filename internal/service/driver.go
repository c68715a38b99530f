package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/engine"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/planner"
	"github.com/xiaot623/gogo/autopilot/internal/statemachine"
	"github.com/xiaot623/gogo/autopilot/internal/verifier"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

// failure is what a failed attempt hands to self-correction.
type failure struct {
	verifier.Failure
	err error
}

// drive runs plan, execute and verify rounds until the run finishes, fails,
// or is superseded.
func (s *Service) drive(pr *projectRun, att *attempt) {
	defer s.wg.Done()
	defer close(att.done)
	defer s.finish(pr, att)

	failureContext := ""
	for {
		f, stop := s.runAttempt(pr, att, failureContext)
		if stop {
			return
		}
		next, ok := s.correct(pr, att, f)
		if !ok {
			return
		}
		failureContext = next
	}
}

// runAttempt performs one plan/execute/verify round. It returns stop=true
// when the run reached a terminal state or was superseded.
func (s *Service) runAttempt(pr *projectRun, att *attempt, failureContext string) (*failure, bool) {
	ctx := att.ctx
	m := pr.machine
	log := logging.With("project_id", pr.id, "run_id", att.runID)

	// Planning.
	proposal, f := s.plan(pr, att, failureContext)
	reviewID := ""
	if f == nil && ctx.Err() == nil {
		var err error
		reviewID, f, err = s.install(pr, att, proposal)
		if err != nil {
			return nil, s.halt(log, err)
		}
	}
	if ctx.Err() != nil {
		return nil, true
	}
	if f != nil {
		if err := m.FailPlanning(att.epoch, f.Cause()); err != nil {
			return nil, s.halt(log, err)
		}
		return f, false
	}

	snap := m.Snapshot()
	s.recordEvent(ctx, att.runID, domain.EventTypePlanGenerated, domain.PlanGeneratedPayload{
		PlanID:         reviewID,
		Attempt:        snap.Attempt,
		Plan:           proposal.Plan,
		RequiresReview: proposal.RequiresReview,
		Decision:       string(proposal.Decision.Decision),
	})

	if proposal.RequiresReview {
		log.Info("plan awaiting review", "plan_id", reviewID)
		select {
		case <-ctx.Done():
			return nil, true
		case <-att.approvals:
		}
	}

	// Execution.
	plan := proposal.Plan
	plan.Tasks = proposal.Tasks
	var last engine.Outcome
	err := s.engine.Run(ctx, pr.tree, engine.Input{
		ProjectID: pr.id,
		Objective: att.objective,
		Plan:      plan,
		Tasks:     proposal.Tasks,
	}, engine.Hooks{
		Begin: func(i int) error {
			if err := m.BeginTask(att.epoch, i); err != nil {
				return err
			}
			s.recordEvent(ctx, att.runID, domain.EventTypeTaskStarted, domain.TaskPayload{Index: i, Task: proposal.Tasks[i]})
			return nil
		},
		Commit: func(_ int, apply func() error) error {
			return m.Guard(att.epoch, apply)
		},
		Done: func(o engine.Outcome) error {
			last = o
			return s.taskDone(ctx, m, att, o)
		},
	})
	if ctx.Err() != nil {
		return nil, true
	}
	if err != nil {
		if last.Err == nil || !errors.Is(err, last.Err) {
			return nil, s.halt(log, err)
		}
		s.completePlan(ctx, reviewID)
		after, err := pr.tree.Snapshot()
		if err != nil {
			log.Error("failed to snapshot project", "error", err)
		}
		return &failure{
			Failure: verifier.Failure{
				Stage:     verifier.StageExecution,
				TaskIndex: last.Index,
				Task:      last.Task,
				Error:     last.Err.Error(),
				Diff:      workspace.Diff(att.baseline, after),
			},
			err: last.Err,
		}, false
	}

	// Verification.
	after, err := pr.tree.Snapshot()
	if err != nil {
		log.Error("failed to snapshot project", "error", err)
	}
	diff := workspace.Diff(att.baseline, after)
	verdict, verr := s.verifier.Verify(ctx, att.objective, plan, diff)
	if ctx.Err() != nil {
		return nil, true
	}
	s.completePlan(ctx, reviewID)
	if verr != nil {
		verdict = domain.Verdict{Pass: false, Rationale: "verification unavailable: " + verr.Error()}
	}
	if err := m.Verify(att.epoch, verdict); err != nil {
		return nil, s.halt(log, err)
	}
	s.recordEvent(ctx, att.runID, domain.EventTypeVerification, domain.VerificationPayload{
		Pass:      verdict.Pass,
		Rationale: verdict.Rationale,
		Issues:    verdict.Issues,
	})

	if verdict.Pass {
		s.recordEvent(ctx, att.runID, domain.EventTypeRunFinished, map[string]int{"attempts": att.budget.Attempts()})
		log.Info("run finished", "attempts", att.budget.Attempts())
		return nil, true
	}
	f = &failure{
		Failure: verifier.Failure{
			Stage:     verifier.StageVerification,
			Rationale: verdict.Rationale,
			Issues:    verdict.Issues,
			Diff:      diff,
		},
		err: verr,
	}
	if verr != nil {
		f.Error = verr.Error()
	}
	return f, false
}

// plan asks for a plan and files it with the review gate.
func planningFailure(err error) *failure {
	return &failure{Failure: verifier.Failure{Stage: verifier.StagePlanning, Error: err.Error()}, err: err}
}

func (s *Service) plan(pr *projectRun, att *attempt, failureContext string) (*planner.Proposal, *failure) {
	snap, err := pr.tree.Snapshot()
	if err != nil {
		return nil, planningFailure(err)
	}
	proposal, err := s.planner.Generate(att.ctx, planner.Input{
		Objective:      att.objective,
		Mode:           att.mode,
		Snapshot:       snap.Paths(),
		FailureContext: failureContext,
	})
	if err != nil {
		return nil, planningFailure(err)
	}
	return proposal, nil
}

// install registers the proposal with the review gate and moves the run to
// awaiting-review or executing. It holds the project's review lock
// throughout, so a decision on the new review only sees the finished
// transition. A failure of the gate is a planning failure; a non-nil error
// means the run was superseded.
func (s *Service) install(pr *projectRun, att *attempt, proposal *planner.Proposal) (string, *failure, error) {
	ctx := att.ctx
	pr.review.Lock()
	defer pr.review.Unlock()

	plan := proposal.Plan
	plan.Tasks = proposal.Tasks
	var planID string
	if proposal.RequiresReview {
		r, err := s.gate.Submit(ctx, pr.id, att.runID, plan)
		if err != nil {
			return "", planningFailure(err), nil
		}
		planID = r.PlanID
	} else {
		r, err := s.gate.Record(ctx, pr.id, att.runID, plan)
		if err != nil {
			return "", planningFailure(err), nil
		}
		if err := s.gate.MarkExecuting(ctx, r.PlanID); err != nil {
			return "", planningFailure(err), nil
		}
		planID = r.PlanID
	}

	thoughts := proposal.Plan.Thoughts
	if thoughts == "" {
		thoughts = proposal.Plan.Reasoning
	}
	if err := pr.machine.InstallPlan(att.epoch, planID, proposal.Tasks, thoughts, proposal.RequiresReview); err != nil {
		s.gate.Discard(context.WithoutCancel(ctx), planID)
		return "", nil, err
	}
	return planID, nil, nil
}

func (s *Service) taskDone(ctx context.Context, m *statemachine.Machine, att *attempt, o engine.Outcome) error {
	if o.Err != nil {
		if err := m.FailTask(att.epoch, o.Index, o.Err.Error()); err != nil {
			return err
		}
		s.metrics.TaskAttempts.WithLabelValues("failed").Inc()
		s.recordEvent(ctx, att.runID, domain.EventTypeTaskFailed, domain.TaskPayload{
			Index: o.Index, Task: o.Task, Error: o.Err.Error(),
		})
		return nil
	}

	detail := ""
	if len(o.Changed) > 0 {
		detail = "changed " + strings.Join(o.Changed, ", ")
	}
	if err := m.CompleteTask(att.epoch, o.Index, detail); err != nil {
		return err
	}
	if o.Thoughts != "" {
		if err := m.SetThoughts(att.epoch, o.Thoughts); err != nil {
			return err
		}
	}
	s.metrics.TaskAttempts.WithLabelValues("succeeded").Inc()
	s.recordEvent(ctx, att.runID, domain.EventTypeTaskSucceeded, domain.TaskPayload{
		Index: o.Index, Task: o.Task, Changed: o.Changed,
	})
	return nil
}

// correct consumes the retry budget. It returns the failure context for the
// next planning round, or false when the run ended.
func (s *Service) correct(pr *projectRun, att *attempt, f *failure) (string, bool) {
	ctx := att.ctx
	m := pr.machine
	log := logging.With("project_id", pr.id, "run_id", att.runID)

	var missing *domain.MissingCredentialError
	if errors.As(f.err, &missing) {
		s.exhaust(pr, att, "missing_credentials", missing.Error())
		return "", false
	}

	n, ok := att.budget.Take()
	if !ok {
		exhausted := &domain.RetryBudgetExhausted{Attempts: att.budget.Attempts(), Cause: f.Cause()}
		s.exhaust(pr, att, "retry_budget_exhausted", exhausted.Error())
		return "", false
	}

	f.Attempt = n
	fc, err := s.corrector.BuildFailureContext(f.Failure)
	if err != nil {
		log.Warn("failed to build failure context", "error", err)
		fc = fmt.Sprintf("Attempt %d failed during %s: %s", n, f.Stage, f.Cause())
	}
	if err := m.Retry(att.epoch, n); err != nil {
		s.halt(log, err)
		return "", false
	}
	s.recordEvent(ctx, att.runID, domain.EventTypeSelfCorrection, domain.SelfCorrectionPayload{
		Attempt:        n,
		FailureContext: fc,
	})
	log.Info("self-correcting", "retry", n, "stage", f.Stage)
	return fc, true
}

func (s *Service) exhaust(pr *projectRun, att *attempt, code, msg string) {
	if err := pr.machine.Exhaust(att.epoch, msg); err != nil {
		s.halt(logging.With("run_id", att.runID), err)
		return
	}
	s.recordEvent(att.ctx, att.runID, domain.EventTypeRunFailed, domain.RunFailedPayload{Code: code, Message: msg})
	logging.Warn("run failed", "project_id", pr.id, "run_id", att.runID, "error", msg)
}

func (s *Service) completePlan(ctx context.Context, planID string) {
	if err := s.gate.Complete(context.WithoutCancel(ctx), planID); err != nil {
		logging.Warn("failed to complete plan", "plan_id", planID, "error", err)
	}
}

// halt stops a driver. Stale results are expected after a cancel; anything
// else is a bug worth logging.
func (s *Service) halt(log *slog.Logger, err error) bool {
	if !errors.Is(err, statemachine.ErrStale) {
		log.Error("run driver stopped", "error", err)
	}
	return true
}

// finish runs when a driver exits.
func (s *Service) finish(pr *projectRun, att *attempt) {
	s.metrics.ActiveRuns.Dec()

	snap := pr.machine.Snapshot()
	if snap.RunID == att.runID {
		label := string(snap.Status)
		if snap.Status == domain.RunStatusIdle {
			label = "cancelled"
		}
		s.metrics.RunsEnded.WithLabelValues(label).Inc()
	}

	pr.mu.Lock()
	if pr.current == att {
		pr.current = nil
	}
	pr.mu.Unlock()
	att.cancel()
}
