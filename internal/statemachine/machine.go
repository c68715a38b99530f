package statemachine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// ErrStale is returned when a driver acts on a run that was cancelled or
// restarted since it captured its epoch. The caller must drop its result.
var ErrStale = errors.New("run superseded")

// Observer is notified after every accepted change, while the machine is
// still locked. It must not call back into the Machine.
type Observer func(run domain.Run, entry domain.LogEntry)

// Machine owns the Run record of one project.
type Machine struct {
	mu       sync.Mutex
	run      domain.Run
	epoch    uint64
	now      func() time.Time
	observer Observer
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the clock used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithObserver registers a change observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// New creates an idle machine for a project.
func New(projectID string, opts ...Option) *Machine {
	m := &Machine{
		run: domain.Run{ProjectID: projectID, Status: domain.RunStatusIdle},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current Run record.
func (m *Machine) Snapshot() domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run.Clone()
}

// Epoch returns the current run epoch. It changes on every start and cancel.
func (m *Machine) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Start begins a new run and returns its epoch.
func (m *Machine) Start(runID, objective string, mode domain.RunMode) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run.Status.IsActive() {
		return m.epoch, domain.ErrRunActive
	}
	to, err := Next(m.run.Status, EventStart)
	if err != nil {
		return m.epoch, err
	}

	now := m.now()
	m.epoch++
	m.run = domain.Run{
		RunID:     runID,
		ProjectID: m.run.ProjectID,
		Mode:      mode,
		Status:    to,
		Objective: objective,
		StartedAt: now,
	}
	m.appendLocked(fmt.Sprintf("Run started (%s): %s", mode, objective))
	return m.epoch, nil
}

// InstallPlan installs a freshly generated plan. With review set the run
// waits for a human decision, otherwise it starts executing at task 0.
func (m *Machine) InstallPlan(epoch uint64, planID string, tasks []string, thoughts string, review bool) error {
	ev := EventPlanProduced
	msg := fmt.Sprintf("Plan %s installed with %d task(s)", planID, len(tasks))
	if review {
		ev = EventPlanNeedsReview
		msg = fmt.Sprintf("Plan %s awaiting review (%d task(s))", planID, len(tasks))
	}
	return m.apply(epoch, ev, msg, func(r *domain.Run) error {
		if len(tasks) == 0 {
			return fmt.Errorf("%w: plan has no tasks", domain.ErrInvalidPlan)
		}
		r.Plan = append([]string(nil), tasks...)
		r.PlanID = planID
		r.CurrentTaskIndex = 0
		r.Attempt++
		r.Thoughts = thoughts
		return nil
	})
}

// FailPlanning records a plan generation failure.
func (m *Machine) FailPlanning(epoch uint64, cause string) error {
	return m.apply(epoch, EventPlanFailed, "Planning failed: "+cause, nil)
}

// Approve moves a reviewed plan into execution.
func (m *Machine) Approve(epoch uint64, planID string) error {
	return m.apply(epoch, EventApprove, fmt.Sprintf("Plan %s approved", planID), func(r *domain.Run) error {
		if r.PlanID != planID {
			return fmt.Errorf("%w: run is reviewing %q", domain.ErrPlanNotFound, r.PlanID)
		}
		r.CurrentTaskIndex = 0
		return nil
	})
}

// Reject returns the run to idle. The reason is logged verbatim.
func (m *Machine) Reject(epoch uint64, planID, reason string) error {
	msg := fmt.Sprintf("Plan %s rejected", planID)
	if reason != "" {
		msg += ": " + reason
	}
	return m.apply(epoch, EventReject, msg, func(r *domain.Run) error {
		if r.PlanID != planID {
			return fmt.Errorf("%w: run is reviewing %q", domain.ErrPlanNotFound, r.PlanID)
		}
		r.Plan = nil
		r.PlanID = ""
		r.CurrentTaskIndex = 0
		return nil
	})
}

// BeginTask logs the start of the task at index. It does not change status.
func (m *Machine) BeginTask(epoch uint64, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkTaskLocked(epoch, index); err != nil {
		return err
	}
	m.appendLocked(fmt.Sprintf("Executing task %d/%d: %s", index+1, len(m.run.Plan), m.run.Plan[index]))
	return nil
}

// CompleteTask advances the cursor past the task at index. After the last
// task the run moves to analyzing.
func (m *Machine) CompleteTask(epoch uint64, index int, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkTaskLocked(epoch, index); err != nil {
		return err
	}
	ev := EventTaskSucceeded
	if index+1 == len(m.run.Plan) {
		ev = EventTasksCompleted
	}
	to, err := Next(m.run.Status, ev)
	if err != nil {
		return err
	}

	m.run.CurrentTaskIndex = index + 1
	m.run.Status = to
	msg := fmt.Sprintf("Task %d/%d succeeded", index+1, len(m.run.Plan))
	if detail != "" {
		msg += ": " + detail
	}
	m.appendLocked(msg)
	return nil
}

// FailTask moves the run to self-correcting. The cursor stays on the failed task.
func (m *Machine) FailTask(epoch uint64, index int, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkTaskLocked(epoch, index); err != nil {
		return err
	}
	to, err := Next(m.run.Status, EventTaskFailed)
	if err != nil {
		return err
	}
	m.run.Status = to
	m.appendLocked(fmt.Sprintf("Task %d/%d failed: %s", index+1, len(m.run.Plan), cause))
	return nil
}

// Verify records the Reviewer's verdict. The rationale becomes the run's thoughts.
func (m *Machine) Verify(epoch uint64, verdict domain.Verdict) error {
	ev, msg := EventVerifyPassed, "Verification passed"
	if !verdict.Pass {
		ev, msg = EventVerifyFailed, "Verification failed"
	}
	if verdict.Rationale != "" {
		msg += ": " + verdict.Rationale
	}
	return m.apply(epoch, ev, msg, func(r *domain.Run) error {
		r.Thoughts = verdict.Rationale
		return nil
	})
}

// Retry re-enters planning after a failure. The previous plan stays visible
// until the next InstallPlan replaces it.
func (m *Machine) Retry(epoch uint64, retry int) error {
	return m.apply(epoch, EventRetry, fmt.Sprintf("Self-correcting: re-planning (retry %d)", retry), nil)
}

// Exhaust ends the run in error. It is the only place lastError is set.
func (m *Machine) Exhaust(epoch uint64, lastError string) error {
	return m.apply(epoch, EventExhausted, "Run failed: "+lastError, func(r *domain.Run) error {
		r.LastError = lastError
		return nil
	})
}

// Cancel returns an active run to idle, discarding its plan but keeping its
// logs. It reports false when there was nothing to cancel.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.run.Status.IsActive() {
		return false
	}
	to, err := Next(m.run.Status, EventCancel)
	if err != nil {
		return false
	}
	m.epoch++
	m.run.Status = to
	m.run.Plan = nil
	m.run.PlanID = ""
	m.run.CurrentTaskIndex = 0
	m.appendLocked("Run cancelled")
	return true
}

// Guard runs fn with the machine locked, provided epoch is still current.
// A Cancel or Start cannot interleave with fn. fn must not call back into
// the Machine.
func (m *Machine) Guard(epoch uint64, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return ErrStale
	}
	return fn()
}

// SetThoughts overwrites the run's thoughts without logging.
func (m *Machine) SetThoughts(epoch uint64, thoughts string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return ErrStale
	}
	m.run.Thoughts = thoughts
	m.run.UpdatedAt = m.now()
	return nil
}

// Note appends a log entry without changing status.
func (m *Machine) Note(epoch uint64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return ErrStale
	}
	m.appendLocked(msg)
	return nil
}

func (m *Machine) apply(epoch uint64, ev Event, msg string, mutate func(r *domain.Run) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return ErrStale
	}
	to, err := Next(m.run.Status, ev)
	if err != nil {
		return err
	}

	next := m.run.Clone()
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return err
		}
	}
	next.Status = to
	m.run = next
	m.appendLocked(msg)
	return nil
}

func (m *Machine) checkTaskLocked(epoch uint64, index int) error {
	if epoch != m.epoch {
		return ErrStale
	}
	if m.run.Status != domain.RunStatusExecuting {
		return fmt.Errorf("%w: task %d while %s", domain.ErrInvalidTransition, index, m.run.Status)
	}
	if index != m.run.CurrentTaskIndex || index >= len(m.run.Plan) {
		return fmt.Errorf("%w: task %d out of order (cursor %d)", domain.ErrInvalidTransition, index, m.run.CurrentTaskIndex)
	}
	return nil
}

func (m *Machine) appendLocked(msg string) {
	now := m.now()
	ts := now.UnixMilli()
	if n := len(m.run.Logs); n > 0 && ts < m.run.Logs[n-1].Ts {
		ts = m.run.Logs[n-1].Ts
	}
	entry := domain.LogEntry{Ts: ts, Message: msg}
	m.run.Logs = append(m.run.Logs, entry)
	m.run.UpdatedAt = now

	if m.observer != nil {
		m.observer(m.run.Clone(), entry)
	}
}
