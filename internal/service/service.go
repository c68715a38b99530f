// Package service composes the orchestrator: one state machine per project,
// driven by a goroutine per active run.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/autopilot/internal/annotate"
	"github.com/xiaot623/gogo/autopilot/internal/config"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/engine"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/metrics"
	"github.com/xiaot623/gogo/autopilot/internal/planner"
	"github.com/xiaot623/gogo/autopilot/internal/repository"
	"github.com/xiaot623/gogo/autopilot/internal/review"
	"github.com/xiaot623/gogo/autopilot/internal/router"
	"github.com/xiaot623/gogo/autopilot/internal/statemachine"
	"github.com/xiaot623/gogo/autopilot/internal/verifier"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

// Deps are the collaborators of a Service. Store, Config, Router and
// Projects are required.
type Deps struct {
	Store    store.Store
	Config   *config.Config
	Router   *router.Router
	Projects *workspace.Registry
	Policy   planner.PolicyEvaluator
	Channel  annotate.Channel
	Metrics  *metrics.Metrics
}

type Service struct {
	store     store.Store
	config    *config.Config
	router    *router.Router
	projects  *workspace.Registry
	channel   annotate.Channel
	metrics   *metrics.Metrics
	planner   *planner.Generator
	gate      *review.Gate
	engine    *engine.Engine
	verifier  *verifier.Verifier
	corrector *verifier.Corrector

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*projectRun
}

// projectRun is the in-memory state of one project.
type projectRun struct {
	id      string
	machine *statemachine.Machine
	tree    *workspace.Tree
	watcher *workspace.Watcher

	// mu serialises run starts with manual file edits.
	mu      sync.Mutex
	current *attempt

	// review is held from a plan's submission until the run is awaiting
	// its review, and by every review decision on the project.
	review sync.Mutex
}

// attempt is one started run.
type attempt struct {
	runID     string
	objective string
	mode      domain.RunMode
	epoch     uint64
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	budget    *verifier.Budget
	baseline  workspace.Snapshot
	approvals chan struct{}
}

func New(deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Config == nil || deps.Router == nil || deps.Projects == nil {
		return nil, errors.New("service: store, config, router and projects are required")
	}
	corrector, err := verifier.NewCorrector(deps.Config.SelfCorrectionPrompt)
	if err != nil {
		return nil, err
	}
	if deps.Channel == nil {
		deps.Channel = annotate.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Service{
		store:     deps.Store,
		config:    deps.Config,
		router:    deps.Router,
		projects:  deps.Projects,
		channel:   deps.Channel,
		metrics:   deps.Metrics,
		gate:      review.NewGate(deps.Store),
		corrector: corrector,
		runs:      make(map[string]*projectRun),
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())

	invoker := &instrumentedInvoker{next: deps.Router, svc: s}
	opts := []planner.Option{planner.WithIgnore(workspace.DefaultIgnore)}
	if deps.Policy != nil {
		opts = append(opts, planner.WithPolicy(deps.Policy))
	}
	s.planner = planner.New(invoker, opts...)
	s.engine = engine.New(invoker, deps.Channel)
	s.verifier = verifier.New(invoker)
	return s, nil
}

// Metrics returns the service's collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// project returns the in-memory state of a project, creating it on first use.
func (s *Service) project(projectID string) (*projectRun, error) {
	if !workspace.ValidProjectID(projectID) {
		return nil, fmt.Errorf("%w: project id %q", domain.ErrInvalidInput, projectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pr, ok := s.runs[projectID]; ok {
		return pr, nil
	}

	tree, err := s.projects.Tree(projectID)
	if err != nil {
		return nil, err
	}
	pr := &projectRun{id: projectID, tree: tree}
	pr.machine = statemachine.New(projectID, statemachine.WithObserver(s.persistRun))

	if s.config.WatchProjects && s.projects.OnDisk() {
		w, err := workspace.Watch(s.baseCtx, s.projects.Dir(projectID), tree)
		if err != nil {
			logging.Warn("failed to watch project directory", "project_id", projectID, "error", err)
		} else {
			pr.watcher = w
		}
	}
	s.runs[projectID] = pr
	return pr, nil
}

// lookup returns a project's state without creating it.
func (s *Service) lookup(projectID string) *projectRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[projectID]
}

// persistRun saves every accepted change of a Run. It runs under the
// machine's lock and must not call back into the machine.
func (s *Service) persistRun(run domain.Run, _ domain.LogEntry) {
	if run.RunID == "" {
		return
	}
	if err := s.store.SaveRun(context.Background(), &run); err != nil {
		logging.Error("failed to save run", "run_id", run.RunID, "error", err)
	}
}

// Shutdown cancels every active run and waits for the drivers to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	projects := make([]*projectRun, 0, len(s.runs))
	for _, pr := range s.runs {
		projects = append(projects, pr)
	}
	s.mu.Unlock()

	for _, pr := range projects {
		if _, err := s.CancelRun(ctx, pr.id); err != nil {
			logging.Warn("failed to cancel run on shutdown", "project_id", pr.id, "error", err)
		}
	}
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, pr := range projects {
		if pr.watcher != nil {
			pr.watcher.Close()
		}
	}
	return nil
}
