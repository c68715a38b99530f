package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaot623/gogo/autopilot/internal/annotate"
	"github.com/xiaot623/gogo/autopilot/internal/config"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/metrics"
	"github.com/xiaot623/gogo/autopilot/internal/policy"
	"github.com/xiaot623/gogo/autopilot/internal/repository"
	"github.com/xiaot623/gogo/autopilot/internal/router"
	"github.com/xiaot623/gogo/autopilot/internal/service"
	handler "github.com/xiaot623/gogo/autopilot/internal/transport/http"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f := cmd.Flags().Lookup("port"); f.Changed {
				a.v.Set("http_port", f.Value.String())
			}
			cfg, err := config.FromViper(a.v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", config.Default().HTTPPort, "HTTP port (env HTTP_PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Configure(logging.Level(cfg.LogLevel), os.Stderr)
	logging.Info("starting orchestrator",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"projects_root", cfg.ProjectsRoot,
		"max_retries", cfg.MaxRetries,
	)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	m := metrics.New()

	// Preview channel
	hub := annotate.NewHub()
	hub.OnDrop = func(projectID string) {
		m.AnnotationsDropped.Inc()
	}
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	rt := router.New(db,
		router.WithBaseURL("openai", cfg.OpenAIBaseURL),
		router.WithBaseURL("ollama", cfg.OllamaBaseURL),
		router.WithTimeout(cfg.ProviderTimeout()),
	)

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	projects := workspace.NewOSRegistry(cfg.ProjectsRoot)
	if cfg.InMemoryProjects() {
		projects = workspace.NewMemRegistry()
	}

	svc, err := service.New(service.Deps{
		Store:    db,
		Config:   cfg,
		Router:   rt,
		Projects: projects,
		Policy:   policyEngine,
		Channel:  hub,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if cfg.RolesFile != "" {
		assignments, err := config.LoadRoles(cfg.RolesFile)
		if err != nil {
			return err
		}
		if err := svc.SeedRoles(ctx, assignments); err != nil {
			return fmt.Errorf("failed to seed roles: %w", err)
		}
	}

	preview := annotate.NewServer(annotate.ServerConfig{
		ReadTimeout:    cfg.WSReadTimeout(),
		WriteTimeout:   cfg.WSWriteTimeout(),
		PingInterval:   cfg.WSPingInterval(),
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, hub)
	e := handler.NewServer(svc, preview)
	e.HidePort = true

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
	}()
	logging.Info("orchestrator started", "port", cfg.HTTPPort)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logging.Info("shutting down orchestrator")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.Warn("failed to shutdown server gracefully", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logging.Warn("failed to stop runs gracefully", "error", err)
	}
	hubCancel()

	logging.Info("orchestrator stopped")
	return serveErr
}
