package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/advance"
	"github.com/blissfulldev/hitld/internal/assist"
	"github.com/blissfulldev/hitld/internal/clarification"
	"github.com/blissfulldev/hitld/internal/config"
	"github.com/blissfulldev/hitld/internal/events"
	"github.com/blissfulldev/hitld/internal/history"
	"github.com/blissfulldev/hitld/internal/logging"
	"github.com/blissfulldev/hitld/internal/metrics"
	"github.com/blissfulldev/hitld/internal/orchestrator"
	"github.com/blissfulldev/hitld/internal/reconcile"
	"github.com/blissfulldev/hitld/internal/recovery"
	"github.com/blissfulldev/hitld/internal/session"
	"github.com/blissfulldev/hitld/internal/telemetry"
	"github.com/blissfulldev/hitld/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestration daemon",
	Long: `Run starts the orchestration core: the session store, clarification
lifecycle, reconciliation loop, and optional NATS transition publishing and
Prometheus metrics endpoint.`,
	RunE: runDaemon,
}

// app bundles the wired core and everything that needs closing.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	store  session.Store

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

// buildApp wires the core from configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var publisher session.TransitionPublisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		np, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		publisher = np
		a.closers = append(a.closers, np.Close)
	}

	store := session.NewStore(&session.StoreConfig{
		TransitionRetention: cfg.Session.TransitionRetention,
	}, publisher, logger)
	a.store = store
	a.closers = append(a.closers, store.Close)

	var matcher history.Matcher
	if cfg.Clarification.SemanticMatching {
		sm, err := history.NewSemanticMatcher(nil)
		if err != nil {
			return nil, fmt.Errorf("semantic matcher: %w", err)
		}
		matcher = sm
	}
	hist, err := history.NewService(&history.Config{
		ReuseThreshold: cfg.Clarification.ReuseThreshold,
	}, matcher, logger)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	a.closers = append(a.closers, hist.Close)

	var enricher assist.Enricher
	var validator assist.Validator
	var guide assist.Guide
	if cfg.Assist.Enabled {
		model, err := openai.New(
			openai.WithModel(cfg.Assist.Model),
			openai.WithToken(cfg.Assist.APIKey.Value()),
		)
		if err != nil {
			return nil, fmt.Errorf("assist model: %w", err)
		}
		llm, err := assist.NewLLMAssist(model, logger)
		if err != nil {
			return nil, fmt.Errorf("assist: %w", err)
		}
		enricher, validator, guide = llm, llm, llm
	}

	machine, err := workflow.NewMachine(store, logger)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	mgr, err := clarification.NewManager(&clarification.Config{
		ReuseThreshold: cfg.Clarification.ReuseThreshold,
		ResumePolicy:   clarification.ResumePolicy(cfg.Clarification.ResumePolicy),
	}, store, hist, enricher, validator, logger)
	if err != nil {
		return nil, fmt.Errorf("clarification: %w", err)
	}

	engine, err := reconcile.NewEngine(store, logger)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	policy, err := advance.NewPolicy(&advance.Config{
		Preference:        advance.Preference(cfg.Advance.Preference),
		SkipOptionalSteps: cfg.Advance.SkipOptionalSteps,
		Timeout:           cfg.Advance.Timeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("advance: %w", err)
	}

	rec, err := recovery.NewService(&recovery.Config{
		MaxLogEntries:        cfg.Recovery.MaxLogEntries,
		AutoRecoveryInterval: cfg.Recovery.AutoRecoveryInterval.Duration(),
		AutoRecoveryBurst:    cfg.Recovery.AutoRecoveryBurst,
	}, store, nil, reconcilerAdapter{engine: engine, opts: reconcileOptions(cfg)}, logger)
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		m = metrics.New(registry)
		a.startMetricsServer(registry)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:          store,
		Machine:        machine,
		Clarifications: mgr,
		Reconciler:     engine,
		Policy:         policy,
		Recovery:       rec,
		Guide:          guide,
		Metrics:        m,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	a.orch = orch
	return a, nil
}

// reconcilerAdapter lets the recovery service trigger reconciliation.
type reconcilerAdapter struct {
	engine *reconcile.Engine
	opts   *reconcile.Options
}

func (r reconcilerAdapter) Reconcile(ctx context.Context, sessionID string) error {
	_, err := r.engine.Run(ctx, sessionID, r.opts)
	return err
}

func reconcileOptions(cfg *config.Config) *reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.PreserveUserData = !cfg.Reconcile.RemoveOrphans
	opts.OrphanAge = cfg.Reconcile.OrphanAge.Duration()
	opts.TransitionRetention = cfg.Session.TransitionRetention
	opts.StepHistoryRetention = cfg.Session.StepHistoryRetention
	return opts
}

func (a *app) startMetricsServer(registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics endpoint listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Fields: map[string]string{"service": "hitld", "version": version},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:         cfg.Observability.Enabled,
		ServiceName:     cfg.Observability.ServiceName,
		ServiceVersion:  version,
		Endpoint:        cfg.Observability.Endpoint,
		Protocol:        cfg.Observability.Protocol,
		Insecure:        cfg.Observability.Insecure,
		SamplingRate:    1.0,
		MetricInterval:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.orch.RunReconcileLoop(ctx, cfg.Reconcile.Interval.Duration(), reconcileOptions(cfg))

	logger.Info("hitld started",
		zap.String("version", version),
		zap.String("resume_policy", cfg.Clarification.ResumePolicy),
		zap.String("advance_preference", cfg.Advance.Preference),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return nil
}
