package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tikibozo/kometa-ai/internal/catalog"
	"github.com/tikibozo/kometa-ai/internal/claude"
	"github.com/tikibozo/kometa-ai/internal/config"
	"github.com/tikibozo/kometa-ai/internal/health"
	"github.com/tikibozo/kometa-ai/internal/notify"
	"github.com/tikibozo/kometa-ai/internal/oracle"
	"github.com/tikibozo/kometa-ai/internal/orchestrator"
	"github.com/tikibozo/kometa-ai/internal/radarr"
	"github.com/tikibozo/kometa-ai/internal/report"
	"github.com/tikibozo/kometa-ai/internal/scheduler"
	"github.com/tikibozo/kometa-ai/internal/state"
	"github.com/tikibozo/kometa-ai/pkg/filelock"
	"github.com/tikibozo/kometa-ai/pkg/lifecycle"
)

// claudePricing mirrors the per-million-token cost the original tracked for
// its default model (input $3, output $15, as of its cost-tracking note).
var claudePricing = oracle.Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}

const (
	oracleTemperature = 0.0
	oracleMaxTokens   = 4096
	oracleTimeout     = 120 * time.Second
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

// runOptions is the CLI-facing mirror of orchestrator.Options; kept
// separate so the flag layer does not need to know the orchestrator
// package's field names change independently of the CLI surface.
type runOptions struct {
	Collection   string
	BatchSize    int
	ForceRefresh bool
	DryRun       bool
}

func (o runOptions) toOrchestrator() orchestrator.Options {
	return orchestrator.Options{
		Collection:   o.Collection,
		BatchSize:    o.BatchSize,
		ForceRefresh: o.ForceRefresh,
		DryRun:       o.DryRun,
	}
}

// app wires every collaborator the process needs, constructed once at
// startup (spec §9's explicit-dependency-passing design note) and threaded
// through every CLI mode.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	lock   *filelock.Lock
	store  *state.Store
	lc     *lifecycle.Coordinator
	orch   *orchestrator.Orchestrator
	mailer notify.Mailer

	rubricDir string
	stateDir  string

	catalogClient catalog.Client
	completer     oracle.Completer
}

func newApp(cfg *config.Config, rubricDir, stateDir string, logger *slog.Logger) (*app, error) {
	lock, err := filelock.Acquire(stateDir)
	if err != nil {
		return nil, fmt.Errorf("acquire state directory lock: %w", err)
	}

	store := state.New(stateDir, logger)

	catalogClient := radarr.New(cfg.RadarrURL, cfg.RadarrAPIKey, 30*time.Second, logger)
	completer := claude.New(cfg.ClaudeAPIKey, "")
	labelCache := catalog.NewLabelCache(catalogClient)
	oracleClient := oracle.New(completer, claudePricing, oracle.Params{
		Model:       cfg.ClaudeModel,
		Temperature: oracleTemperature,
		MaxTokens:   oracleMaxTokens,
		Timeout:     oracleTimeout,
	}, logger)

	orch := &orchestrator.Orchestrator{
		Store:            store,
		CatalogClient:    catalogClient,
		LabelCache:       labelCache,
		Oracle:           oracleClient,
		RubricDir:        rubricDir,
		FixLabels:        cfg.FixTags,
		DefaultBatchSize: cfg.BatchSize,
		Logger:           logger,
	}

	mailer := notify.Client{
		Server:   cfg.SMTP.Server,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
		UseSSL:   cfg.SMTP.UseSSL,
		Timeout:  30 * time.Second,
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		lock:          lock,
		store:         store,
		lc:            lifecycle.New(),
		orch:          orch,
		mailer:        mailer,
		rubricDir:     rubricDir,
		stateDir:      stateDir,
		catalogClient: catalogClient,
		completer:     completer,
	}, nil
}

func (a *app) Close() {
	if err := a.lock.Release(); err != nil {
		a.logger.Warn("failed to release state directory lock", "error", err)
	}
}

// HealthCheck runs the health probe and returns whether every check passed.
func (a *app) HealthCheck() bool {
	report := health.Run(context.Background(), a.catalogClient, a.completer, a.rubricDir)
	for _, c := range report.Checks {
		if c.OK {
			a.logger.Info("health check passed", "check", c.Name)
		} else {
			a.logger.Error("health check failed", "check", c.Name, "error", c.Err)
		}
	}
	return report.Healthy()
}

// DumpConfig prints the resolved, non-secret configuration.
func (a *app) DumpConfig(w io.Writer) {
	fmt.Fprintf(w, "radarr_url: %s\n", a.cfg.RadarrURL)
	fmt.Fprintf(w, "claude_model: %s\n", a.cfg.ClaudeModel)
	fmt.Fprintf(w, "debug_logging: %v\n", a.cfg.DebugLogging)
	fmt.Fprintf(w, "schedule_interval: %s\n", a.cfg.ScheduleInterval)
	fmt.Fprintf(w, "schedule_start_time: %s\n", a.cfg.ScheduleStartTime)
	fmt.Fprintf(w, "timezone: %s\n", a.cfg.TimeZone)
	fmt.Fprintf(w, "batch_size: %d\n", a.cfg.BatchSize)
	fmt.Fprintf(w, "fix_tags: %v\n", a.cfg.FixTags)
	fmt.Fprintf(w, "rubric_dir: %s\n", a.rubricDir)
	fmt.Fprintf(w, "state_dir: %s\n", a.stateDir)
	fmt.Fprintf(w, "notification_recipients: %v\n", a.cfg.Notification.Recipients)
}

// DumpState loads and prints the decision store document as JSON.
func (a *app) DumpState(w io.Writer) error {
	if err := a.store.Load(); err != nil {
		return err
	}
	dump, err := a.store.Dump()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, dump)
	return err
}

// ResetState clears the decision store.
func (a *app) ResetState() error {
	return a.store.Reset()
}

// RunOnce executes one orchestrator pass immediately and, if configured,
// emails the resulting report.
func (a *app) RunOnce(opts runOptions) error {
	ctx := a.lc.Context()
	summary, err := a.orch.Run(ctx, opts.toOrchestrator())
	a.notifyIfConfigured(summary, "")
	if err != nil {
		return err
	}
	return nil
}

// RunScheduled blocks, driving the orchestrator at every scheduler
// activation until the process receives a termination signal.
func (a *app) RunScheduled(opts runOptions) {
	loc, err := a.cfg.Location()
	if err != nil {
		a.logger.Error("invalid timezone, defaulting to UTC", "error", err)
		loc = time.UTC
	}
	startTime, err := a.cfg.StartTime()
	if err != nil {
		a.logger.Error("invalid schedule start time, defaulting to 03:00", "error", err)
		startTime = [2]int{3, 0}
	}
	interval, err := a.cfg.IntervalDuration()
	if err != nil {
		a.logger.Error("invalid schedule interval, defaulting to 24h", "error", err)
		interval = 24 * time.Hour
	}

	loop := &scheduler.Loop{
		Location: loc,
		Hour:     startTime[0],
		Minute:   startTime[1],
		Interval: interval,
		Logger:   a.logger,
		Run: func(ctx context.Context) error {
			summary, err := a.orch.Run(ctx, opts.toOrchestrator())
			next := scheduler.NextActivation(time.Now(), loc, startTime[0], startTime[1], interval)
			a.notifyIfConfigured(summary, next.Format("2006-01-02 15:04:05 MST"))
			return err
		},
	}

	setupSignalHandling(a.lc, a.logger)
	loop.Start(a.lc.Context())
	a.lc.MarkDone()
}

func (a *app) notifyIfConfigured(summary orchestrator.RunSummary, nextActivation string) {
	if len(a.cfg.Notification.Recipients) == 0 {
		return
	}
	if !report.ShouldNotify(summary, a.cfg.Notification.OnNoChanges, a.cfg.Notification.OnErrorsOnly) {
		return
	}

	body := report.Format(summary, nextActivation)
	from := a.cfg.Notification.From
	if from == "" {
		from = a.cfg.SMTP.Username
	}
	if err := a.mailer.Send(from, a.cfg.Notification.Recipients, "Kometa-AI Summary", body, a.cfg.Notification.ReplyTo); err != nil {
		a.logger.Error("failed to send report email", "error", err)
	}
}
