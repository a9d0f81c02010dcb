package main

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/llm"
	"github.com/ShayCichocki/conductor/internal/logging"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/internal/templates"
	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/internal/workflow"
)

// appOptions selects the optional parts of the stack.
type appOptions struct {
	// gate wraps workers in the approval gate from the config policy.
	gate bool
	// events attaches an emitter of the given buffer size (0 = none).
	events int
	// watch reloads templates on change while ctx lives.
	watch bool
}

// app is the assembled runtime: config, model client, workers, planner,
// checkpoint store, engine and approval queue.
type app struct {
	cfg       *config.Config
	logger    *logging.DebugLogger
	client    *llm.Client
	workers   *workers.Registry
	templates *templates.Registry
	planner   *workflow.Planner
	db        *state.DB
	approvals *approval.Manager
	events    *workflow.EventEmitter
	engine    *workflow.Engine
}

// newLLMClient creates the model client from config.
func newLLMClient(cfg *config.Config) (*llm.Client, error) {
	apiKey, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(llm.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}

// openStore opens and migrates the checkpoint database. An empty path
// disables persistence and returns nil.
func openStore(cfg *config.Config) (*state.DB, error) {
	if cfg.State.Path == "" {
		return nil, nil
	}
	db, err := state.OpenWithDriver(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// newApp wires the stack from cfg.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger, err := logging.NewDebugLogger(cfg.Log.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.client, err = newLLMClient(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create model client: %w", err)
	}

	a.approvals = approval.NewManager(
		approval.WithDefaultTimeout(cfg.Approval.DefaultTimeout),
		approval.WithDebugLog(logger.Logf()),
	)

	a.workers = workers.DefaultRegistry(a.client)
	policy := workers.GatePolicy{
		Workers:  cfg.Approval.GatedWorkers,
		Patterns: cfg.Approval.SensitivePatterns,
	}
	if opts.gate && !policy.Empty() {
		a.workers.Wrap(func(w workers.Worker) workers.Worker {
			g := workers.NewGated(w, a.approvals, policy, cfg.Approval.WaitTimeout)
			g.SetDebugLog(logger.Logf())
			return g
		})
	}

	a.templates, err = templates.Load(cfg.Workflow.TemplatesDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}
	a.templates.SetDebugLog(logger.Logf())
	if opts.watch {
		if err := a.templates.Watch(ctx, nil); err != nil {
			logger.Log("[templates] watch disabled: %v", err)
		}
	}

	plannerCaller := a.client
	if cfg.Workflow.PlannerModel != "" {
		plannerCaller = a.client.WithModel(cfg.Workflow.PlannerModel)
	}
	a.planner = workflow.NewPlanner(plannerCaller, a.templates, a.workers)
	a.planner.SetDebugLog(logger.Logf())

	a.db, err = openStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := []workflow.Option{
		workflow.WithMaxParallel(cfg.Workflow.MaxParallel),
		workflow.WithDebugLog(logger.Logf()),
	}
	if a.db != nil {
		engineOpts = append(engineOpts, workflow.WithCheckpointer(a.db))
	}
	if opts.events > 0 {
		a.events = workflow.NewEventEmitter(opts.events)
		engineOpts = append(engineOpts, workflow.WithEvents(a.events))
	}
	a.engine = workflow.NewEngine(workflow.RequiredConfig{
		Planner: a.planner,
		Workers: a.workers,
	}, engineOpts...)

	return a, nil
}

// Close releases the database and the debug log.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Log("[app] close database: %v", err)
		}
	}
	a.logger.Close()
}
