// Package engine wires the conveyor subsystems together: registry,
// queue gates, worker pool, dead letter service, and scheduler, all
// sharing one store. Build an Engine from a configured Conveyor, then
// register job definitions and start it.
package engine

import (
	"context"
	"sync"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/dlq"
	"github.com/ordersync/conveyor/ext"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/middleware"
	"github.com/ordersync/conveyor/queue"
	"github.com/ordersync/conveyor/retry"
	"github.com/ordersync/conveyor/scheduler"
	"github.com/ordersync/conveyor/store"
	"github.com/ordersync/conveyor/worker"
)

// Engine is the assembled job processing system.
type Engine struct {
	conveyor    *conveyor.Conveyor
	cfg         conveyor.Config
	store       store.Store
	registry    *job.Registry
	gates       *queue.Manager
	hooks       *ext.Registry
	pool        *worker.Pool
	deadLetters *dlq.Service
	scheduler   *scheduler.Scheduler
	policy      retry.Policy

	mu   sync.RWMutex
	defs map[string]job.Options
}

// Option configures engine assembly.
type Option func(*buildOpts)

type buildOpts struct {
	policy      retry.Policy
	middlewares []middleware.Middleware
	extensions  []ext.Extension
	observe     bool
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *buildOpts) { o.policy = p }
}

// WithMiddleware appends execution middleware inside the default
// recover and logging layers.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *buildOpts) { o.middlewares = append(o.middlewares, mws...) }
}

// WithExtensions registers lifecycle extensions.
func WithExtensions(exts ...ext.Extension) Option {
	return func(o *buildOpts) { o.extensions = append(o.extensions, exts...) }
}

// WithObservability adds OpenTelemetry tracing and metrics middleware.
func WithObservability() Option {
	return func(o *buildOpts) { o.observe = true }
}

// Build assembles an Engine on the Conveyor's store and configuration.
// The Conveyor's store must implement the full store.Store contract.
func Build(c *conveyor.Conveyor, opts ...Option) (*Engine, error) {
	backend, ok := c.Store().(store.Store)
	if !ok {
		return nil, conveyor.ErrNoStore
	}

	var bo buildOpts
	for _, opt := range opts {
		opt(&bo)
	}

	cfg := c.Config()
	logger := c.Logger()

	policy := bo.policy
	if policy == nil {
		policy = retry.NewExponential(
			cfg.Retry.InitialDelay, cfg.Retry.MaxDelay,
			cfg.Retry.Multiplier, cfg.Retry.Jitter,
		)
	}

	gates := queue.NewManager(queueConfigs(cfg)...)

	hooks := ext.NewRegistry(logger)
	for _, e := range bo.extensions {
		hooks.Register(e)
	}

	registry := job.NewRegistry()
	deadLetters := dlq.NewService(backend, backend, hooks, logger, cfg.DeadLetter)

	mws := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Logging(logger),
	}
	if bo.observe {
		mws = append(mws, middleware.Tracing(), middleware.Metrics())
	}
	mws = append(mws, bo.middlewares...)

	executor := worker.NewExecutor(
		backend, registry, policy, deadLetters, hooks, logger,
		cfg.DefaultTimeout, mws...,
	)
	pool := worker.NewPool(cfg, backend, executor, gates, logger)
	sched := scheduler.New(backend, deadLetters, logger, cfg.DueCheckInterval)

	e := &Engine{
		conveyor:    c,
		cfg:         cfg,
		store:       backend,
		registry:    registry,
		gates:       gates,
		hooks:       hooks,
		pool:        pool,
		deadLetters: deadLetters,
		scheduler:   sched,
		policy:      policy,
		defs:        make(map[string]job.Options),
	}

	c.SetPool(&runner{pool: pool, scheduler: sched})
	c.SetHooks(hooks)
	return e, nil
}

// runner adapts pool plus scheduler to the Conveyor's lifecycle.
type runner struct {
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
}

func (r *runner) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.scheduler.Start()
	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	r.scheduler.Stop()
	return r.pool.Stop(ctx)
}

func queueConfigs(cfg conveyor.Config) []queue.Config {
	configs := make([]queue.Config, 0, len(cfg.Queues))
	for _, qs := range cfg.Queues {
		configs = append(configs, queue.Config{
			Name:           qs.Name,
			Weight:         qs.Weight,
			MaxDepth:       qs.MaxDepth,
			Strategy:       queue.Overflow(qs.Overflow),
			RateLimit:      qs.RateLimit,
			RateBurst:      qs.RateBurst,
			MaxConcurrency: qs.MaxConcurrency,
		})
	}
	return configs
}

// Register adds a typed job definition to the engine. Its options
// become the per-type defaults for Enqueue.
//
// Package-level because Go does not allow generic methods.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
	e.mu.Lock()
	e.defs[def.Type] = def.Opts
	e.mu.Unlock()
}

// Start migrates the store and begins processing.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}
	return e.conveyor.Start(ctx)
}

// Stop gracefully shuts the engine down: scheduler, pool, hooks, store.
func (e *Engine) Stop(ctx context.Context) error {
	return e.conveyor.Stop(ctx)
}

// Registry returns the job type registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Pool returns the worker pool.
func (e *Engine) Pool() *worker.Pool { return e.pool }

// DeadLetters returns the dead letter service.
func (e *Engine) DeadLetters() *dlq.Service { return e.deadLetters }

// Queues returns the queue admission manager.
func (e *Engine) Queues() *queue.Manager { return e.gates }

// Scheduler returns the due-check scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Store returns the persistence backend.
func (e *Engine) Store() store.Store { return e.store }

// typeOptions returns the registered defaults for a job type, or the
// package defaults when the type is unknown. Tags and Metadata are
// copied so call-site options never mutate the registered definition.
func (e *Engine) typeOptions(jobType string) job.Options {
	e.mu.RLock()
	opts, ok := e.defs[jobType]
	e.mu.RUnlock()
	if !ok {
		return job.DefaultOptions()
	}

	if len(opts.Tags) > 0 {
		opts.Tags = append([]string(nil), opts.Tags...)
	}
	if len(opts.Metadata) > 0 {
		md := make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			md[k] = v
		}
		opts.Metadata = md
	}
	return opts
}
