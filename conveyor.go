package conveyor

import (
	"context"
	"log/slog"
)

// Option configures a Conveyor.
type Option func(*Conveyor) error

// Storer is the minimal store interface held by the Conveyor. It covers
// lifecycle operations only; the subsystem layers use the full composite
// interface (store.Store) which embeds the job and dlq contracts.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle hook shutdown.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conveyor is the central coordinator for job processing. Create one with
// New() and functional options, then use engine.Build to wire the
// subsystems together. The Conveyor holds subsystem components via
// internal interfaces to avoid import cycles.
type Conveyor struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	started bool
}

// New creates a Conveyor with the given options.
func New(opts ...Option) (*Conveyor, error) {
	c := &Conveyor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conveyor's logger.
func (c *Conveyor) Logger() *slog.Logger { return c.logger }

// Store returns the conveyor's store.
func (c *Conveyor) Store() Storer { return c.store }

// Config returns a copy of the conveyor's configuration.
func (c *Conveyor) Config() Config { return c.config }

// SetPool sets the worker pool (called by the engine layer).
func (c *Conveyor) SetPool(p poolRunner) { c.pool = p }

// SetHooks sets the lifecycle hook emitter (called by the engine layer).
func (c *Conveyor) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing.
func (c *Conveyor) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the conveyor.
func (c *Conveyor) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conveyor) error {
		c.config = cfg
		return nil
	}
}

// WithWorkerCount sets the number of worker loops.
func WithWorkerCount(n int) Option {
	return func(c *Conveyor) error {
		c.config.WorkerCount = n
		return nil
	}
}

// WithQueueSettings registers per-queue admission configurations.
func WithQueueSettings(qs ...QueueSettings) Option {
	return func(c *Conveyor) error {
		c.config.Queues = append(c.config.Queues, qs...)
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conveyor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; typically it is a store.Store which embeds the
// job and dlq store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conveyor) error {
		c.store = s
		return nil
	}
}
