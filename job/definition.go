package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique discriminator for this kind of job.
	Type string

	// Handler processes the decoded payload and reports the outcome.
	Handler func(ctx context.Context, payload T) (*Result, error)

	// Opts configures queue, priority, retries, and timeout.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) (*Result, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
