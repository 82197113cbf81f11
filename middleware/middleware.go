// Package middleware provides composable execution middleware for job
// handlers. Middleware wraps the handler invocation and can observe or
// alter the job context, short-circuit execution, or record telemetry.
package middleware

import (
	"context"

	"github.com/ordersync/conveyor/job"
)

// Handler executes a job and returns its result.
type Handler func(ctx context.Context, j *job.Job) (*job.Result, error)

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// Chain composes middlewares around a handler. The first middleware in
// the list is the outermost: Chain(h, a, b, c) runs a(b(c(h))).
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
