package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ordersync/conveyor"
	"github.com/ordersync/conveyor/id"
	"github.com/ordersync/conveyor/job"
	"github.com/ordersync/conveyor/middleware"
)

func testJob() *job.Job {
	return &job.Job{
		Entity: conveyor.NewEntity(),
		ID:     id.NewJobID(),
		Type:   "test",
		Queue:  "default",
		Status: job.StatusRunning,
	}
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	mw := func(name string) middleware.Middleware {
		return func(next middleware.Handler) middleware.Handler {
			return func(ctx context.Context, j *job.Job) (*job.Result, error) {
				order = append(order, name+":before")
				res, err := next(ctx, j)
				order = append(order, name+":after")
				return res, err
			}
		}
	}

	h := middleware.Chain(
		func(_ context.Context, _ *job.Job) (*job.Result, error) {
			order = append(order, "handler")
			return job.OK(), nil
		},
		mw("a"), mw("b"),
	)

	if _, err := h(context.Background(), testJob()); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	want := []string{"a:before", "b:before", "handler", "b:after", "a:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_EmptyReturnsHandler(t *testing.T) {
	called := false
	h := middleware.Chain(func(_ context.Context, _ *job.Job) (*job.Result, error) {
		called = true
		return job.OK(), nil
	})
	if _, err := h(context.Background(), testJob()); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Error("handler not called")
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := middleware.Chain(
		func(_ context.Context, _ *job.Job) (*job.Result, error) {
			panic("handler exploded")
		},
		middleware.Recover(logger),
	)

	res, err := h(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error from panic, got nil")
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}

	var cerr *conveyor.Error
	if !errors.As(err, &cerr) || cerr.Kind != conveyor.KindExecution {
		t.Errorf("error = %v, want execution-kind conveyor.Error", err)
	}
}

func TestRecover_PassesThroughNormalResults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := middleware.Chain(
		func(_ context.Context, _ *job.Job) (*job.Result, error) {
			return job.OKWithOutput([]byte(`{"sent":true}`)), nil
		},
		middleware.Recover(logger),
	)

	res, err := h(context.Background(), testJob())
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.Success || string(res.Output) != `{"sent":true}` {
		t.Errorf("result = %+v, want success with output", res)
	}
}

func TestLogging_PropagatesErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("boom")
	h := middleware.Chain(
		func(_ context.Context, _ *job.Job) (*job.Result, error) {
			return nil, boom
		},
		middleware.Logging(logger),
	)

	if _, err := h(context.Background(), testJob()); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}
