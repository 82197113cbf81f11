// Package conveyor provides the background job processing engine for the
// ordersync commerce platform. It executes deferred and retryable units of
// work — webhook delivery, dunning retries, notification dispatch,
// inventory cleanup — under bounded concurrency with failure isolation.
//
// Conveyor is a library, not a service. Import it, configure a store, and
// register handlers as ordinary Go functions.
//
// # Quick Start
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithWorkerCount(8),
//	)
//
// # Architecture
//
// Producers enqueue jobs through the engine, which applies per-queue
// admission control (depth limits, overflow strategy, rate limits). A pool
// of workers claims jobs via atomic dequeue, executes each handler under a
// hard deadline, and on failure consults the retry policy to either
// reschedule the job with backoff or route it to the dead letter queue.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conveyor
