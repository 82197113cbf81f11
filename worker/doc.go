// Package worker implements the job processing loop: a pool of workers,
// each executing at most one job at a time, polling queues in a weighted
// rotation and running handlers under a hard execution deadline.
//
// A worker moves through a small lifecycle: starting, running, paused,
// stopping, stopped, with failed as the terminal error state. Paused
// workers finish their in-flight job but claim no new work until
// resumed. Shutdown is graceful up to the configured timeout, after
// which in-flight jobs are cancelled.
package worker
