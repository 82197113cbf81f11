// Package dlq implements the dead letter queue: terminal storage for
// jobs that exhausted their retries or hit a non-retriable error. Dead
// lettered jobs keep their full payload and failure context so operators
// can inspect them and replay them as fresh jobs after fixing the
// underlying cause.
package dlq
