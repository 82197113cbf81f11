// Package queue implements admission control for named job queues:
// depth limits with overflow strategies, token-bucket rate limiting,
// per-queue concurrency caps, and the weighted polling rotation that
// bounds starvation of low-priority queues.
//
// Admission (depth/overflow) is evaluated only at enqueue time, never at
// dequeue. Rate and concurrency gates are evaluated by workers before
// each claim attempt: a claim increments the job's attempt counter, so
// the gate has to precede the poll rather than follow it. A gated poll
// of an empty queue does consume a rate token; the limit bounds claim
// attempts, not completed executions.
package queue
