package worker

import "sync/atomic"

// Stats tracks per-worker execution counters. All methods are safe for
// concurrent use.
type Stats struct {
	processed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	cancelled  atomic.Int64
	deadLetter atomic.Int64
}

// Snapshot is a point-in-time copy of worker counters.
type Snapshot struct {
	Processed    int64   `json:"processed"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	TimedOut     int64   `json:"timed_out"`
	Cancelled    int64   `json:"cancelled"`
	DeadLettered int64   `json:"dead_lettered"`
	SuccessRate  float64 `json:"success_rate"`
}

func (s *Stats) recordSuccess() {
	s.processed.Add(1)
	s.succeeded.Add(1)
}

func (s *Stats) recordFailure() {
	s.processed.Add(1)
	s.failed.Add(1)
}

func (s *Stats) recordTimeout() {
	s.processed.Add(1)
	s.timedOut.Add(1)
}

func (s *Stats) recordCancel() {
	s.processed.Add(1)
	s.cancelled.Add(1)
}

func (s *Stats) recordDeadLetter() {
	s.deadLetter.Add(1)
}

// Snapshot returns a consistent-enough copy of the counters. Individual
// loads are atomic; the set is not, which is fine for monitoring.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Processed:    s.processed.Load(),
		Succeeded:    s.succeeded.Load(),
		Failed:       s.failed.Load(),
		TimedOut:     s.timedOut.Load(),
		Cancelled:    s.cancelled.Load(),
		DeadLettered: s.deadLetter.Load(),
	}
	if snap.Processed > 0 {
		snap.SuccessRate = float64(snap.Succeeded) / float64(snap.Processed)
	}
	return snap
}

// merge adds another snapshot into this one and recomputes the rate.
func (s *Snapshot) merge(other Snapshot) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.TimedOut += other.TimedOut
	s.Cancelled += other.Cancelled
	s.DeadLettered += other.DeadLettered
	if s.Processed > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Processed)
	}
}
