package queue_test

import (
	"testing"

	"github.com/ordersync/conveyor/queue"
)

func TestManager_AdmitUnconfiguredQueue(t *testing.T) {
	m := queue.NewManager()
	if got := m.Admit("anything", 1_000_000); got != queue.Admit {
		t.Errorf("Admit(unconfigured) = %v, want Admit", got)
	}
}

func TestManager_AdmitUnboundedQueue(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "emails"})
	if got := m.Admit("emails", 1_000_000); got != queue.Admit {
		t.Errorf("Admit(unbounded) = %v, want Admit", got)
	}
}

func TestManager_AdmitUnderDepth(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "emails", MaxDepth: 10, Strategy: queue.OverflowDropNewest})
	if got := m.Admit("emails", 9); got != queue.Admit {
		t.Errorf("Admit(depth 9 of 10) = %v, want Admit", got)
	}
}

func TestManager_OverflowStrategies(t *testing.T) {
	tests := []struct {
		strategy queue.Overflow
		want     queue.Decision
	}{
		{queue.OverflowDropNewest, queue.Reject},
		{queue.OverflowDropOldest, queue.EvictOldest},
		{queue.OverflowBlock, queue.Wait},
		{"", queue.Wait}, // empty defaults to block
	}
	for _, tt := range tests {
		m := queue.NewManager(queue.Config{Name: "q", MaxDepth: 5, Strategy: tt.strategy})
		if got := m.Admit("q", 5); got != tt.want {
			t.Errorf("strategy %q at capacity: Admit() = %v, want %v", tt.strategy, got, tt.want)
		}
	}
}

func TestManager_AcquireConcurrencyCap(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 2})

	if !m.Acquire("q") || !m.Acquire("q") {
		t.Fatal("first two Acquire() = false, want true")
	}
	if m.Acquire("q") {
		t.Error("third Acquire() = true, want false (cap 2)")
	}

	m.Release("q")
	if !m.Acquire("q") {
		t.Error("Acquire() after Release() = false, want true")
	}
	if got := m.ActiveCount("q"); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}
}

func TestManager_AcquireRateLimit(t *testing.T) {
	// 1 job/sec, burst 1: first acquire passes, second is throttled.
	m := queue.NewManager(queue.Config{Name: "q", RateLimit: 1, RateBurst: 1})

	if !m.Acquire("q") {
		t.Fatal("first Acquire() = false, want true")
	}
	if m.Acquire("q") {
		t.Error("second immediate Acquire() = true, want false (rate limited)")
	}
}

func TestManager_AcquireUnconfigured(t *testing.T) {
	m := queue.NewManager()
	if !m.Acquire("anything") {
		t.Error("Acquire(unconfigured) = false, want true")
	}
	// Release on unconfigured queues must not panic.
	m.Release("anything")
}

func TestManager_SetQueueConfigPreservesActive(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 5})
	m.Acquire("q")
	m.Acquire("q")

	m.SetQueueConfig(queue.Config{Name: "q", MaxConcurrency: 2})
	if got := m.ActiveCount("q"); got != 2 {
		t.Errorf("ActiveCount() after reconfigure = %d, want 2", got)
	}
	if m.Acquire("q") {
		t.Error("Acquire() = true, want false (new cap 2 already active)")
	}
}

func TestManager_RotationWeights(t *testing.T) {
	m := queue.NewManager(
		queue.Config{Name: "critical", Weight: 3},
		queue.Config{Name: "bulk", Weight: 1},
	)

	rotation := m.Rotation([]string{"critical", "bulk"})
	if len(rotation) != 4 {
		t.Fatalf("rotation len = %d, want 4", len(rotation))
	}

	counts := map[string]int{}
	for _, q := range rotation {
		counts[q]++
	}
	if counts["critical"] != 3 || counts["bulk"] != 1 {
		t.Errorf("rotation counts = %v, want critical:3 bulk:1", counts)
	}
}

func TestManager_RotationInterleaves(t *testing.T) {
	m := queue.NewManager(
		queue.Config{Name: "a", Weight: 3},
		queue.Config{Name: "b", Weight: 2},
	)

	rotation := m.Rotation([]string{"a", "b"})
	want := []string{"a", "b", "a", "b", "a"}
	if len(rotation) != len(want) {
		t.Fatalf("rotation = %v, want %v", rotation, want)
	}
	for i := range want {
		if rotation[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", rotation, want)
		}
	}
}

func TestManager_RotationUnconfiguredGetsWeightOne(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "heavy", Weight: 5})

	rotation := m.Rotation([]string{"heavy", "stray"})
	counts := map[string]int{}
	for _, q := range rotation {
		counts[q]++
	}
	if counts["stray"] != 1 {
		t.Errorf("unconfigured queue appears %d times, want 1 (starvation bound)", counts["stray"])
	}
	if counts["heavy"] != 5 {
		t.Errorf("heavy queue appears %d times, want 5", counts["heavy"])
	}
}
