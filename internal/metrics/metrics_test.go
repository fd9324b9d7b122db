package metrics

import (
	"sync"
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Inc(MessagesRelayed)
	m.Add(MessagesRelayed, 4)
	m.Add(DeliveriesFailed, 0)

	if got := m.Get(MessagesRelayed); got != 5 {
		t.Fatalf("%s=%d, want 5", MessagesRelayed, got)
	}
	snap := m.Snapshot()
	if _, ok := snap[DeliveriesFailed]; ok {
		t.Fatalf("zero delta should not create a counter")
	}

	// Snapshot is a copy.
	snap[MessagesRelayed] = 100
	if got := m.Get(MessagesRelayed); got != 5 {
		t.Fatalf("snapshot mutation leaked into registry: %d", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc("x")
	m.RegisterGauge("g", func() int64 { return 1 })
	if m.Get("x") != 0 || len(m.Snapshot()) != 0 {
		t.Fatalf("nil metrics should read as empty")
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MessagesReceived)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(MessagesReceived); got != 8000 {
		t.Fatalf("%s=%d, want 8000", MessagesReceived, got)
	}
}
