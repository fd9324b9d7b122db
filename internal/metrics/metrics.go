package metrics

import (
	"sort"
	"sync"
)

// Event counter names.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	ConnectsRejected    = "connects_rejected"
	RoomFull            = "room_full"

	MessagesReceived     = "messages_received"
	MessagesMalformed    = "messages_malformed"
	MessagesCodeMismatch = "messages_code_mismatch"
	MessagesUnknownType  = "messages_unknown_type"
	MessagesTooLarge     = "messages_too_large"
	MessagesRateLimited  = "messages_rate_limited"

	JoinAcksSent     = "join_acks_sent"
	MessagesRelayed  = "messages_relayed"
	DeliveriesOK     = "deliveries_ok"
	DeliveriesFailed = "deliveries_failed"
	MembersEvicted   = "members_evicted"

	IdleTimeouts = "idle_timeouts"
	WriteErrors  = "write_errors"
)

// Metrics is a concurrency-safe registry of event counters and sampled
// gauges.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]func() int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]func() int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil || delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// RegisterGauge exposes fn as a gauge sampled at scrape time. Registering the
// same name again replaces the previous function.
func (m *Metrics) RegisterGauge(name string, fn func() int64) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = fn
	m.mu.Unlock()
}

type gaugeSample struct {
	name  string
	value int64
}

// gaugeSnapshot samples every gauge, sorted by name. The gauge functions run
// without m.mu held so they may take their own locks.
func (m *Metrics) gaugeSnapshot() []gaugeSample {
	m.mu.Lock()
	fns := make(map[string]func() int64, len(m.gauges))
	for k, fn := range m.gauges {
		fns[k] = fn
	}
	m.mu.Unlock()

	out := make([]gaugeSample, 0, len(fns))
	for name, fn := range fns {
		out = append(out, gaugeSample{name: name, value: fn()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
