// Package metrics implements the per-node counters and the process-wide
// log buffer described in design §3 ("NodeMetrics", "LogBuffer") and §4.7.
package metrics

import (
	"sync/atomic"
	"time"
)

// NodeMetrics holds one node's counters. All mutating methods are meant to
// be called only from the owning node's tick path (design §4.7: "Metrics
// updates from tick path are unsynchronized writes to the node's own
// NodeMetrics (single writer)"); Snapshot may be called concurrently by the
// heartbeat writer or an external dump, and uses atomic loads so those
// reads never tear, even though the spec only requires they be
// stale-tolerant.
type NodeMetrics struct {
	startedAt time.Time

	totalTicks   atomic.Uint64
	tickDurSum   atomic.Uint64 // nanoseconds, for computing the mean
	tickDurMax   atomic.Uint64 // nanoseconds
	messagesSent atomic.Uint64
	messagesRecv atomic.Uint64
	dropped      atomic.Uint64
	errorsCount  atomic.Uint64
}

// NewNodeMetrics returns a metrics record with its uptime clock started
// now.
func NewNodeMetrics() *NodeMetrics {
	return &NodeMetrics{startedAt: time.Now()}
}

// RecordTick folds one tick's duration into total_ticks and the rolling
// mean/max tick duration.
func (m *NodeMetrics) RecordTick(d time.Duration) {
	m.totalTicks.Add(1)
	m.tickDurSum.Add(uint64(d))
	for {
		cur := m.tickDurMax.Load()
		if uint64(d) <= cur {
			break
		}
		if m.tickDurMax.CompareAndSwap(cur, uint64(d)) {
			break
		}
	}
}

// RecordMessageSent increments messages_sent.
func (m *NodeMetrics) RecordMessageSent() { m.messagesSent.Add(1) }

// RecordMessageReceived increments messages_received.
func (m *NodeMetrics) RecordMessageReceived() { m.messagesRecv.Add(1) }

// RecordDropped adds n (a lap distance) to dropped_messages.
func (m *NodeMetrics) RecordDropped(n uint64) { m.dropped.Add(n) }

// RecordError increments errors_count.
func (m *NodeMetrics) RecordError() { m.errorsCount.Add(1) }

// Snapshot is a point-in-time, read-only copy of a NodeMetrics.
type Snapshot struct {
	TotalTicks       uint64
	MeanTickDuration time.Duration
	MaxTickDuration  time.Duration
	MessagesSent     uint64
	MessagesReceived uint64
	DroppedMessages  uint64
	ErrorsCount      uint64
	Uptime           time.Duration
}

// Snapshot reads every counter with relaxed/atomic semantics. Stale reads
// relative to an in-flight RecordTick are acceptable (design §4.7).
func (m *NodeMetrics) Snapshot() Snapshot {
	total := m.totalTicks.Load()
	var mean time.Duration
	if total > 0 {
		mean = time.Duration(m.tickDurSum.Load() / total)
	}
	return Snapshot{
		TotalTicks:       total,
		MeanTickDuration: mean,
		MaxTickDuration:  time.Duration(m.tickDurMax.Load()),
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesRecv.Load(),
		DroppedMessages:  m.dropped.Load(),
		ErrorsCount:      m.errorsCount.Load(),
		Uptime:           time.Since(m.startedAt),
	}
}
