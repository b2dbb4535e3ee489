package node

import (
	"time"

	"github.com/horus-robotics/horus/metrics"
)

// Context is the per-node handle passed into a node's lifecycle methods. It
// is created by the scheduler before Init and is side-effecting only: every
// method appends to the shared LogBuffer and/or updates this node's own
// NodeMetrics. It satisfies hub.EventSink structurally, so a node's typed
// Hub endpoints can be driven with a *Context directly.
type Context struct {
	name      string
	metrics   *metrics.NodeMetrics
	log       *metrics.LogBuffer
	startedAt time.Time
}

// NewContext constructs a Context for node name, backed by the given
// per-node metrics record and the process-wide log buffer.
func NewContext(name string, m *metrics.NodeMetrics, log *metrics.LogBuffer) *Context {
	return &Context{name: name, metrics: m, log: log, startedAt: time.Now()}
}

// Name returns the owning node's name.
func (c *Context) Name() string { return c.name }

// Metrics returns a read-only snapshot of this node's metrics.
func (c *Context) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot()
}

// LogInfo appends an info-level record naming this node.
func (c *Context) LogInfo(message string) { c.log.Write(c.name, metrics.LevelInfo, message) }

// LogWarn appends a warn-level record naming this node.
func (c *Context) LogWarn(message string) { c.log.Write(c.name, metrics.LevelWarn, message) }

// LogError appends an error-level record naming this node and increments
// errors_count.
func (c *Context) LogError(message string) {
	c.metrics.RecordError()
	c.log.Write(c.name, metrics.LevelError, message)
}

// LogPub implements hub.EventSink: called from inside an Endpoint's Send
// when a context is passed. It records a pub-event and increments this
// node's messages_sent.
func (c *Context) LogPub(topic string, bytes int, ipcDuration time.Duration) {
	c.metrics.RecordMessageSent()
	c.log.Write(c.name, metrics.LevelPubEvent, pubSubMessage(topic, bytes, ipcDuration))
}

// LogSub implements hub.EventSink: called from inside an Endpoint's Recv
// when a context is passed. It records a sub-event and increments this
// node's messages_received.
func (c *Context) LogSub(topic string, bytes int, ipcDuration time.Duration) {
	c.metrics.RecordMessageReceived()
	c.log.Write(c.name, metrics.LevelSubEvent, pubSubMessage(topic, bytes, ipcDuration))
}

// LogDropped implements hub.EventSink: called when an Endpoint's Recv
// detects its cursor was lapped. It increments dropped_messages and emits a
// warning record.
func (c *Context) LogDropped(topic string, count uint64) {
	c.metrics.RecordDropped(count)
	c.log.Write(c.name, metrics.LevelWarn, droppedMessage(topic, count))
}
