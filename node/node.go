// Package node defines the node contract (design §4.5) and the
// per-node Context (design §4.4, "NodeContext") that the scheduler hands
// to a node's lifecycle methods.
package node

// Node is anything the Scheduler can drive through init, repeated tick,
// and shutdown. Name must be a stable static identifier used in logs,
// metrics, and heartbeats.
type Node interface {
	Name() string

	// Init is called exactly once, before the first Tick. If it returns an
	// error, the scheduler records the failure, excludes this node from
	// every subsequent Tick, and continues with other nodes.
	Init(ctx *Context) error

	// Tick is called on every scheduling cycle, in priority order. It must
	// not return an error: recoverable faults are logged through ctx (which
	// is nil if the node was registered with logging disabled), and it must
	// return promptly. Long work is the node's own responsibility to chunk.
	Tick(ctx *Context)

	// Shutdown is called exactly once after the last Tick, regardless of
	// whether Init succeeded, provided the node was registered. A returned
	// error is logged but never blocks other nodes' shutdown.
	Shutdown(ctx *Context) error
}

// TopicInfo is purely informational metadata about a topic a node intends
// to use, for introspection.
type TopicInfo struct {
	Topic string
}

// PublisherLister is an optional Node extension reporting the topics a node
// intends to publish to.
type PublisherLister interface {
	Publishers() []TopicInfo
}

// SubscriberLister is an optional Node extension reporting the topics a
// node intends to subscribe to.
type SubscriberLister interface {
	Subscribers() []TopicInfo
}
