package main

import (
	"fmt"
	"time"

	"github.com/horus-robotics/horus/hub"
	"github.com/horus-robotics/horus/node"
)

// sink converts a possibly-nil *node.Context into a possibly-nil
// hub.EventSink: passing a nil *node.Context straight through as an
// interface value would produce a non-nil interface holding a nil pointer,
// which Endpoint.Send/Recv would then dereference.
func sink(ctx *node.Context) hub.EventSink {
	if ctx == nil {
		return nil
	}
	return ctx
}

// tickSample is the fixed-layout payload published by the ticker node and
// consumed by the watcher node: a monotonically increasing sequence number
// and the publisher's timestamp.
type tickSample struct {
	Seq       uint64
	EmittedAt int64 // UnixNano
}

// tickerNode publishes one tickSample per scheduling cycle on "ticks".
type tickerNode struct {
	out *hub.Endpoint[tickSample]
	seq uint64
}

func newTickerNode() *tickerNode {
	return &tickerNode{}
}

func (n *tickerNode) Name() string { return "ticker" }

func (n *tickerNode) Init(ctx *node.Context) error {
	out, err := hub.Open[tickSample]("ticks")
	if err != nil {
		return fmt.Errorf("ticker: open topic: %w", err)
	}
	n.out = out
	return nil
}

func (n *tickerNode) Tick(ctx *node.Context) {
	n.seq++
	sample := tickSample{Seq: n.seq, EmittedAt: time.Now().UnixNano()}
	if err := n.out.Send(sample, sink(ctx)); err != nil {
		if ctx != nil {
			ctx.LogError(fmt.Sprintf("ticker: send failed: %s", err))
		}
	}
}

func (n *tickerNode) Shutdown(ctx *node.Context) error {
	return n.out.Close()
}

func (n *tickerNode) Publishers() []node.TopicInfo {
	return []node.TopicInfo{{Topic: "ticks"}}
}

// watcherNode subscribes to "ticks" and reports gaps through its context,
// demonstrating the dropped-message path end to end.
type watcherNode struct {
	in   *hub.Endpoint[tickSample]
	last uint64
}

func newWatcherNode() *watcherNode {
	return &watcherNode{}
}

func (n *watcherNode) Name() string { return "watcher" }

func (n *watcherNode) Init(ctx *node.Context) error {
	in, err := hub.Open[tickSample]("ticks")
	if err != nil {
		return fmt.Errorf("watcher: open topic: %w", err)
	}
	n.in = in
	return nil
}

func (n *watcherNode) Tick(ctx *node.Context) {
	for {
		sample, ok := n.in.Recv(sink(ctx))
		if !ok {
			return
		}
		if n.last != 0 && sample.Seq != n.last+1 && ctx != nil {
			ctx.LogWarn(fmt.Sprintf("watcher: observed gap before seq %d", sample.Seq))
		}
		n.last = sample.Seq
	}
}

func (n *watcherNode) Shutdown(ctx *node.Context) error {
	return n.in.Close()
}

func (n *watcherNode) Subscribers() []node.TopicInfo {
	return []node.TopicInfo{{Topic: "ticks"}}
}
