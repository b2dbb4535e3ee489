// Package hub implements the typed topic endpoint described in design §4.3:
// a Hub<T> binds a Go type T to a Ring living in a named Region, and carries
// a per-instance consumer cursor. Two endpoints opened in the same process
// or different processes against the same topic name and type share one
// Ring; each keeps its own cursor (design §3, "Endpoint" invariants).
package hub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"github.com/horus-robotics/horus/common/go/shmroot"
	"github.com/horus-robotics/horus/internal/region"
	"github.com/horus-robotics/horus/internal/ring"
)

// EventSink receives pub/sub observability events from an Endpoint's Send
// and Recv calls. design §4.4 describes these as NodeContext operations;
// Endpoint depends only on this minimal interface so that package node can
// implement it without hub needing to import node.
type EventSink interface {
	LogPub(topic string, bytes int, ipcDuration time.Duration)
	LogSub(topic string, bytes int, ipcDuration time.Duration)
	// LogDropped is called when Recv detects the producer has lapped this
	// endpoint's cursor; count is the lap distance (design §4.3:
	// "Dropped-message detection increments dropped_messages and emits a
	// warning log record").
	LogDropped(topic string, count uint64)
}

// Metrics is a point-in-time snapshot of one endpoint's traffic counters.
type Metrics struct {
	MessagesSent     uint64
	MessagesReceived uint64
	DroppedMessages  uint64
}

type counters struct {
	sent, received, dropped uint64
}

// Endpoint is a typed handle to a Ring for one topic. Its zero value is not
// usable; construct one with Open or OpenWithCapacity.
type Endpoint[T any] struct {
	topic       string
	capacity    uint32
	payloadSize uint32

	region *region.Handle
	r      *ring.Ring

	cursor      uint64
	scratch     []byte
	publisherID [16]byte

	counters counters
}

var processPublisherID = sync.OnceValue(func() [16]byte {
	return [16]byte(uuid.New())
})

// Open opens or creates a Ring for topic at the default capacity
// (ring.DefaultCapacity).
func Open[T any](topic string) (*Endpoint[T], error) {
	return OpenWithCapacity[T](topic, ring.DefaultCapacity)
}

// OpenWithCapacity opens or creates a Ring for topic sized for capacity
// slots of T. If a region already exists under the derived key with a
// different capacity, it fails with SizeMismatchError. A payload layout that
// differs from another endpoint's on the same topic derives a different key
// and opens a separate region; that is not reported as an error.
func OpenWithCapacity[T any](topic string, capacity uint32) (*Endpoint[T], error) {
	var zero T
	payloadSize := uint32(unsafe.Sizeof(zero))
	typeName := fmt.Sprintf("%T", zero)

	slotSize := ring.SlotSizeFor(payloadSize)
	key := regionKey(topic, typeName, payloadSize)
	size := datasize.ByteSize(ring.RegionSize(capacity, slotSize))

	h, err := region.OpenOrCreate(shmroot.TopicsNamespace, key, size)
	if err != nil {
		var mismatch region.SizeMismatchError
		if errors.As(err, &mismatch) {
			gotCapacity := (mismatch.Existing - ring.RegionSize(0, slotSize)) / int64(slotSize)
			return nil, SizeMismatchError{Topic: topic, WantCapacity: capacity, GotCapacity: uint32(gotCapacity)}
		}
		return nil, fmt.Errorf("hub: open topic %q: %w", topic, err)
	}

	r, err := ring.Attach(h.BasePtr(), capacity, slotSize)
	if err != nil {
		h.Close()
		var mismatch ring.SizeMismatchError
		if errors.As(err, &mismatch) {
			return nil, SizeMismatchError{Topic: topic, WantCapacity: capacity, GotCapacity: mismatch.GotCapacity}
		}
		return nil, fmt.Errorf("hub: attach ring for topic %q: %w", topic, err)
	}

	return &Endpoint[T]{
		topic:       topic,
		capacity:    capacity,
		payloadSize: payloadSize,
		region:      h,
		r:           r,
		scratch:     make([]byte, payloadSize),
		publisherID: processPublisherID(),
	}, nil
}

// TopicName returns the topic this endpoint was opened against.
func (e *Endpoint[T]) TopicName() string { return e.topic }

// Metrics returns a snapshot of this endpoint's traffic counters.
func (e *Endpoint[T]) Metrics() Metrics {
	return Metrics{
		MessagesSent:     atomic.LoadUint64(&e.counters.sent),
		MessagesReceived: atomic.LoadUint64(&e.counters.received),
		DroppedMessages:  atomic.LoadUint64(&e.counters.dropped),
	}
}

// Send publishes value via the ring's publish protocol. It never blocks on
// readers: on a full ring it overwrites the oldest slot and still returns
// nil. It fails only if the endpoint cannot reach its backing region at
// all, which is unrecoverable; the value is returned inside the error for
// the caller to retry or drop. If sink is non-nil, Send also emits a
// pub-event through it.
func (e *Endpoint[T]) Send(value T, sink EventSink) error {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&value)), e.payloadSize)

	start := time.Now()
	if _, err := e.r.Publish(buf, e.publisherID, start); err != nil {
		return RejectedValueError[T]{Topic: e.topic, Value: value, Err: err}
	}

	atomic.AddUint64(&e.counters.sent, 1)
	if sink != nil {
		sink.LogPub(e.topic, len(buf), time.Since(start))
	}
	return nil
}

// Recv executes the consume protocol once, returning the next available
// message and true, or the zero value and false if none is available yet.
// It never blocks. If the producer has lapped this endpoint's cursor, Recv
// fast-forwards to the oldest sequence still present, increments
// DroppedMessages by the lap distance, and (if sink is non-nil) emits a
// warning through sink.
func (e *Endpoint[T]) Recv(sink EventSink) (T, bool) {
	var zero T

	start := time.Now()
	res := e.r.Consume(e.cursor, e.scratch)
	e.cursor = res.NextCursor

	if res.Dropped > 0 {
		atomic.AddUint64(&e.counters.dropped, res.Dropped)
		if sink != nil {
			sink.LogDropped(e.topic, res.Dropped)
		}
	}

	if res.Empty {
		return zero, false
	}

	var value T
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&value)), e.payloadSize), e.scratch[:res.N])

	atomic.AddUint64(&e.counters.received, 1)
	if sink != nil {
		sink.LogSub(e.topic, res.N, time.Since(start))
	}
	return value, true
}

// Close unmaps this endpoint's region handle. It does not unlink the
// underlying region; other endpoints, in this or other processes, may
// still be using it.
func (e *Endpoint[T]) Close() error {
	return e.region.Close()
}
