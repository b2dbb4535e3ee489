package metrics

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/c2h5oh/datasize"

	"github.com/horus-robotics/horus/common/go/shmroot"
	"github.com/horus-robotics/horus/internal/region"
	"github.com/horus-robotics/horus/internal/ring"
)

// Level identifies the kind of a LogBuffer record (design §3: "level in
// {info, warn, error, pub-event, sub-event}").
type Level uint32

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelPubEvent
	LevelSubEvent
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelPubEvent:
		return "pub-event"
	case LevelSubEvent:
		return "sub-event"
	default:
		return "unknown"
	}
}

const (
	maxNodeNameLen = 32
	maxMessageLen  = 192

	// DefaultLogBufferCapacity is the recommended record count for a
	// scheduler's LogBuffer.
	DefaultLogBufferCapacity = 4096
)

// rawRecord is the fixed-size, self-contained wire layout for one log
// record (design §3's "Payload layout constraint": fixed size, no
// indirection, inline buffers with an explicit used-length field).
type rawRecord struct {
	TimestampNanos int64
	Level          uint32
	NodeLen        uint8
	MessageLen     uint16
	_              [1]byte
	Node           [maxNodeNameLen]byte
	Message        [maxMessageLen]byte
}

// Record is the decoded form of a LogBuffer entry.
type Record struct {
	Timestamp time.Time
	Node      string
	Level     Level
	Message   string
}

// LogBuffer is the process-wide, many-writer/many-reader bounded log ring
// described in design §3/§4.7. It is implemented with the same lock-free
// publish/consume protocol as a topic Ring (§4.2), backed by a Region under
// the topics namespace so that external tools can read it exactly the way
// they read any other topic (this resolves an open question the
// distillation left unstated: see DESIGN.md).
type LogBuffer struct {
	r      *ring.Ring
	region *region.Handle
}

// NewLogBuffer opens or creates the log ring for a scheduler identity.
func NewLogBuffer(schedulerIdentity string, capacity uint32) (*LogBuffer, error) {
	var zero rawRecord
	slotSize := ring.SlotSizeFor(uint32(unsafe.Sizeof(zero)))
	key := fmt.Sprintf("log__%s", schedulerIdentity)
	size := datasize.ByteSize(ring.RegionSize(capacity, slotSize))

	h, err := region.OpenOrCreate(shmroot.TopicsNamespace, key, size)
	if err != nil {
		return nil, fmt.Errorf("metrics: open log buffer: %w", err)
	}

	r, err := ring.Attach(h.BasePtr(), capacity, slotSize)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("metrics: attach log buffer ring: %w", err)
	}

	return &LogBuffer{r: r, region: h}, nil
}

// Write appends a record. It never blocks and never fails the caller: a
// full buffer silently overwrites its oldest record (design §4.4:
// "No log call may block the calling node").
func (b *LogBuffer) Write(node string, level Level, message string) {
	var raw rawRecord
	raw.TimestampNanos = time.Now().UnixNano()
	raw.Level = uint32(level)

	n := copy(raw.Node[:], node)
	raw.NodeLen = uint8(n)

	m := copy(raw.Message[:], message)
	raw.MessageLen = uint16(m)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))
	// The publish protocol never errors on a well-formed, correctly sized
	// payload; a write to the log buffer cannot itself fail.
	_, _ = b.r.Publish(buf, [16]byte{}, time.Now())
}

// Cursor is an opaque read position into a LogBuffer, analogous to a Hub
// endpoint's cursor. Each reader owns its own.
type Cursor struct {
	next uint64
}

// Read executes the consume protocol once against cur, returning the next
// record if any.
func (b *LogBuffer) Read(cur *Cursor) (Record, bool) {
	var raw rawRecord
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))

	res := b.r.Consume(cur.next, dst)
	cur.next = res.NextCursor
	if res.Empty {
		return Record{}, false
	}

	return Record{
		Timestamp: time.Unix(0, raw.TimestampNanos),
		Node:      string(raw.Node[:raw.NodeLen]),
		Level:     Level(raw.Level),
		Message:   string(raw.Message[:raw.MessageLen]),
	}, true
}

// Close unmaps this LogBuffer's region handle.
func (b *LogBuffer) Close() error {
	return b.region.Close()
}
