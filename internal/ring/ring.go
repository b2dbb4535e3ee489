// Package ring implements the fixed-capacity, lock-free, overwrite-on-full
// slot ring that lives inside a Region (design §4.2). It knows nothing about
// payload types; callers hand it raw bytes. The typed façade lives in
// package hub.
package ring

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultCapacity is the recommended default slot count (design §4.2).
const DefaultCapacity = 1024

// MinCapacity is the smallest ring capacity the protocol supports.
const MinCapacity = 2

// maxHeaderInitAttempts bounds the spin while a racing attacher waits for
// whichever process won the header-initialization CAS to finish writing
// capacity/slot_size.
const maxHeaderInitAttempts = 100000

// maxConsumeAttempts bounds the retries in Consume before it gives up and
// reports Empty; §4.2 step 3 explicitly allows a caller to treat a bounded
// number of retries as "not yet" rather than as an error.
const maxConsumeAttempts = 64

// Ring is a view over a region's bytes implementing the publish/consume
// protocol. It does not own the backing memory.
type Ring struct {
	h          header
	capacity   uint32
	slotSize   uint32
	payloadCap uint32
}

// Attach binds a Ring view to buf, which must be exactly
// RegionSize(capacity, slotSize) bytes. If buf has never been initialized
// (all-zero header, as a freshly created Region is), the first attacher to
// win a CAS on the magic field becomes the initializer and writes
// capacity/slot_size; every other concurrent attacher spins until the
// winner finishes, then validates against it. If buf already carries an
// initialized ring with a different capacity or slot size, Attach fails
// with SizeMismatchError.
func Attach(buf []byte, capacity, slotSize uint32) (*Ring, error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("ring: capacity %d below minimum %d", capacity, MinCapacity)
	}
	if int64(len(buf)) != RegionSize(capacity, slotSize) {
		if existing := (header{buf: buf}); len(buf) >= headerSize && atomic.LoadUint32(existing.magicPtr()) == magic {
			if err := validateHeader(existing, capacity, slotSize); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("ring: buffer of %d bytes cannot hold capacity=%d slot_size=%d", len(buf), capacity, slotSize)
	}

	h := header{buf: buf}
	magicPtr := h.magicPtr()

	for attempt := 0; ; attempt++ {
		m := atomic.LoadUint32(magicPtr)
		switch m {
		case magic:
			if err := validateHeader(h, capacity, slotSize); err != nil {
				return nil, err
			}
			return &Ring{h: h, capacity: capacity, slotSize: slotSize, payloadCap: slotSize - slotMetaSize}, nil

		case 0:
			if atomic.CompareAndSwapUint32(magicPtr, 0, magicInitializing) {
				h.writeStaticFields(capacity, slotSize)
				atomic.StoreUint32(magicPtr, magic)
				return &Ring{h: h, capacity: capacity, slotSize: slotSize, payloadCap: slotSize - slotMetaSize}, nil
			}
			// Lost the race; fall through to the bounded spin below.

		case magicInitializing:
			// Another attacher is mid-initialization.

		default:
			return nil, BadMagicError{Got: m}
		}

		if attempt >= maxHeaderInitAttempts {
			return nil, fmt.Errorf("ring: timed out waiting for concurrent header initialization")
		}
		runtime.Gosched()
	}
}

func validateHeader(h header, capacity, slotSize uint32) error {
	if v := h.readLayoutVersion(); v != layoutVersion {
		return BadVersionError{Got: v}
	}
	gotCapacity, gotSlotSize := h.readCapacity(), h.readSlotSize()
	if gotCapacity != capacity || gotSlotSize != slotSize {
		return SizeMismatchError{
			WantCapacity: capacity, GotCapacity: gotCapacity,
			WantSlotSize: slotSize, GotSlotSize: gotSlotSize,
		}
	}
	return nil
}

// Capacity returns the ring's slot count.
func (r *Ring) Capacity() uint32 { return r.capacity }

// PayloadCapacity returns the maximum payload size, in bytes, a slot can
// carry.
func (r *Ring) PayloadCapacity() uint32 { return r.payloadCap }

// WriteIndex returns the current committed write index, for diagnostics.
func (r *Ring) WriteIndex() uint64 { return r.h.loadWriteIndex() }

// Publish reserves the next sequence number and writes payload into its
// slot, following the seven-step protocol in design §4.2. It never blocks
// and never fails because of slow or absent readers; a full ring silently
// overwrites its oldest slot. The only failure mode is a payload that does
// not fit the ring's slot size, which is a programming error at the call
// site (the typed Hub façade prevents this by construction).
func (r *Ring) Publish(payload []byte, publisherID [16]byte, now time.Time) (uint64, error) {
	if uint32(len(payload)) > r.payloadCap {
		return 0, fmt.Errorf("ring: payload of %d bytes exceeds slot capacity of %d", len(payload), r.payloadCap)
	}

	s := atomic.AddUint64(r.h.reserveIndexPtr(), 1) - 1
	idx := uint32(s % uint64(r.capacity))
	slot := r.h.slot(idx, r.slotSize)

	slot.storeState(stateReserving)

	copy(slot.payload(), payload)
	slot.setPayloadLen(uint32(len(payload)))
	slot.setPublisherID(publisherID)
	slot.setTimestamp(now.UnixNano())

	slot.storeSequence(s)
	slot.storeState(stateReady)

	target := s + 1
	for {
		w := atomic.LoadUint64(r.h.writeIndexPtr())
		if w >= target {
			break
		}
		if atomic.CompareAndSwapUint64(r.h.writeIndexPtr(), w, target) {
			break
		}
	}

	return s, nil
}

// ConsumeResult reports the outcome of one Consume call.
type ConsumeResult struct {
	// Sequence is the sequence number delivered. Valid only if !Empty.
	Sequence uint64
	// PublisherID is the producer identity recorded at publish time.
	PublisherID [16]byte
	// TimestampNanos is the producer's wall-clock time at publish, in
	// UnixNano.
	TimestampNanos int64
	// N is the number of payload bytes copied into the caller's buffer.
	N int
	// Dropped is the number of sequence numbers skipped by lapping during
	// this call (0 in the common case).
	Dropped uint64
	// NextCursor is the cursor value the caller should pass to the next
	// Consume call.
	NextCursor uint64
	// Empty is true if no message was available (not an error).
	Empty bool
}

// Consume executes the consume protocol once for a cursor at position
// cursor, copying up to len(dst) bytes of the payload into dst (a longer
// payload is truncated; N reports the bytes copied). It never blocks waiting
// for a publish; on
// exhausting its bounded retry budget against active contention it reports
// Empty rather than erroring.
func (r *Ring) Consume(cursor uint64, dst []byte) ConsumeResult {
	spin := backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         200 * time.Microsecond,
	}
	spin.Reset()

	var dropped uint64
	target := cursor

	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		w := atomic.LoadUint64(r.h.writeIndexPtr())
		if target >= w {
			return ConsumeResult{NextCursor: target, Dropped: dropped, Empty: true}
		}

		if w-target > uint64(r.capacity) {
			jump := w - uint64(r.capacity) - target
			dropped += jump
			target = w - uint64(r.capacity)
		}

		idx := uint32(target % uint64(r.capacity))
		slot := r.h.slot(idx, r.slotSize)

		st := slot.loadState()
		seq := slot.loadSequence()
		if st != stateReady || seq != target {
			if seq > target {
				// Already overwritten by a newer sequence; recompute
				// against the freshest write_index on the next iteration.
				continue
			}
			// The producer is mid-publish of this slot (Reserving) or it
			// has never been written. Spin briefly, then back off.
			if attempt < 8 {
				runtime.Gosched()
			} else {
				time.Sleep(spin.NextBackOff())
			}
			continue
		}

		n := copy(dst, slot.payload()[:min(slot.payloadLen(), uint32(len(dst)))])
		publisherID := slot.publisherID()
		timestamp := slot.timestamp()

		if slot.loadSequence() != target {
			// Torn read: the producer overwrote this slot while we copied
			// it. Discard, count it as dropped, and move past it.
			dropped++
			target++
			continue
		}

		return ConsumeResult{
			Sequence:       target,
			PublisherID:    publisherID,
			TimestampNanos: timestamp,
			N:              n,
			Dropped:        dropped,
			NextCursor:     target + 1,
		}
	}

	return ConsumeResult{NextCursor: target, Dropped: dropped, Empty: true}
}
