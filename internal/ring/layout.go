package ring

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Byte layout, fixed at offset 0 of the region segment backing a Ring (see
// the external interfaces section of the design for the byte-compatible
// definition):
//
//	offset 0:   [u32 magic] [u32 layout_version] [u32 capacity] [u32 slot_size]
//	offset 16:  [u32 flags] [u32 reserved]
//	offset 24:  (padding to 64)
//	offset 64:  [u64 write_index atomic]
//	offset 72:  [u64 reserve_index atomic]
//	offset 80:  (padding to 128)
//	offset 128: slot[0], slot[1], ..., slot[capacity-1]
//
// Each slot occupies slotMetaSize bytes of metadata followed by a payload
// region of slot_size-slotMetaSize bytes:
//
//	[u64 sequence atomic][u32 payload_len][u32 state atomic]
//	[u8;16 publisher_id][u64 producer_timestamp_nanos][u8;24 reserved]
//	[payload bytes up to slot_size-slotMetaSize]
const (
	headerSize   = 128
	slotMetaSize = 64

	offMagic         = 0
	offLayoutVersion = 4
	offCapacity      = 8
	offSlotSize      = 12
	offFlags         = 16
	offWriteIndex    = 64
	offReserveIndex  = 72

	slotOffSequence    = 0
	slotOffPayloadLen  = 8
	slotOffState       = 12
	slotOffPublisherID = 16
	slotOffTimestamp   = 32
	// slotOffReserved occupies [40:64).
	slotOffPayload = slotMetaSize

	// magic identifies the HORUS ring wire format; magicInitializing is a
	// transient sentinel observed only by a racing attacher while the
	// winner of the header-init race is still writing capacity/slot_size.
	magic             uint32 = 0x48525547 // "HRUG"
	magicInitializing uint32 = 0x00000001
	layoutVersion     uint32 = 1
)

type slotState uint32

const (
	stateEmpty slotState = iota
	stateReserving
	stateReady
)

// header is a thin view over the fixed-offset control fields of a ring
// segment. It never owns memory; it always points into a region's mmap.
type header struct {
	buf []byte
}

func (h header) magicPtr() *uint32    { return (*uint32)(unsafe.Pointer(&h.buf[offMagic])) }
func (h header) writeIndexPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&h.buf[offWriteIndex]))
}
func (h header) reserveIndexPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&h.buf[offReserveIndex]))
}

func (h header) readLayoutVersion() uint32 {
	return binary.LittleEndian.Uint32(h.buf[offLayoutVersion : offLayoutVersion+4])
}

func (h header) readCapacity() uint32 {
	return binary.LittleEndian.Uint32(h.buf[offCapacity : offCapacity+4])
}

func (h header) readSlotSize() uint32 {
	return binary.LittleEndian.Uint32(h.buf[offSlotSize : offSlotSize+4])
}

func (h header) writeStaticFields(capacity, slotSize uint32) {
	binary.LittleEndian.PutUint32(h.buf[offLayoutVersion:offLayoutVersion+4], layoutVersion)
	binary.LittleEndian.PutUint32(h.buf[offCapacity:offCapacity+4], capacity)
	binary.LittleEndian.PutUint32(h.buf[offSlotSize:offSlotSize+4], slotSize)
	binary.LittleEndian.PutUint32(h.buf[offFlags:offFlags+4], 0)
}

func (h header) loadWriteIndex() uint64 {
	return atomic.LoadUint64(h.writeIndexPtr())
}

// slotView is a view over one slot's metadata and payload bytes.
type slotView struct {
	buf []byte // exactly slotSize bytes, rooted at the slot's offset
}

func (h header) slot(index, slotSize uint32) slotView {
	start := headerSize + int(index)*int(slotSize)
	return slotView{buf: h.buf[start : start+int(slotSize)]}
}

func (s slotView) sequencePtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.buf[slotOffSequence]))
}

func (s slotView) statePtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.buf[slotOffState]))
}

func (s slotView) loadSequence() uint64 { return atomic.LoadUint64(s.sequencePtr()) }
func (s slotView) loadState() slotState { return slotState(atomic.LoadUint32(s.statePtr())) }

func (s slotView) storeState(v slotState) { atomic.StoreUint32(s.statePtr(), uint32(v)) }
func (s slotView) storeSequence(v uint64) { atomic.StoreUint64(s.sequencePtr(), v) }

func (s slotView) payloadLen() uint32 {
	return binary.LittleEndian.Uint32(s.buf[slotOffPayloadLen : slotOffPayloadLen+4])
}

func (s slotView) setPayloadLen(n uint32) {
	binary.LittleEndian.PutUint32(s.buf[slotOffPayloadLen:slotOffPayloadLen+4], n)
}

func (s slotView) setPublisherID(id [16]byte) {
	copy(s.buf[slotOffPublisherID:slotOffPublisherID+16], id[:])
}

func (s slotView) publisherID() [16]byte {
	var id [16]byte
	copy(id[:], s.buf[slotOffPublisherID:slotOffPublisherID+16])
	return id
}

func (s slotView) setTimestamp(nanos int64) {
	binary.LittleEndian.PutUint64(s.buf[slotOffTimestamp:slotOffTimestamp+8], uint64(nanos))
}

func (s slotView) timestamp() int64 {
	return int64(binary.LittleEndian.Uint64(s.buf[slotOffTimestamp : slotOffTimestamp+8]))
}

func (s slotView) payload() []byte {
	return s.buf[slotOffPayload:]
}

// slotAlignment is the alignment each slot is rounded up to, so that a
// slot's atomics (sequence at offset 0, state at offset 12 within the
// 64-byte meta block) always land on an 8-byte-aligned, single-cache-line
// address regardless of neighboring slots' payload sizes.
const slotAlignment = 64

// SlotSizeFor returns the total per-slot allocation required to hold a
// payload of payloadLen bytes, rounded up to slotAlignment.
func SlotSizeFor(payloadLen uint32) uint32 {
	raw := slotMetaSize + payloadLen
	return (raw + slotAlignment - 1) / slotAlignment * slotAlignment
}

// RegionSize returns the total Region size needed for a ring of the given
// capacity and slot size.
func RegionSize(capacity, slotSize uint32) int64 {
	return headerSize + int64(capacity)*int64(slotSize)
}
