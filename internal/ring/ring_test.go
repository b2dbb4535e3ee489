package ring

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayloadLen = 4

func newTestRing(t *testing.T, capacity uint32) *Ring {
	t.Helper()
	slotSize := SlotSizeFor(testPayloadLen)
	buf := make([]byte, RegionSize(capacity, slotSize))
	r, err := Attach(buf, capacity, slotSize)
	require.NoError(t, err)
	return r
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func decodeU32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func Test_BasicPubSub(t *testing.T) {
	r := newTestRing(t, 16)

	for _, v := range []uint32{1, 2, 3} {
		_, err := r.Publish(encodeU32(v), [16]byte{}, time.Now())
		require.NoError(t, err)
	}

	cursor := uint64(0)
	dst := make([]byte, testPayloadLen)

	for _, want := range []uint32{1, 2, 3} {
		res := r.Consume(cursor, dst)
		require.False(t, res.Empty)
		assert.Equal(t, want, decodeU32(dst[:res.N]))
		cursor = res.NextCursor
	}

	res := r.Consume(cursor, dst)
	assert.True(t, res.Empty)
}

func Test_OverwriteOnFull(t *testing.T) {
	r := newTestRing(t, 16)

	for v := uint32(1); v <= 20; v++ {
		_, err := r.Publish(encodeU32(v), [16]byte{}, time.Now())
		require.NoError(t, err)
	}

	cursor := uint64(0)
	dst := make([]byte, testPayloadLen)

	res := r.Consume(cursor, dst)
	require.False(t, res.Empty)
	assert.Equal(t, uint64(4), res.Dropped)
	assert.Equal(t, uint32(5), decodeU32(dst[:res.N]))
	cursor = res.NextCursor

	for v := uint32(6); v <= 20; v++ {
		res := r.Consume(cursor, dst)
		require.False(t, res.Empty)
		assert.Equal(t, v, decodeU32(dst[:res.N]))
		cursor = res.NextCursor
	}

	res = r.Consume(cursor, dst)
	assert.True(t, res.Empty)
}

func Test_RecvBeforeAnySend(t *testing.T) {
	r := newTestRing(t, 16)
	dst := make([]byte, testPayloadLen)
	res := r.Consume(0, dst)
	assert.True(t, res.Empty)
}

func Test_SizeMismatchOnOpen(t *testing.T) {
	slotSize := SlotSizeFor(testPayloadLen)
	buf := make([]byte, RegionSize(16, slotSize))

	_, err := Attach(buf, 16, slotSize)
	require.NoError(t, err)

	_, err = Attach(buf, 16, SlotSizeFor(100))
	var mismatch SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func Test_MultiProducerMonotonicity(t *testing.T) {
	r := newTestRing(t, 4096)

	const perProducer = 1000
	var wg sync.WaitGroup
	wg.Add(2)

	publish := func(tag byte) {
		defer wg.Done()
		for i := uint32(0); i < perProducer; i++ {
			payload := append([]byte{tag}, encodeU32(i)...)
			_, err := r.Publish(payload, [16]byte{}, time.Now())
			assert.NoError(t, err)
		}
	}

	go publish('A')
	go publish('B')
	wg.Wait()

	counts := map[byte]int{}
	cursor := uint64(0)
	dst := make([]byte, 5)
	var lastSeq uint64
	first := true

	for {
		res := r.Consume(cursor, dst)
		if res.Empty {
			break
		}
		if !first {
			assert.Greater(t, res.Sequence, lastSeq)
		}
		first = false
		lastSeq = res.Sequence
		counts[dst[0]]++
		cursor = res.NextCursor
	}

	assert.Equal(t, 2*perProducer, counts['A']+counts['B'])
}

func Test_PublisherIDAndTimestampRoundTrip(t *testing.T) {
	r := newTestRing(t, 16)

	id := [16]byte{1, 2, 3, 4}
	before := time.Now()
	_, err := r.Publish(encodeU32(42), id, before)
	require.NoError(t, err)

	dst := make([]byte, testPayloadLen)
	res := r.Consume(0, dst)
	require.False(t, res.Empty)
	assert.Equal(t, id, res.PublisherID)
	assert.Equal(t, before.UnixNano(), res.TimestampNanos)
}
