package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	A int32
	B [8]byte
}

func useTempRoot(t *testing.T) {
	t.Helper()
	t.Setenv("HORUS_SHM_ROOT", t.TempDir())
}

func Test_OpenSendRecv(t *testing.T) {
	useTempRoot(t)

	e, err := OpenWithCapacity[sample]("t", 16)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Send(sample{A: 1}, nil))
	require.NoError(t, e.Send(sample{A: 2}, nil))
	require.NoError(t, e.Send(sample{A: 3}, nil))

	for _, want := range []int32{1, 2, 3} {
		v, ok := e.Recv(nil)
		require.True(t, ok)
		assert.Equal(t, want, v.A)
	}

	_, ok := e.Recv(nil)
	assert.False(t, ok)

	m := e.Metrics()
	assert.Equal(t, uint64(3), m.MessagesSent)
	assert.Equal(t, uint64(3), m.MessagesReceived)
}

func Test_RecvBeforeSend(t *testing.T) {
	useTempRoot(t)

	e, err := OpenWithCapacity[sample]("empty-topic", 16)
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.Recv(nil)
	assert.False(t, ok)
}

func Test_DifferentCapacityFailsWithSizeMismatch(t *testing.T) {
	useTempRoot(t)

	e, err := OpenWithCapacity[sample]("cap-topic", 16)
	require.NoError(t, err)
	defer e.Close()

	_, err = OpenWithCapacity[sample]("cap-topic", 32)
	var mismatch SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func Test_DifferentLayoutSameTopicDoesNotAlias(t *testing.T) {
	useTempRoot(t)

	type other struct {
		X, Y, Z int64
	}

	e1, err := OpenWithCapacity[sample]("shared-name", 16)
	require.NoError(t, err)
	defer e1.Close()

	e2, err := OpenWithCapacity[other]("shared-name", 16)
	require.NoError(t, err)
	defer e2.Close()

	require.NoError(t, e1.Send(sample{A: 99}, nil))

	_, ok := e2.Recv(nil)
	assert.False(t, ok, "different payload layout must land on a different region")
}

func Test_IndependentCursorsInSameProcess(t *testing.T) {
	useTempRoot(t)

	producer, err := OpenWithCapacity[sample]("fanout", 16)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.Send(sample{A: 7}, nil))

	c1, err := OpenWithCapacity[sample]("fanout", 16)
	require.NoError(t, err)
	defer c1.Close()

	c2, err := OpenWithCapacity[sample]("fanout", 16)
	require.NoError(t, err)
	defer c2.Close()

	v1, ok1 := c1.Recv(nil)
	require.True(t, ok1)
	assert.Equal(t, int32(7), v1.A)

	v2, ok2 := c2.Recv(nil)
	require.True(t, ok2)
	assert.Equal(t, int32(7), v2.A, "a second endpoint instance must see the same message via its own cursor")
}
