package region

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempRoot(t *testing.T) {
	t.Helper()
	t.Setenv("HORUS_SHM_ROOT", t.TempDir())
}

func Test_OpenOrCreate_CreatesAndReopens(t *testing.T) {
	useTempRoot(t)

	h1, err := OpenOrCreate("topics", "t", 256*datasize.B)
	require.NoError(t, err)
	defer h1.Close()

	require.Equal(t, 256, h1.Len())
	h1.BasePtr()[0] = 0xAB

	h2, err := OpenOrCreate("topics", "t", 256*datasize.B)
	require.NoError(t, err)
	defer h2.Close()

	assert.Equal(t, byte(0xAB), h2.BasePtr()[0], "second opener must see the first opener's writes")
}

func Test_OpenOrCreate_SizeMismatch(t *testing.T) {
	useTempRoot(t)

	h1, err := OpenOrCreate("topics", "t", 256*datasize.B)
	require.NoError(t, err)
	defer h1.Close()

	_, err = OpenOrCreate("topics", "t", 512*datasize.B)
	var sizeErr SizeMismatchError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, int64(256), sizeErr.Existing)
	assert.Equal(t, int64(512), sizeErr.Wanted)
}

func Test_OpenOrCreate_InvalidName(t *testing.T) {
	useTempRoot(t)

	_, err := OpenOrCreate("topics", "../escape", 64*datasize.B)
	var invErr InvalidNameError
	require.ErrorAs(t, err, &invErr)

	_, err = OpenOrCreate("topics", "has/slash", 64*datasize.B)
	require.ErrorAs(t, err, &invErr)
}

func Test_Handle_SharedWithinProcess(t *testing.T) {
	useTempRoot(t)

	h1, err := OpenOrCreate("topics", "shared", 128*datasize.B)
	require.NoError(t, err)
	defer h1.Close()

	h2, err := OpenOrCreate("topics", "shared", 128*datasize.B)
	require.NoError(t, err)
	defer h2.Close()

	h1.BasePtr()[10] = 7
	assert.Equal(t, byte(7), h2.BasePtr()[10])
}

func Test_Unlink(t *testing.T) {
	useTempRoot(t)

	h, err := OpenOrCreate("topics", "throwaway", 64*datasize.B)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, Unlink("topics", "throwaway"))

	h2, err := OpenOrCreate("topics", "throwaway", 128*datasize.B)
	require.NoError(t, err, "a fresh region can use a different size after unlink")
	h2.Close()
}
