package pm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")

	pool, err := Create(path, 1<<16)
	require.NoError(t, err)

	off, err := pool.Alloc(32)
	require.NoError(t, err)
	require.NoError(t, pool.PutUint64(off, 0xdeadbeef))
	require.NoError(t, pool.Flush(off, 8))
	require.NoError(t, pool.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetUint64(off)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), got)
}

func TestAllocDoesNotOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	pool, err := Create(path, 1<<12)
	require.NoError(t, err)
	defer pool.Close()

	seen := map[Offset]bool{}
	var offs []Offset
	for i := 0; i < 64; i++ {
		off, err := pool.Alloc(16)
		require.NoError(t, err)
		require.False(t, seen[off], "offset %d reused while still live", off)
		seen[off] = true
		offs = append(offs, off)
	}
	for _, off := range offs {
		require.NoError(t, pool.PutUint64(off, uint64(off)))
	}
	for _, off := range offs {
		v, err := pool.GetUint64(off)
		require.NoError(t, err)
		require.Equal(t, uint64(off), v)
	}
}

func TestAllocGrowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	pool, err := Create(path, 4096)
	require.NoError(t, err)
	defer pool.Close()

	for i := 0; i < 2000; i++ {
		_, err := pool.Alloc(64)
		require.NoError(t, err)
	}
}

func TestFreeAndReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	pool, err := Create(path, 1<<12)
	require.NoError(t, err)
	defer pool.Close()

	off, err := pool.Alloc(128)
	require.NoError(t, err)
	pool.Free(off, 128)

	off2, err := pool.Alloc(128)
	require.NoError(t, err)
	require.Equal(t, off, off2, "freed block should be reused by a same-size alloc")
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	pool, err := Create(path, 4096)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.PutUint32(0, 0)) // stomp the magic
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrCorrupt)
}
