package levelhash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandMakesRoomAndPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	var inserted []int
	for i := 0; i < 10000; i++ {
		if err := tbl.Insert(key(i), value(i)); err != nil {
			require.ErrorIs(t, err, ErrFull)
			break
		}
		inserted = append(inserted, i)
	}
	require.NotEmpty(t, inserted)

	before, err := tbl.Stats()
	require.NoError(t, err)

	require.NoError(t, tbl.Expand())

	after, err := tbl.Stats()
	require.NoError(t, err)
	require.Equal(t, before.LevelSize+1, after.LevelSize)
	require.Equal(t, before.AddrCapacity*2, after.AddrCapacity)
	require.Equal(t, before.ExpandTime+1, after.ExpandTime)
	require.Equal(t, before.Count0+before.Count1, after.Count0+after.Count1)

	for _, i := range inserted {
		got, err := tbl.StaticQuery(key(i))
		require.NoError(t, err)
		require.Equal(t, value(i), got)
	}

	// The table should accept new keys again after expanding.
	require.NoError(t, tbl.Insert(key(999999), value(999999)))
}

func TestShrinkRequiresLowLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	var inserted []int
	for i := 0; i < 10000; i++ {
		if err := tbl.Insert(key(i), value(i)); err != nil {
			require.ErrorIs(t, err, ErrFull)
			break
		}
		inserted = append(inserted, i)
	}

	require.ErrorIs(t, tbl.Shrink(), ErrShrinkNotAllowed)
}

func TestShrinkHalvesTopLevelAndPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, tbl.Insert(key(i), value(i)))
	}

	before, err := tbl.Stats()
	require.NoError(t, err)

	require.NoError(t, tbl.Shrink())

	after, err := tbl.Stats()
	require.NoError(t, err)
	require.Equal(t, before.LevelSize-1, after.LevelSize)
	require.Equal(t, before.AddrCapacity/2, after.AddrCapacity)
	require.Equal(t, before.Count0+before.Count1, after.Count0+after.Count1)

	for i := 0; i < 3; i++ {
		got, err := tbl.StaticQuery(key(i))
		require.NoError(t, err)
		require.Equal(t, value(i), got)
	}
}

func TestShrinkBelowMinLevelSizeRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	opts := testOptions()
	opts.LevelSize = MinLevelSize
	tbl, err := Init(path, opts)
	require.NoError(t, err)
	defer tbl.Close()

	require.ErrorIs(t, tbl.Shrink(), ErrShrinkNotAllowed)
}
