package levelhash

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		KeyLen:    8,
		ValueLen:  8,
		AssocNum:  4,
		LevelSize: 3,
		LogLength: 16,
		Seeds:     &Seeds{F: 0x1, S: 0x2},
	}
}

func key(n int) []byte   { return []byte(fmt.Sprintf("k%07d", n)) }
func value(n int) []byte { return []byte(fmt.Sprintf("v%07d", n)) }

func TestInitOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")

	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(key(1), value(1)))
	require.NoError(t, tbl.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(1), got)
}

func TestInsertQueryDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Insert(key(1), value(1)))

	got, err := tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(1), got)

	got, err = tbl.DynamicQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(1), got)

	_, err = tbl.StaticQuery(key(2))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tbl.Delete(key(1)))
	_, err = tbl.StaticQuery(key(1))
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, tbl.Delete(key(1)), ErrNotFound)
}

// TestStaticDynamicAgree fills the table until it stops accepting new
// keys and checks StaticQuery/DynamicQuery agree for every surviving
// key, which is property P5 from the specification.
func TestStaticDynamicAgree(t *testing.T) {
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

	for _, i := range inserted {
		sv, err := tbl.StaticQuery(key(i))
		require.NoError(t, err)
		dv, err := tbl.DynamicQuery(key(i))
		require.NoError(t, err)
		require.Equal(t, value(i), sv)
		require.Equal(t, sv, dv)
	}
}

func TestUpdateLogFreeAndLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Insert(key(1), value(1)))
	require.NoError(t, tbl.Update(key(1), value(2)))
	got, err := tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(2), got)

	// Fill every other slot of key(1)'s bucket so the next Update finds
	// no free slot there and has to take the logged path.
	r, err := tbl.readRootLocked()
	require.NoError(t, err)
	lay := newLayout(r)
	k, err := tbl.normalizeKey(key(1), lay)
	require.NoError(t, err)
	res, ok, err := tbl.staticProbe(tbl.pool, lay, r, k)
	require.NoError(t, err)
	require.True(t, ok)
	for j := uint32(0); j < lay.assocNum; j++ {
		if j != res.slot {
			require.NoError(t, slotWrite(tbl.pool, lay, res.bucket, j, key(1000+int(j)), value(1000+int(j))))
		}
	}
	require.NoError(t, tbl.Update(key(1), value(3)))
	got, err = tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(3), got)
	cursor, err := tbl.valueLogCursor(r)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cursor, "logged update should advance the value-log cursor")

	_, err = tbl.StaticQuery(key(999))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, tbl.Update(key(999), value(1)), ErrNotFound)
}

func TestUpsertOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Upsert(key(1), value(1)))
	require.NoError(t, tbl.Upsert(key(1), value(2)))

	got, err := tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(2), got)
}

func TestInvalidKeyValueLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.ErrorIs(t, tbl.Insert([]byte("waytoolongforeight"), value(1)), ErrInvalidKey)
	require.ErrorIs(t, tbl.Insert(key(1), []byte("waytoolongforeight")), ErrInvalidValue)
}

func TestClosedTableRejectsOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	require.ErrorIs(t, tbl.Insert(key(1), value(1)), ErrClosed)
	_, err = tbl.StaticQuery(key(1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestInitRejectsInvalidOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	opts := testOptions()
	opts.KeyLen = 0
	_, err := Init(path, opts)
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestDestroyRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	require.NoError(t, Destroy(path))

	_, err = Open(path)
	require.Error(t, err)
}
