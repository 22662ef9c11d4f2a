package levelhash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests exercise recover() directly rather than through a real
// crash, by hand-crafting the exact on-disk state a crash would leave:
// a log entry whose flag is still 1, or a resize_state left non-idle.
// Both are things only package-internal code can construct, since the
// log and resize machinery are not part of the public API.

func TestRecoverRedoesPendingValueLogEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Insert(key(1), value(1)))

	r, err := tbl.readRootLocked()
	require.NoError(t, err)
	lay := newLayout(r)

	cursor, err := tbl.valueLogCursor(r)
	require.NoError(t, err)
	k, err := tbl.normalizeKey(key(1), lay)
	require.NoError(t, err)
	newVal, err := tbl.normalizeValue(value(42), lay)
	require.NoError(t, err)
	require.NoError(t, tbl.writeValueLogEntry(lay, r, cursor, k, newVal))

	require.NoError(t, tbl.recover())

	got, err := tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(42), got)

	entry, err := tbl.readValueLogEntry(lay, r, cursor)
	require.NoError(t, err)
	require.Equal(t, byte(0), entry.flag, "recover should clear the replayed entry")
}

func TestRecoverRedoesPendingInsertLogEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	r, err := tbl.readRootLocked()
	require.NoError(t, err)
	lay := newLayout(r)

	k, err := tbl.normalizeKey(key(6), lay)
	require.NoError(t, err)
	v, err := tbl.normalizeValue(value(6), lay)
	require.NoError(t, err)

	capL0 := levelCapacity(r, 0)
	f, _ := candidates(tbl.hasher, k, r.fSeed, r.sSeed, capL0)

	cursor, err := tbl.insertLogCursor(r)
	require.NoError(t, err)
	require.NoError(t, tbl.writeInsertLogEntry(lay, r, cursor, k, v, 0, f, 0))

	require.NoError(t, tbl.recover())

	got, err := tbl.StaticQuery(key(6))
	require.NoError(t, err)
	require.Equal(t, value(6), got)

	entry, err := tbl.readInsertLogEntry(lay, r, cursor)
	require.NoError(t, err)
	require.Equal(t, byte(0), entry.flag)
}

func TestRecoverDiscardsInFlightResize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	tbl, err := Init(path, testOptions())
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.Insert(key(1), value(1)))

	r, err := tbl.readRootLocked()
	require.NoError(t, err)
	lay := newLayout(r)

	bogusSize := lay.levelSize(r.addrCapacity)
	bogusOff, err := tbl.pool.Alloc(bogusSize)
	require.NoError(t, err)

	r.resizeState = resizeExpanding
	r.interim = bogusOff
	r.interimCap = r.addrCapacity
	require.NoError(t, tbl.writeRootLocked(r))

	require.NoError(t, tbl.recover())

	stats, err := tbl.Stats()
	require.NoError(t, err)
	require.False(t, stats.Resizing)

	got, err := tbl.StaticQuery(key(1))
	require.NoError(t, err)
	require.Equal(t, value(1), got)

	// The table should still accept a fresh, real Expand after recovery
	// discarded the abandoned one.
	require.NoError(t, tbl.Expand())
}
