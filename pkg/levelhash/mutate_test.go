package levelhash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedHasher lets a test pin exactly which buckets a key's two
// candidates land in, by key identity rather than by real hash output,
// so a promotion scenario (spec §4.3 Fallback 2, §4.9) can be forced
// deterministically instead of searched for.
type scriptedHasher struct {
	fSeed, sSeed uint64
	raw          map[string][2]uint64
}

func (h scriptedHasher) Hash(key []byte, seed uint64) uint64 {
	pair, ok := h.raw[string(key)]
	if !ok {
		panic("scriptedHasher: no entry for key " + string(key))
	}
	switch seed {
	case h.fSeed:
		return pair[0]
	case h.sSeed:
		return pair[1]
	default:
		panic("scriptedHasher: unexpected seed")
	}
}

// TestInsertPromotesViaBottomToTopMovement forces both of a key's L0
// candidate buckets and both of its L1 candidate buckets full after a
// single Expand, so Insert can only succeed by promoting an L1 occupant
// up to L0 and taking its vacated L1 slot (spec S4). The blockers are
// written directly into their buckets (bypassing Insert's own routing)
// so their placement doesn't depend on the scripted hash also steering
// Insert there; scriptedHasher only needs to reproduce, on request, the
// same candidate buckets Insert/tryMovement/b2tMovement would compute
// for each key.
func TestInsertPromotesViaBottomToTopMovement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.lvlh")
	opts := Options{
		KeyLen: 8, ValueLen: 8, AssocNum: 1, LevelSize: 2, LogLength: 16,
		Seeds: &Seeds{F: 1, S: 2},
	}
	tbl, err := Init(path, opts)
	require.NoError(t, err)
	defer tbl.Close()

	kK, vK := key(900), value(900)
	kB0, vB0 := key(901), value(901)
	kB4, vB4 := key(902), value(902)
	kC0, vC0 := key(903), value(903)
	kC2, vC2 := key(904), value(904)

	hasher := scriptedHasher{
		fSeed: 1, sSeed: 2,
		raw: map[string][2]uint64{
			// raw 0 mod (L0 cap/2=4) = 0, mod (L1 cap/2=2) = 0: lands at
			// L0 bucket 0 / bucket 4, and at L1 bucket 0 / bucket 2.
			string(kK):  {0, 0},
			string(kB0): {0, 0},
			string(kB4): {0, 0},
			// raw 2 mod 4 = 2 (distinct, free L0 buckets 2/6), mod 2 = 0
			// (same L1 buckets 0/2 as kK, so these occupy the L1 slots
			// Insert(kK) needs, while leaving kK's L0 buckets alone).
			string(kC0): {2, 2},
			string(kC2): {2, 2},
		},
	}
	tbl.SetHasher(hasher)

	// One Expand (on an empty table) sets expandTime=1, the sole gate
	// on bottom-to-top promotion (spec §4.9), and gives L0 twice the
	// bucket count of L1.
	require.NoError(t, tbl.Expand())

	r, err := tbl.readRootLocked()
	require.NoError(t, err)
	lay := newLayout(r)
	require.Equal(t, uint64(8), levelCapacity(r, 0))
	require.Equal(t, uint64(4), levelCapacity(r, 1))

	base0 := levelBase(r, 0)
	base1 := levelBase(r, 1)

	// Block kK's two L0 candidates (buckets 0 and 4). Each occupant's
	// only alternate candidate is the other blocker's bucket, so
	// same-level movement at L0 can't free either one.
	require.NoError(t, slotWrite(tbl.pool, lay, bucketOffset(lay, base0, 0), 0, kB0, vB0))
	require.NoError(t, slotWrite(tbl.pool, lay, bucketOffset(lay, base0, 4), 0, kB4, vB4))

	// Block kK's two L1 candidates (buckets 0 and 2) the same way.
	require.NoError(t, slotWrite(tbl.pool, lay, bucketOffset(lay, base1, 0), 0, kC0, vC0))
	require.NoError(t, slotWrite(tbl.pool, lay, bucketOffset(lay, base1, 2), 0, kC2, vC2))

	r.count0 += 2
	r.count1 += 2
	require.NoError(t, tbl.writeRootLocked(r))

	// kK's own placement and same-level movement must all fail, forcing
	// the promotion fallback: L1 bucket 0's occupant (kC0) has free L0
	// candidates (buckets 2 and 6, untouched above) and moves up,
	// vacating L1 bucket 0 slot 0 for kK.
	require.NoError(t, tbl.Insert(kK, vK))

	got, err := tbl.StaticQuery(kK)
	require.NoError(t, err)
	require.Equal(t, vK, got)

	// The promoted occupant must still be reachable too.
	got, err = tbl.StaticQuery(kC0)
	require.NoError(t, err)
	require.Equal(t, vC0, got)
}
