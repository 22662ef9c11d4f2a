package levelhash

import (
	"github.com/efeslab/levelhash/pkg/pm"
)

func levelBase(r *rootData, level int) pm.Offset {
	if level == 0 {
		return r.l0
	}
	return r.l1
}

func levelCapacity(r *rootData, level int) uint64 {
	if level == 0 {
		return r.addrCapacity
	}
	return r.addrCapacity / 2
}

// probeResult identifies a located slot.
type probeResult struct {
	level int
	bucket pm.Offset
	bucketIdx uint64
	slot   uint32
}

// probeLevel scans a single level's two candidate buckets in canonical
// order (f bucket slots 0..AssocNum-1, then s bucket slots 0..AssocNum-1)
// looking for an occupied slot matching key.
func (t *Table) probeLevel(pool *pm.Pool, lay layout, r *rootData, level int, key []byte) (probeResult, bool, error) {
	cap := levelCapacity(r, level)
	base := levelBase(r, level)
	f, s := candidates(t.hasher, key, r.fSeed, r.sSeed, cap)

	for _, idx := range [2]uint64{f, s} {
		off := bucketOffset(lay, base, idx)
		token, err := readToken(pool, lay, off)
		if err != nil {
			return probeResult{}, false, err
		}
		for slot := uint32(0); slot < lay.assocNum; slot++ {
			if !occupied(token, slot) {
				continue
			}
			k, err := readSlotKey(pool, lay, off, slot)
			if err != nil {
				return probeResult{}, false, err
			}
			if keysEqual(k, key) {
				return probeResult{level: level, bucket: off, bucketIdx: idx, slot: slot}, true, nil
			}
		}
	}
	return probeResult{}, false, nil
}

// staticProbe always probes L0 then L1 (spec §4.2).
func (t *Table) staticProbe(pool *pm.Pool, lay layout, r *rootData, key []byte) (probeResult, bool, error) {
	for _, level := range [2]int{0, 1} {
		res, ok, err := t.probeLevel(pool, lay, r, level, key)
		if err != nil || ok {
			return res, ok, err
		}
	}
	return probeResult{}, false, nil
}

// dynamicProbe probes the level with more items first, ties to L0.
func (t *Table) dynamicProbe(pool *pm.Pool, lay layout, r *rootData, key []byte) (probeResult, bool, error) {
	order := [2]int{0, 1}
	if r.count1 > r.count0 {
		order = [2]int{1, 0}
	}
	for _, level := range order {
		res, ok, err := t.probeLevel(pool, lay, r, level, key)
		if err != nil || ok {
			return res, ok, err
		}
	}
	return probeResult{}, false, nil
}

func (t *Table) normalizeKey(key []byte, lay layout) ([]byte, error) {
	if uint32(len(key)) > lay.keyLen {
		return nil, ErrInvalidKey
	}
	return paddedKey(key, lay.keyLen), nil
}

func (t *Table) normalizeValue(value []byte, lay layout) ([]byte, error) {
	if uint32(len(value)) > lay.valueLen {
		return nil, ErrInvalidValue
	}
	return paddedValue(value, lay.valueLen), nil
}

// StaticQuery looks up key, always probing L0 before L1 (spec §4.2).
func (t *Table) StaticQuery(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return nil, err
	}
	lay := newLayout(r)
	k, err := t.normalizeKey(key, lay)
	if err != nil {
		return nil, err
	}
	res, ok, err := t.staticProbe(t.pool, lay, r, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return readSlotValue(t.pool, lay, res.bucket, res.slot)
}

// DynamicQuery looks up key, probing whichever level currently holds
// more items first (spec §4.2). For any table state, this returns the
// same result as StaticQuery (property P5).
func (t *Table) DynamicQuery(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return nil, err
	}
	lay := newLayout(r)
	k, err := t.normalizeKey(key, lay)
	if err != nil {
		return nil, err
	}
	res, ok, err := t.dynamicProbe(t.pool, lay, r, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return readSlotValue(t.pool, lay, res.bucket, res.slot)
}
