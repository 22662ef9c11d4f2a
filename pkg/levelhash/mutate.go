package levelhash

import "github.com/efeslab/levelhash/pkg/pm"

// tryInsertPlacement scans canonical order (outer slot index, inner
// f-then-s) looking for a free slot at the given level, per spec §4.3.
func (t *Table) tryInsertPlacement(lay layout, r *rootData, level int, key, value []byte) (bool, error) {
	cap := levelCapacity(r, level)
	base := levelBase(r, level)
	f, s := candidates(t.hasher, key, r.fSeed, r.sSeed, cap)
	fOff := bucketOffset(lay, base, f)
	sOff := bucketOffset(lay, base, s)

	fToken, err := readToken(t.pool, lay, fOff)
	if err != nil {
		return false, err
	}
	sToken, err := readToken(t.pool, lay, sOff)
	if err != nil {
		return false, err
	}

	for j := uint32(0); j < lay.assocNum; j++ {
		if !occupied(fToken, j) {
			if err := slotWrite(t.pool, lay, fOff, j, key, value); err != nil {
				return false, err
			}
			return true, nil
		}
		if !occupied(sToken, j) {
			if err := slotWrite(t.pool, lay, sOff, j, key, value); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// tryMovement walks the occupied slots of L[level][idx] and relocates
// the first one that has room at its alternate same-level bucket,
// returning the slot index it vacated (spec §4.3 Fallback 1, §4.9).
func (t *Table) tryMovement(lay layout, r *rootData, level int, idx uint64) (bool, uint32, error) {
	cap := levelCapacity(r, level)
	base := levelBase(r, level)
	off := bucketOffset(lay, base, idx)

	token, err := readToken(t.pool, lay, off)
	if err != nil {
		return false, 0, err
	}

	for slot := uint32(0); slot < lay.assocNum; slot++ {
		if !occupied(token, slot) {
			continue
		}
		mk, err := readSlotKey(t.pool, lay, off, slot)
		if err != nil {
			return false, 0, err
		}
		other := otherCandidate(t.hasher, mk, r.fSeed, r.sSeed, cap, idx)
		otherOff := bucketOffset(lay, base, other)
		otherToken, err := readToken(t.pool, lay, otherOff)
		if err != nil {
			return false, 0, err
		}
		for destSlot := uint32(0); destSlot < lay.assocNum; destSlot++ {
			if occupied(otherToken, destSlot) {
				continue
			}
			mv, err := readSlotValue(t.pool, lay, off, slot)
			if err != nil {
				return false, 0, err
			}
			if err := t.logAndMove(lay, r, mk, mv, byte(level), other, byte(destSlot), otherOff, off, slot); err != nil {
				return false, 0, err
			}
			return true, slot, nil
		}
	}
	return false, 0, nil
}

// b2tMovement walks the occupied slots of L1[idx] and relocates the
// first one that has room at one of its L0 candidates, returning the
// slot index it vacated in L1[idx] (spec §4.3 Fallback 2, §4.9). Also
// updates the level item counters, since this is a cross-level move.
func (t *Table) b2tMovement(lay layout, r *rootData, idx uint64) (bool, uint32, error) {
	base1 := levelBase(r, 1)
	off := bucketOffset(lay, base1, idx)
	token, err := readToken(t.pool, lay, off)
	if err != nil {
		return false, 0, err
	}
	capL0 := levelCapacity(r, 0)
	base0 := levelBase(r, 0)

	for slot := uint32(0); slot < lay.assocNum; slot++ {
		if !occupied(token, slot) {
			continue
		}
		mk, err := readSlotKey(t.pool, lay, off, slot)
		if err != nil {
			return false, 0, err
		}
		f0, s0 := candidates(t.hasher, mk, r.fSeed, r.sSeed, capL0)
		for _, destIdx := range [2]uint64{f0, s0} {
			destOff := bucketOffset(lay, base0, destIdx)
			destToken, err := readToken(t.pool, lay, destOff)
			if err != nil {
				return false, 0, err
			}
			for destSlot := uint32(0); destSlot < lay.assocNum; destSlot++ {
				if occupied(destToken, destSlot) {
					continue
				}
				mv, err := readSlotValue(t.pool, lay, off, slot)
				if err != nil {
					return false, 0, err
				}
				if err := t.logAndMove(lay, r, mk, mv, 0, destIdx, byte(destSlot), destOff, off, slot); err != nil {
					return false, 0, err
				}
				r.count1--
				r.count0++
				return true, slot, nil
			}
		}
	}
	return false, 0, nil
}

// logAndMove records the pending movement in the insert log, performs
// the destination slot-write, then clears the source bit, matching the
// two-step-mutation protection described in spec §4.9.
func (t *Table) logAndMove(lay layout, r *rootData, key, value []byte, destLevel byte, destBucketIdx uint64, destSlot byte, destOff, srcOff pm.Offset, srcSlot uint32) error {
	cursor, err := t.insertLogCursor(r)
	if err != nil {
		return err
	}
	if err := t.writeInsertLogEntry(lay, r, cursor, key, value, destLevel, destBucketIdx, destSlot); err != nil {
		return err
	}
	if err := slotWrite(t.pool, lay, destOff, uint32(destSlot), key, value); err != nil {
		return err
	}
	if err := clearSlotBit(t.pool, lay, srcOff, srcSlot); err != nil {
		return err
	}
	if err := t.clearInsertLogEntry(lay, r, cursor); err != nil {
		return err
	}
	return t.setInsertLogCursor(r, (cursor+1)%uint64(lay.logLength))
}

// Insert adds (key, value) to the table. It does not check for an
// existing slot with the same key (spec §4.3, §9): callers that need
// upsert semantics should use Upsert or call Delete first.
func (t *Table) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return err
	}
	lay := newLayout(r)
	k, err := t.normalizeKey(key, lay)
	if err != nil {
		return err
	}
	v, err := t.normalizeValue(value, lay)
	if err != nil {
		return err
	}
	if err := t.placeInTable(lay, r, k, v); err != nil {
		return err
	}
	return t.writeRootLocked(r)
}

// placeInTable runs the full insert/movement/promotion placement
// sequence (spec §4.3) against r, mutating its in-memory item counters
// on success. It never reads or persists the table's root record
// itself: callers own that, which lets Shrink run it against an
// in-memory shadow root before the new root is committed to disk
// (spec §4.8, §9). Expand does not use it; it places rehashed items
// with placeLessLoaded.
func (t *Table) placeInTable(lay layout, r *rootData, k, v []byte) error {
	for level := 0; level < 2; level++ {
		placed, err := t.tryInsertPlacement(lay, r, level, k, v)
		if err != nil {
			return err
		}
		if placed {
			if level == 0 {
				r.count0++
			} else {
				r.count1++
			}
			return nil
		}
	}

	for level := 0; level < 2; level++ {
		cap := levelCapacity(r, level)
		f, s := candidates(t.hasher, k, r.fSeed, r.sSeed, cap)
		for _, idx := range [2]uint64{f, s} {
			ok, slot, err := t.tryMovement(lay, r, level, idx)
			if err != nil {
				return err
			}
			if ok {
				base := levelBase(r, level)
				off := bucketOffset(lay, base, idx)
				if err := slotWrite(t.pool, lay, off, slot, k, v); err != nil {
					return err
				}
				if level == 0 {
					r.count0++
				} else {
					r.count1++
				}
				return nil
			}
		}
	}

	if r.expandTime > 0 {
		capL1 := levelCapacity(r, 1)
		f, s := candidates(t.hasher, k, r.fSeed, r.sSeed, capL1)
		for _, idx := range [2]uint64{f, s} {
			ok, slot, err := t.b2tMovement(lay, r, idx)
			if err != nil {
				return err
			}
			if ok {
				base1 := levelBase(r, 1)
				off := bucketOffset(lay, base1, idx)
				if err := slotWrite(t.pool, lay, off, slot, k, v); err != nil {
					return err
				}
				r.count1++
				return nil
			}
		}
	}

	return ErrFull
}

// Upsert deletes any existing slot for key, then inserts (key, value).
// This is a convenience for callers that want "insert is upsert"
// semantics (spec §9's resolved Open Question); plain Insert does not
// check for duplicates.
func (t *Table) Upsert(key, value []byte) error {
	if err := t.Delete(key); err != nil && err != ErrNotFound {
		return err
	}
	return t.Insert(key, value)
}
