package levelhash

// recover replays any logged but not-yet-retired mutation left by a
// crash (spec §4.5), and discards any in-flight resize's not-yet-
// committed destination array. It is called once, from Open, before
// the table is handed to the caller.
//
// The value log and insert log each hold at most one live entry at a
// time (spec §10.3), named by a persisted cursor, so recovery only
// needs to inspect the single entry the cursor currently names rather
// than scan the whole ring.
func (t *Table) recover() error {
	r, err := t.readRootLocked()
	if err != nil {
		return err
	}
	lay := newLayout(r)

	if err := t.recoverValueLog(lay, r); err != nil {
		return err
	}
	if err := t.recoverInsertLog(lay, r); err != nil {
		return err
	}
	return t.recoverResize(lay, r)
}

// recoverValueLog redoes a pending in-place value overwrite (spec
// §4.4's logged-update path): the new value is durable in the log
// before the slot is touched, so recovery just has to make sure the
// slot's copy matches.
func (t *Table) recoverValueLog(lay layout, r *rootData) error {
	idx, err := t.valueLogCursor(r)
	if err != nil {
		return err
	}
	entry, err := t.readValueLogEntry(lay, r, idx)
	if err != nil {
		return err
	}
	if entry.flag == 0 {
		return nil
	}

	res, ok, err := t.staticProbe(t.pool, lay, r, entry.key)
	if err != nil {
		return err
	}
	if ok {
		valOff, err := writeSlotValueBytes(t.pool, lay, res.bucket, res.slot, entry.value)
		if err != nil {
			return err
		}
		if err := t.pool.Flush(valOff, uint64(lay.valueLen)); err != nil {
			return err
		}
	}
	return t.clearValueLogEntry(lay, r, idx)
}

// recoverInsertLog redoes a pending movement's destination half (spec
// §4.9): the destination write is durable before a crash could clear
// the source bit, so redoing the destination write is always safe and
// idempotent. It does not hunt for and clear a stale source copy left
// by a crash between the destination write and the source clear; the
// table tolerates a transient duplicate until the key's next mutating
// touch naturally retires one copy (spec §9's resolved Open Question:
// no recovery dedup sweep).
func (t *Table) recoverInsertLog(lay layout, r *rootData) error {
	idx, err := t.insertLogCursor(r)
	if err != nil {
		return err
	}
	entry, err := t.readInsertLogEntry(lay, r, idx)
	if err != nil {
		return err
	}
	if entry.flag == 0 {
		return nil
	}

	base := levelBase(r, int(entry.level))
	off := bucketOffset(lay, base, entry.bucketIdx)
	if err := slotWrite(t.pool, lay, off, uint32(entry.slot), entry.key, entry.value); err != nil {
		return err
	}
	return t.clearInsertLogEntry(lay, r, idx)
}

// recoverResize discards an Expand or Shrink left in flight by a
// crash. Expand and Shrink never mutate the table's committed shape
// (l0, l1, addrCapacity, levelSize, counts) until every item has been
// placed into a freshly allocated, not-yet-referenced destination
// array; that array is the only thing a crash mid-resize can leave
// dangling, so discarding it and resetting resize_state to idle always
// returns the table to its last fully-committed, valid shape. The
// caller can simply call Expand or Shrink again.
func (t *Table) recoverResize(lay layout, r *rootData) error {
	if r.resizeState == resizeIdle {
		return nil
	}
	if r.interim != 0 {
		t.pool.Free(r.interim, lay.levelSize(r.interimCap))
	}
	r.resizeState = resizeIdle
	r.interim = 0
	r.interimCap = 0
	return t.writeRootLocked(r)
}
