package levelhash

// Delete removes key's slot, if present. Key/value bytes are left in
// place as tombstones; the cleared token bit is what readers rely on
// (spec §4.4).
func (t *Table) Delete(key []byte) error {
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
	res, ok, err := t.staticProbe(t.pool, lay, r, k)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := clearSlotBit(t.pool, lay, res.bucket, res.slot); err != nil {
		return err
	}
	if res.level == 0 {
		r.count0--
	} else {
		r.count1--
	}
	return t.writeRootLocked(r)
}

// Update overwrites key's value. If the key's bucket has a free slot,
// the update is log-free: the new (key, value) is written to the free
// slot and the token word atomically flips both bits in one store
// (spec §4.4). Otherwise a logged update records the new value to the
// value log before overwriting in place, so a crash mid-overwrite can
// be redone on recovery (spec §4.4, §4.5).
func (t *Table) Update(key, newValue []byte) error {
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
	v, err := t.normalizeValue(newValue, lay)
	if err != nil {
		return err
	}
	res, ok, err := t.staticProbe(t.pool, lay, r, k)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	token, err := readToken(t.pool, lay, res.bucket)
	if err != nil {
		return err
	}
	for j := uint32(0); j < lay.assocNum; j++ {
		if occupied(token, j) {
			continue
		}
		if err := writeSlotBytes(t.pool, lay, res.bucket, j, k, v); err != nil {
			return err
		}
		t.pool.Fence()
		if err := t.pool.Flush(slotOffset(lay, res.bucket, j), lay.slotSize()); err != nil {
			return err
		}
		t.pool.Fence()
		return transitionToken(t.pool, lay, res.bucket, res.slot, j)
	}

	cursor, err := t.valueLogCursor(r)
	if err != nil {
		return err
	}
	if err := t.writeValueLogEntry(lay, r, cursor, k, v); err != nil {
		return err
	}
	valOff, err := writeSlotValueBytes(t.pool, lay, res.bucket, res.slot, v)
	if err != nil {
		return err
	}
	if err := t.pool.Flush(valOff, uint64(lay.valueLen)); err != nil {
		return err
	}
	if err := t.clearValueLogEntry(lay, r, cursor); err != nil {
		return err
	}
	return t.setValueLogCursor(r, (cursor+1)%uint64(lay.logLength))
}
