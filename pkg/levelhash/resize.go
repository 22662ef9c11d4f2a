package levelhash

import (
	"fmt"
	"math/bits"

	"github.com/efeslab/levelhash/pkg/pm"
)

// shrinkLoadNumerator/shrinkLoadDenominator express the 0.4 load
// threshold below which Shrink is allowed (spec §4.8) as an integer
// fraction, avoiding floating point on a persisted invariant.
const (
	shrinkLoadNumerator   = 2
	shrinkLoadDenominator = 5
)

func zeroRegion(pool *pm.Pool, off pm.Offset, size uint64) error {
	buf, err := pool.Bytes(off, size)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	return pool.Flush(off, size)
}

// Expand doubles the table's top level (spec §4.7): a fresh, larger L0
// is populated by rehashing every item currently in L1, the table's old
// L0 becomes the new bottom level unchanged, and the old L1 is freed.
// The committed table shape (l0, l1,
// addrCapacity, levelSize, counts) is only ever updated by a single
// writeRootLocked once every item has been placed into the new top
// level, so a crash mid-Expand always leaves the table in its
// previous, fully valid shape (see recoverResize).
func (t *Table) Expand() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return err
	}
	if uint32(r.levelSize)+1 > MaxLevelSize {
		return fmt.Errorf("%w: level size would exceed %d", ErrResizeInvariant, MaxLevelSize)
	}
	lay := newLayout(r)

	newAddrCapacity := r.addrCapacity * 2
	newL0Size := lay.levelSize(newAddrCapacity)
	interimOff, err := t.pool.Alloc(newL0Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	if err := zeroRegion(t.pool, interimOff, newL0Size); err != nil {
		t.pool.Free(interimOff, newL0Size)
		return err
	}

	r.resizeState = resizeExpanding
	r.interim = interimOff
	r.interimCap = newAddrCapacity
	if err := t.writeRootLocked(r); err != nil {
		t.pool.Free(interimOff, newL0Size)
		return err
	}

	oldL1Base := r.l1
	oldL1Cap := r.addrCapacity / 2
	var moved uint64
	for idx := uint64(0); idx < oldL1Cap; idx++ {
		off := bucketOffset(lay, oldL1Base, idx)
		token, err := readToken(t.pool, lay, off)
		if err != nil {
			return err
		}
		for slot := uint32(0); slot < lay.assocNum; slot++ {
			if !occupied(token, slot) {
				continue
			}
			key, err := readSlotKey(t.pool, lay, off, slot)
			if err != nil {
				return err
			}
			value, err := readSlotValue(t.pool, lay, off, slot)
			if err != nil {
				return err
			}
			f, s := candidates(t.hasher, key, r.fSeed, r.sSeed, newAddrCapacity)
			placed, err := t.placeLessLoaded(lay, interimOff, f, s, key, value)
			if err != nil {
				return err
			}
			if !placed {
				return fmt.Errorf("%w: no room for rehashed item at new top level", ErrResizeInvariant)
			}
			moved++
		}
	}

	t.pool.Free(oldL1Base, lay.levelSize(oldL1Cap))

	r.count1 = r.count0
	r.count0 = moved
	r.l1 = r.l0
	r.l0 = interimOff
	r.addrCapacity = newAddrCapacity
	r.totalCapacity = newAddrCapacity + newAddrCapacity/2
	r.levelSize++
	r.expandTime++
	r.interim = 0
	r.interimCap = 0
	r.resizeState = resizeIdle
	return t.writeRootLocked(r)
}

// placeLessLoaded places (key, value) into whichever of f, s currently
// holds fewer occupied slots, falling back to the other candidate if
// the less-loaded choice turns out to be full by the time it is
// written (spec §10.3's reproduction of the reference's expand
// tie-break; ties favor f).
func (t *Table) placeLessLoaded(lay layout, base pm.Offset, f, s uint64, key, value []byte) (bool, error) {
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

	chosenOff, otherOff := fOff, sOff
	if bits.OnesCount32(sToken) < bits.OnesCount32(fToken) {
		chosenOff, otherOff = sOff, fOff
	}

	for _, off := range [2]pm.Offset{chosenOff, otherOff} {
		token, err := readToken(t.pool, lay, off)
		if err != nil {
			return false, err
		}
		for slot := uint32(0); slot < lay.assocNum; slot++ {
			if occupied(token, slot) {
				continue
			}
			if err := slotWrite(t.pool, lay, off, slot, key, value); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Shrink halves the table's top level (spec §4.8), refusing if the
// table's load is too high for the result to stay within the
// association-array's working thresholds. The old L1 becomes the new
// L0 in place (no rehash: its bucket count already equals the new
// top's capacity); every item in the old L0 is rehashed into the
// combined new structure via the ordinary insert path, working against
// an in-memory shadow root so that, as with Expand, nothing about the
// table's committed shape changes until a single final writeRootLocked.
func (t *Table) Shrink() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return err
	}
	if uint32(r.levelSize) <= MinLevelSize {
		return ErrShrinkNotAllowed
	}
	maxAllowed := r.totalCapacity * uint64(r.assocNum) * shrinkLoadNumerator / shrinkLoadDenominator
	if r.count0+r.count1 > maxAllowed {
		return ErrShrinkNotAllowed
	}
	lay := newLayout(r)

	newLevelSize := r.levelSize - 1
	newAddrCapacity := r.addrCapacity / 2
	newBottomCapacity := newAddrCapacity / 2
	newL1Size := lay.levelSize(newBottomCapacity)
	newL1Off, err := t.pool.Alloc(newL1Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	if err := zeroRegion(t.pool, newL1Off, newL1Size); err != nil {
		t.pool.Free(newL1Off, newL1Size)
		return err
	}

	r.resizeState = resizeShrinking
	r.interim = newL1Off
	r.interimCap = newBottomCapacity
	if err := t.writeRootLocked(r); err != nil {
		t.pool.Free(newL1Off, newL1Size)
		return err
	}

	// expandTime resets to 0 on shrink (spec §10.3): it is the sole gate
	// for bottom-to-top promotion, and a shrunken table must not keep
	// promoting into an L1 it no longer expanded into until it expands
	// again.
	shadow := &rootData{
		keyLen: r.keyLen, valueLen: r.valueLen, assocNum: r.assocNum, logLength: r.logLength,
		levelSize: newLevelSize, addrCapacity: newAddrCapacity, totalCapacity: newAddrCapacity + newBottomCapacity,
		count0: r.count1, count1: 0, expandTime: 0, resizeState: resizeIdle,
		fSeed: r.fSeed, sSeed: r.sSeed,
		l0: r.l1, l1: newL1Off, interim: 0, interimCap: 0,
		logOffset: r.logOffset,
	}

	oldL0Base := r.l0
	oldL0Cap := r.addrCapacity
	for idx := uint64(0); idx < oldL0Cap; idx++ {
		off := bucketOffset(lay, oldL0Base, idx)
		token, err := readToken(t.pool, lay, off)
		if err != nil {
			return err
		}
		for slot := uint32(0); slot < lay.assocNum; slot++ {
			if !occupied(token, slot) {
				continue
			}
			key, err := readSlotKey(t.pool, lay, off, slot)
			if err != nil {
				return err
			}
			value, err := readSlotValue(t.pool, lay, off, slot)
			if err != nil {
				return err
			}
			if err := t.placeInTable(lay, shadow, key, value); err != nil {
				if err == ErrFull {
					return fmt.Errorf("%w: no room for item at shrunken capacity", ErrResizeInvariant)
				}
				return err
			}
		}
	}

	if err := t.writeRootLocked(shadow); err != nil {
		return err
	}
	t.pool.Free(oldL0Base, lay.levelSize(oldL0Cap))
	return nil
}
