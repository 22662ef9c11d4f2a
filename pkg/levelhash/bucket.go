package levelhash

import (
	"bytes"

	"github.com/efeslab/levelhash/pkg/pm"
)

// bucketOffset returns the byte offset of bucket idx within a level
// whose buckets begin at base.
func bucketOffset(lay layout, base pm.Offset, idx uint64) pm.Offset {
	return base + pm.Offset(idx*lay.bucketSize())
}

func slotOffset(lay layout, bucketOff pm.Offset, slot uint32) pm.Offset {
	return bucketOff + pm.Offset(uint64(slot)*lay.slotSize())
}

func tokenOffset(lay layout, bucketOff pm.Offset) pm.Offset {
	return bucketOff + pm.Offset(lay.tokenOffset())
}

func readToken(pool *pm.Pool, lay layout, bucketOff pm.Offset) (uint32, error) {
	return pool.GetUint32(tokenOffset(lay, bucketOff))
}

func writeToken(pool *pm.Pool, lay layout, bucketOff pm.Offset, token uint32) error {
	off := tokenOffset(lay, bucketOff)
	if err := pool.PutUint32(off, token); err != nil {
		return err
	}
	return pool.Flush(off, 4)
}

func occupied(token uint32, slot uint32) bool {
	return token&(1<<slot) != 0
}

func withBit(token uint32, slot uint32, set bool) uint32 {
	if set {
		return token | (1 << slot)
	}
	return token &^ (1 << slot)
}

func readSlotKey(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32) ([]byte, error) {
	off := slotOffset(lay, bucketOff, slot)
	b, err := pool.Bytes(off, uint64(lay.keyLen))
	if err != nil {
		return nil, err
	}
	out := make([]byte, lay.keyLen)
	copy(out, b)
	return out, nil
}

func readSlotValue(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32) ([]byte, error) {
	off := slotOffset(lay, bucketOff, slot) + pm.Offset(lay.keyLen)
	b, err := pool.Bytes(off, uint64(lay.valueLen))
	if err != nil {
		return nil, err
	}
	out := make([]byte, lay.valueLen)
	copy(out, b)
	return out, nil
}

func paddedKey(key []byte, keyLen uint32) []byte {
	out := make([]byte, keyLen)
	copy(out, key)
	return out
}

func paddedValue(value []byte, valueLen uint32) []byte {
	out := make([]byte, valueLen)
	copy(out, value)
	return out
}

// writeSlotBytes copies key||value into the slot without touching the
// token; step 1 of the slot-write protocol (spec §4.6).
func writeSlotBytes(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32, key, value []byte) error {
	off := slotOffset(lay, bucketOff, slot)
	b, err := pool.Bytes(off, lay.slotSize())
	if err != nil {
		return err
	}
	copy(b[:lay.keyLen], key)
	copy(b[lay.keyLen:], value)
	return nil
}

// writeSlotValueBytes overwrites only the value portion of an already
// occupied slot, used by the logged-update path (spec §4.4) where the
// key and token bit are unchanged.
func writeSlotValueBytes(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32, value []byte) (pm.Offset, error) {
	off := slotOffset(lay, bucketOff, slot) + pm.Offset(lay.keyLen)
	b, err := pool.Bytes(off, uint64(lay.valueLen))
	if err != nil {
		return 0, err
	}
	copy(b, value)
	return off, nil
}

// slotWrite performs the full slot-write protocol from spec §4.6,
// always taking the two-flush path: the cache-line-sharing
// optimization is documented as performance-only, not a correctness
// requirement, so this implementation does not attempt to detect
// whether the slot and token share a cache line.
func slotWrite(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32, key, value []byte) error {
	if err := writeSlotBytes(pool, lay, bucketOff, slot, key, value); err != nil {
		return err
	}
	pool.Fence()
	if err := pool.Flush(slotOffset(lay, bucketOff, slot), lay.slotSize()); err != nil {
		return err
	}
	pool.Fence()

	token, err := readToken(pool, lay, bucketOff)
	if err != nil {
		return err
	}
	return writeToken(pool, lay, bucketOff, withBit(token, slot, true))
}

// clearSlotBit clears a bucket's token bit for slot (delete, and the
// source-slot step of movement), flushing and fencing per spec §4.4/§4.9.
func clearSlotBit(pool *pm.Pool, lay layout, bucketOff pm.Offset, slot uint32) error {
	token, err := readToken(pool, lay, bucketOff)
	if err != nil {
		return err
	}
	if err := writeToken(pool, lay, bucketOff, withBit(token, slot, false)); err != nil {
		return err
	}
	pool.Fence()
	return nil
}

// transitionToken performs the atomic log-free update token transition
// (spec §4.4): a single store clears oldSlot's bit and sets newSlot's
// bit, so readers and crash recovery see either the pre- or post-state,
// never a torn mix.
func transitionToken(pool *pm.Pool, lay layout, bucketOff pm.Offset, oldSlot, newSlot uint32) error {
	token, err := readToken(pool, lay, bucketOff)
	if err != nil {
		return err
	}
	next := withBit(token, oldSlot, false)
	next = withBit(next, newSlot, true)
	return writeToken(pool, lay, bucketOff, next)
}

func keysEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
