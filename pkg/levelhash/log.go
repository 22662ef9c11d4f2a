package levelhash

import (
	"github.com/efeslab/levelhash/pkg/pm"
)

// The value log and insert log are each a ring of fixed-size entries,
// but (per the reference implementation and spec §10.3) only ever have
// at most one live (flag=1) entry at a time: a cursor names the next
// slot to use, rotating after each successful clear. This matches the
// single-writer model's "at most one key's pending update or movement"
// crash-consistency argument (P6).

func valueEntryOffset(lay layout, logOff pm.Offset, idx uint64) pm.Offset {
	return logOff + pm.Offset(lay.valueEntriesOffset()) + pm.Offset(idx*lay.valueEntrySize())
}

func insertEntryOffset(lay layout, logOff pm.Offset, idx uint64) pm.Offset {
	return logOff + pm.Offset(lay.insertEntriesOffset()) + pm.Offset(idx*lay.insertEntrySize())
}

func (t *Table) valueLogCursor(r *rootData) (uint64, error) {
	return t.pool.GetUint64(r.logOffset + logOffValueCurrent)
}

func (t *Table) setValueLogCursor(r *rootData, idx uint64) error {
	off := r.logOffset + logOffValueCurrent
	if err := t.pool.PutUint64(off, idx); err != nil {
		return err
	}
	return t.pool.Flush(off, 8)
}

func (t *Table) insertLogCursor(r *rootData) (uint64, error) {
	return t.pool.GetUint64(r.logOffset + logOffInsertCurrent)
}

func (t *Table) setInsertLogCursor(r *rootData, idx uint64) error {
	off := r.logOffset + logOffInsertCurrent
	if err := t.pool.PutUint64(off, idx); err != nil {
		return err
	}
	return t.pool.Flush(off, 8)
}

// writeValueLogEntry persists a pending logged update (spec §4.4): the
// key/value are durable and flushed before the flag is set, so a crash
// before the flag write leaves the entry inert.
func (t *Table) writeValueLogEntry(lay layout, r *rootData, idx uint64, key, value []byte) error {
	off := valueEntryOffset(lay, r.logOffset, idx)
	b, err := t.pool.Bytes(off, lay.valueEntrySize())
	if err != nil {
		return err
	}
	copy(b[:lay.keyLen], key)
	copy(b[lay.keyLen:lay.keyLen+lay.valueLen], value)
	if err := t.pool.Flush(off, uint64(lay.keyLen+lay.valueLen)); err != nil {
		return err
	}
	t.pool.Fence()

	flagOff := off + pm.Offset(lay.keyLen+lay.valueLen)
	b[lay.keyLen+lay.valueLen] = 1
	if err := t.pool.Flush(flagOff, 1); err != nil {
		return err
	}
	t.pool.Fence()
	return nil
}

func (t *Table) clearValueLogEntry(lay layout, r *rootData, idx uint64) error {
	off := valueEntryOffset(lay, r.logOffset, idx)
	flagOff := off + pm.Offset(lay.keyLen+lay.valueLen)
	b, err := t.pool.Bytes(flagOff, 1)
	if err != nil {
		return err
	}
	b[0] = 0
	if err := t.pool.Flush(flagOff, 1); err != nil {
		return err
	}
	t.pool.Fence()
	return nil
}

type valueLogEntry struct {
	key, value []byte
	flag       byte
}

func (t *Table) readValueLogEntry(lay layout, r *rootData, idx uint64) (valueLogEntry, error) {
	off := valueEntryOffset(lay, r.logOffset, idx)
	b, err := t.pool.Bytes(off, lay.valueEntrySize())
	if err != nil {
		return valueLogEntry{}, err
	}
	e := valueLogEntry{
		key:   append([]byte(nil), b[:lay.keyLen]...),
		value: append([]byte(nil), b[lay.keyLen:lay.keyLen+lay.valueLen]...),
		flag:  b[lay.keyLen+lay.valueLen],
	}
	return e, nil
}

// writeInsertLogEntry persists the destination of a pending item
// movement before any bytes move (spec §4.9).
func (t *Table) writeInsertLogEntry(lay layout, r *rootData, idx uint64, key, value []byte, level byte, bucketIdx uint64, slot byte) error {
	off := insertEntryOffset(lay, r.logOffset, idx)
	b, err := t.pool.Bytes(off, lay.insertEntrySize())
	if err != nil {
		return err
	}
	p := 0
	copy(b[p:p+int(lay.keyLen)], key)
	p += int(lay.keyLen)
	copy(b[p:p+int(lay.valueLen)], value)
	p += int(lay.valueLen)
	b[p] = level
	p++
	putUint64At(b, p, bucketIdx)
	p += 8
	b[p] = slot
	p++

	if err := t.pool.Flush(off, uint64(p)); err != nil {
		return err
	}
	t.pool.Fence()

	flagOff := off + pm.Offset(p)
	b[p] = 1
	if err := t.pool.Flush(flagOff, 1); err != nil {
		return err
	}
	t.pool.Fence()
	return nil
}

func (t *Table) clearInsertLogEntry(lay layout, r *rootData, idx uint64) error {
	off := insertEntryOffset(lay, r.logOffset, idx)
	flagOff := off + pm.Offset(lay.keyLen+lay.valueLen+1+8+1)
	b, err := t.pool.Bytes(flagOff, 1)
	if err != nil {
		return err
	}
	b[0] = 0
	if err := t.pool.Flush(flagOff, 1); err != nil {
		return err
	}
	t.pool.Fence()
	return nil
}

type insertLogEntry struct {
	key, value []byte
	level      byte
	bucketIdx  uint64
	slot       byte
	flag       byte
}

func (t *Table) readInsertLogEntry(lay layout, r *rootData, idx uint64) (insertLogEntry, error) {
	off := insertEntryOffset(lay, r.logOffset, idx)
	b, err := t.pool.Bytes(off, lay.insertEntrySize())
	if err != nil {
		return insertLogEntry{}, err
	}
	p := 0
	key := append([]byte(nil), b[p:p+int(lay.keyLen)]...)
	p += int(lay.keyLen)
	value := append([]byte(nil), b[p:p+int(lay.valueLen)]...)
	p += int(lay.valueLen)
	level := b[p]
	p++
	bucketIdx := getUint64At(b, p)
	p += 8
	slot := b[p]
	p++
	flag := b[p]
	return insertLogEntry{key: key, value: value, level: level, bucketIdx: bucketIdx, slot: slot, flag: flag}, nil
}

func putUint64At(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func getUint64At(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}
