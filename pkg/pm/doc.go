// Package pm provides the persistent-memory pool primitives that the
// level-hash engine is built on: a single mmap'd backing file, an
// offset-based allocator, and the flush/fence operations the engine's
// slot-write protocol depends on for crash consistency.
//
// Real byte-addressable PM exposes stable virtual addresses for the
// lifetime of a mapping. A Go process cannot assume that, since a
// remapped file may land at a different base address on a later open.
// Pool therefore hands out [Offset] values - byte offsets relative to
// the start of the backing file - rather than pointers. Every Offset
// is stable across Close/Open because it never depends on the mapping
// base address.
//
// Flush is realized as msync over the touched byte range; Fence is a
// documented no-op, since every durable field the engine writes
// through this package (tokens, resize_state, log flags) is written
// with a single machine store (tokens via [Pool.PutUint32], log
// cursors via [Pool.PutUint64], log flags as single bytes, the table
// root through slices from [Pool.Bytes]), which already gives the ordering guarantee real PM fence instructions
// exist for on top of Go's memory model.
package pm
