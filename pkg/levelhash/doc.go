// Package levelhash implements a write-optimized, crash-consistent
// two-level bucketized hash index over a [github.com/efeslab/levelhash/pkg/pm]
// pool.
//
// A Table holds two arrays of fixed-size buckets, a top level L0 of
// 2^LevelSize buckets and a bottom level L1 of half that many. Each
// bucket holds a fixed number of key/value slots plus a token word
// marking which slots are occupied. Insert hashes a key two
// independent ways to pick one candidate bucket per level; if both
// candidates are full, Insert relocates an existing occupant to make
// room (movement within a level, or promotion from the bottom level to
// the top after the table has been expanded at least once) before
// giving up and asking the caller to Expand the table.
//
// All mutating operations (Insert, Update, Delete, Expand, Shrink) must
// be serialized by the caller or through a single *Table handle; Table
// takes care of in-process serialization with a read/write mutex and
// cross-process serialization with an advisory file lock, but does not
// implement finer-grained concurrent mutation. Read operations
// (StaticQuery, DynamicQuery) may run concurrently with a single
// writer.
package levelhash
