package levelhash

import "errors"

var (
	// ErrNotFound is returned by StaticQuery, DynamicQuery, Update, and
	// Delete when the key has no occupied slot.
	ErrNotFound = errors.New("levelhash: key not found")

	// ErrFull is returned by Insert when no candidate bucket at either
	// level has room and neither movement nor promotion could free one.
	// The caller is expected to Expand and retry.
	ErrFull = errors.New("levelhash: no room for key; expand required")

	// ErrResizeInvariant is returned by Expand/Shrink when an item from
	// the source level cannot be placed into any of its candidate
	// buckets at the new capacity. This should not happen at the
	// configured load thresholds and indicates corruption or a
	// misconfigured AssocNum.
	ErrResizeInvariant = errors.New("levelhash: resize invariant violated")

	// ErrShrinkNotAllowed is returned by Shrink when the table's load
	// exceeds the shrink threshold.
	ErrShrinkNotAllowed = errors.New("levelhash: load too high to shrink")

	// ErrAlloc is returned when the backing pool cannot satisfy an
	// allocation during Init, Expand, or Shrink.
	ErrAlloc = errors.New("levelhash: pool allocation failed")

	// ErrCorrupt is returned by Open when the table root fails its
	// checksum or basic sanity checks.
	ErrCorrupt = errors.New("levelhash: table root corrupt")

	// ErrIncompatible is returned by Open when the table root was
	// written by an incompatible format version.
	ErrIncompatible = errors.New("levelhash: incompatible table version or options")

	// ErrInvalidOptions is returned by Init when Options fail validation.
	ErrInvalidOptions = errors.New("levelhash: invalid options")

	// ErrInvalidKey is returned when a key is longer than the table's
	// configured KeyLen. Shorter keys are NUL-padded.
	ErrInvalidKey = errors.New("levelhash: key length mismatch")

	// ErrInvalidValue is returned when a value is longer than the
	// table's configured ValueLen. Shorter values are NUL-padded.
	ErrInvalidValue = errors.New("levelhash: value length mismatch")

	// ErrBusy is returned when a writer handle cannot acquire the
	// cross-process advisory lock.
	ErrBusy = errors.New("levelhash: another process holds the writer lock")

	// ErrClosed is returned by any operation on a Table after Close.
	ErrClosed = errors.New("levelhash: table is closed")
)
