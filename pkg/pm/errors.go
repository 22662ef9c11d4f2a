package pm

import "errors"

var (
	// ErrCorrupt is returned when the pool's metadata header fails its
	// checksum or fails basic sanity checks.
	ErrCorrupt = errors.New("pm: pool metadata corrupt")

	// ErrIncompatible is returned when a pool file was created by a
	// different, incompatible version of this package.
	ErrIncompatible = errors.New("pm: incompatible pool version")

	// ErrAlloc is returned when an allocation cannot be satisfied,
	// including when growing the backing file fails.
	ErrAlloc = errors.New("pm: allocation failed")

	// ErrClosed is returned by any operation on a Pool after Close.
	ErrClosed = errors.New("pm: pool is closed")

	// ErrOutOfRange is returned when an offset/size pair falls outside
	// the mapped region.
	ErrOutOfRange = errors.New("pm: offset out of range")
)
