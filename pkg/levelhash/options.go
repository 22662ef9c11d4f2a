package levelhash

import "fmt"

// Seeds fixes the two hash seeds used for placement, bypassing the
// default random generation (see generateSeeds). Intended for
// deterministic tests, per the reference implementation's documented
// recommendation.
type Seeds struct {
	F uint64
	S uint64
}

// Options configures a new table at Init time. Options are persisted
// in the table root; Open takes no Options and reads them back from
// the root instead.
type Options struct {
	// KeyLen is the fixed width, in bytes, of every key. Keys shorter
	// than KeyLen are NUL-padded; keys must not exceed KeyLen.
	KeyLen uint32

	// ValueLen is the fixed width, in bytes, of every value.
	ValueLen uint32

	// AssocNum is the number of slots per bucket, 1-32. Defaults to 4.
	AssocNum uint32

	// LevelSize is the initial log2 of the top level's bucket count:
	// L0 gets 2^LevelSize buckets, L1 gets 2^(LevelSize-1).
	LevelSize uint32

	// LogLength is the ring length of the value log and insert log.
	// Defaults to 1024.
	LogLength uint32

	// Seeds optionally fixes the hash seeds for deterministic tests. If
	// nil, seeds are generated at Init from a non-deterministic source.
	Seeds *Seeds
}

const (
	DefaultAssocNum  = 4
	DefaultLogLength = 1024
	MaxAssocNum      = 32
	MinLevelSize     = 1
	MaxLevelSize     = 56
)

func (o Options) withDefaults() Options {
	if o.AssocNum == 0 {
		o.AssocNum = DefaultAssocNum
	}
	if o.LogLength == 0 {
		o.LogLength = DefaultLogLength
	}
	return o
}

func (o Options) validate() error {
	if o.KeyLen == 0 {
		return fmt.Errorf("%w: KeyLen must be > 0", ErrInvalidOptions)
	}
	if o.ValueLen == 0 {
		return fmt.Errorf("%w: ValueLen must be > 0", ErrInvalidOptions)
	}
	if o.AssocNum == 0 || o.AssocNum > MaxAssocNum {
		return fmt.Errorf("%w: AssocNum must be in [1,%d]", ErrInvalidOptions, MaxAssocNum)
	}
	if o.LevelSize < MinLevelSize || o.LevelSize > MaxLevelSize {
		return fmt.Errorf("%w: LevelSize must be in [%d,%d]", ErrInvalidOptions, MinLevelSize, MaxLevelSize)
	}
	if o.LogLength == 0 {
		return fmt.Errorf("%w: LogLength must be > 0", ErrInvalidOptions)
	}
	if o.Seeds != nil && o.Seeds.F == o.Seeds.S {
		return fmt.Errorf("%w: Seeds.F and Seeds.S must differ", ErrInvalidOptions)
	}
	return nil
}
