package levelhash

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Hasher realizes the engine's external hash-function collaborator:
// any deterministic, seedable, near-uniform 64-bit hash. The default
// implementation wraps xxhash.
type Hasher interface {
	Hash(key []byte, seed uint64) uint64
}

// xxHasher seeds xxhash by hashing an 8-byte little-endian seed prefix
// concatenated with the key, since xxhash/v2's public API exposes only
// the unseeded Sum64 entry point.
type xxHasher struct{}

// DefaultHasher is the Hasher used when Options does not specify one.
var DefaultHasher Hasher = xxHasher{}

func (xxHasher) Hash(key []byte, seed uint64) uint64 {
	var prefixed [8]byte
	binary.LittleEndian.PutUint64(prefixed[:], seed)
	d := xxhash.New()
	d.Write(prefixed[:])
	d.Write(key)
	return d.Sum64()
}

// generateSeeds reproduces the reference implementation's
// generate_seeds: draw two 64-bit seeds from a process-seeded PRNG,
// retrying until they differ. math/rand/v2's top-level functions are
// already seeded from a cryptographically random source at process
// start, which is used here in place of the reference's weaker
// wall-clock seeding.
func generateSeeds() Seeds {
	for {
		f := rand.Uint64()
		s := rand.Uint64()
		if f != s {
			return Seeds{F: f, S: s}
		}
	}
}

// secureSeed returns a single crypto/rand-sourced seed instead of
// relying on math/rand/v2's implicit process seeding (e.g. for
// long-running services that create many tables and want seeds
// decorrelated from process start time). It falls back to
// math/rand/v2 if reading from crypto/rand fails.
func secureSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return rand.Uint64()
	}
	return binary.LittleEndian.Uint64(b[:])
}
