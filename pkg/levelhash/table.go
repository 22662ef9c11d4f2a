package levelhash

import (
	"fmt"
	"os"
	"sync"

	"github.com/efeslab/levelhash/pkg/pm"
)

// levelhashRootOffset is the offset every Table's root record lives
// at. It relies on a coupling with package pm: Init makes the root the
// very first allocation against a freshly Created pool, and pm.Alloc's
// bump allocator deterministically hands out pm.HeaderSize for that
// first call. Open relies on the same fact to locate the root without
// any separate directory structure.
const levelhashRootOffset = pm.Offset(pm.HeaderSize)

// Table is a handle to an open level-hash index.
type Table struct {
	mu       sync.RWMutex
	pool     *pm.Pool
	rootOff  pm.Offset
	hasher   Hasher
	lockFile *os.File
	path     string
	closed   bool
}

// Init creates a new table at path, or returns ErrInvalidOptions if
// opts fails validation. The backing pool file must not already exist.
func Init(path string, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	seeds := opts.Seeds
	if seeds == nil {
		s := generateSeeds()
		seeds = &s
	}

	addrCapacity := uint64(1) << opts.LevelSize
	bottomCapacity := addrCapacity / 2
	totalCapacity := addrCapacity + bottomCapacity

	lay := layout{keyLen: opts.KeyLen, valueLen: opts.ValueLen, assocNum: opts.AssocNum, logLength: opts.LogLength}
	l0Size := lay.levelSize(addrCapacity)
	l1Size := lay.levelSize(bottomCapacity)
	logSize := lay.logRegionSize()

	initialSize := rootSize + l0Size + l1Size + logSize + (1 << 16)

	pool, err := pm.Create(path, initialSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}

	rootOff, err := pool.Alloc(rootSize)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	if rootOff != levelhashRootOffset {
		pool.Close()
		return nil, fmt.Errorf("%w: root allocated at unexpected offset %d", ErrCorrupt, rootOff)
	}

	l0Off, err := pool.Alloc(l0Size)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	l1Off, err := pool.Alloc(l1Size)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	logOff, err := pool.Alloc(logSize)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
	}

	root := &rootData{
		keyLen: opts.KeyLen, valueLen: opts.ValueLen, assocNum: opts.AssocNum, logLength: opts.LogLength,
		levelSize: uint64(opts.LevelSize), addrCapacity: addrCapacity, totalCapacity: totalCapacity,
		count0: 0, count1: 0, expandTime: 0, resizeState: resizeIdle,
		fSeed: seeds.F, sSeed: seeds.S,
		l0: l0Off, l1: l1Off, interim: 0, interimCap: 0,
		logOffset: logOff,
	}
	if err := writeRoot(pool, rootOff, root); err != nil {
		pool.Close()
		return nil, err
	}

	lockFile, err := acquireWriterLock(path)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Table{pool: pool, rootOff: rootOff, hasher: DefaultHasher, lockFile: lockFile, path: path}, nil
}

// Open reopens an existing table, replaying any in-flight log entries
// left by a crash (spec §4.5) before returning the handle.
func Open(path string) (*Table, error) {
	pool, err := pm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if _, err := readRoot(pool, levelhashRootOffset); err != nil {
		pool.Close()
		return nil, err
	}

	lockFile, err := acquireWriterLock(path)
	if err != nil {
		pool.Close()
		return nil, err
	}

	t := &Table{pool: pool, rootOff: levelhashRootOffset, hasher: DefaultHasher, lockFile: lockFile, path: path}
	if err := t.recover(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// SetHasher overrides the default xxhash-based Hasher. Must be called
// before any mutating or querying operation, and must match across
// every process that opens the same pool file, since seeds and hash
// outputs determine where keys live.
func (t *Table) SetHasher(h Hasher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasher = h
}

// Close releases the table's in-process and cross-process locks and
// unmaps the backing pool. It does not delete the pool file; see
// Destroy.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := releaseWriterLock(t.lockFile)
	if e := t.pool.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Destroy removes the pool file and its lock sidecar entirely. The
// table must already be closed.
func Destroy(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(path + ".lock"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeRoot(pool *pm.Pool, off pm.Offset, r *rootData) error {
	buf, err := pool.Bytes(off, rootSize)
	if err != nil {
		return err
	}
	r.encode(buf)
	return pool.Flush(off, rootSize)
}

func readRoot(pool *pm.Pool, off pm.Offset) (*rootData, error) {
	buf, err := pool.Bytes(off, rootSize)
	if err != nil {
		return nil, err
	}
	return decodeRoot(buf)
}

func (t *Table) readRootLocked() (*rootData, error) {
	return readRoot(t.pool, t.rootOff)
}

func (t *Table) writeRootLocked(r *rootData) error {
	return writeRoot(t.pool, t.rootOff, r)
}

// Stats reports a snapshot of the table's current dimensions and load,
// useful for benchmark/CLI tooling.
type Stats struct {
	LevelSize                   uint32
	AddrCapacity, TotalCapacity uint64
	Count0, Count1              uint64
	ExpandTime                  uint64
	Resizing                    bool
}

func (t *Table) Stats() (Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return Stats{}, ErrClosed
	}
	r, err := t.readRootLocked()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		LevelSize:     uint32(r.levelSize),
		AddrCapacity:  r.addrCapacity,
		TotalCapacity: r.totalCapacity,
		Count0:        r.count0,
		Count1:        r.count1,
		ExpandTime:    r.expandTime,
		Resizing:      r.resizeState != resizeIdle,
	}, nil
}
