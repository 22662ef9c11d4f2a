package pm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/crc32"
	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// HeaderSize is the size of the pool's own metadata block at the front
// of every backing file. The first Alloc call made against a freshly
// Created pool always returns exactly this offset, which callers that
// need a well-known "root" allocation (such as package levelhash) can
// rely on.
const HeaderSize = metaSize

const (
	magic          = "PMP1"
	formatVersion  = uint32(1)
	metaSize       = 4096
	maxFreeEntries = 128
	freeEntrySize  = 16 // offset uint64 + size uint64

	offMagic     = 0
	offVersion   = offMagic + 4
	offFileSize  = offVersion + 4
	offBump      = offFileSize + 8
	offFreeCount = offBump + 8
	offCRC       = offFreeCount + 4
	offFreeList  = offCRC + 4

	growthMinIncrement = 1 << 20 // 1 MiB
)

// Offset is a byte offset relative to the start of the pool's backing
// file. Unlike a raw pointer, an Offset remains valid across Close and
// a later Open even if the file is remapped at a different base
// address.
type Offset uint64

// NullOffset is never returned by Alloc; zero-value Offsets may be used
// by callers as a sentinel meaning "no pointer".
const NullOffset Offset = 0

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Pool is a single mmap'd backing file providing offset-based
// allocation, flush, and fence primitives for the level-hash engine.
type Pool struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte
	closed bool
}

// Create atomically materializes a new pool file at path with at
// least initialSize bytes available for allocation (beyond the
// package's own small metadata header), and returns it opened and
// mapped.
func Create(path string, initialSize uint64) (*Pool, error) {
	if initialSize == 0 {
		initialSize = growthMinIncrement
	}
	total := metaSize + initialSize
	buf := make([]byte, total)
	h := header{
		fileSize:  total,
		bump:      metaSize,
		freeCount: 0,
	}
	h.encode(buf)

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("pm: create %q: %w", path, err)
	}
	return open(path)
}

// Open maps an existing pool file created by Create.
func Open(path string) (*Pool, error) {
	return open(path)
}

func open(path string) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pm: open %q: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pm: stat %q: %w", path, err)
	}
	size := fi.Size()
	if size < metaSize {
		f.Close()
		return nil, ErrCorrupt
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pm: mmap %q: %w", path, err)
	}
	h, err := decodeHeader(data[:metaSize])
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	if int64(h.fileSize) != size {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("%w: header file size %d != actual %d", ErrCorrupt, h.fileSize, size)
	}
	return &Pool{path: path, file: f, data: data}, nil
}

// Close unmaps and closes the backing file.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var err error
	if e := unix.Msync(p.data, unix.MS_SYNC); e != nil {
		err = e
	}
	if e := unix.Munmap(p.data); e != nil && err == nil {
		err = e
	}
	if e := p.file.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Flush persists the byte range [off, off+size) to the backing file,
// realizing the engine's cache-line flush primitive over msync.
func (p *Pool) Flush(off Offset, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.checkRangeLocked(off, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	pageSize := uint64(os.Getpagesize())
	start := uint64(off) - (uint64(off) % pageSize)
	end := uint64(off) + size
	return unix.Msync(p.data[start:end], unix.MS_SYNC)
}

// Fence is a documented no-op: every durable field the engine mutates
// through this package goes through a single aligned machine store,
// which already establishes the ordering Fence exists for on real PM.
func (p *Pool) Fence() {}

// Bytes returns a direct, bounds-checked slice into the mapped region.
// Callers must not retain it past a Close.
func (p *Pool) Bytes(off Offset, size uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if err := p.checkRangeLocked(off, size); err != nil {
		return nil, err
	}
	return p.data[off : uint64(off)+size], nil
}

func (p *Pool) checkRangeLocked(off Offset, size uint64) error {
	if uint64(off)+size > uint64(len(p.data)) {
		return ErrOutOfRange
	}
	return nil
}

// PutUint32 performs a single aligned 4-byte little-endian store, the
// primitive the slot-write protocol relies on for token atomicity.
func (p *Pool) PutUint32(off Offset, v uint32) error {
	b, err := p.Bytes(off, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// GetUint32 performs a single aligned 4-byte little-endian load.
func (p *Pool) GetUint32(off Offset) (uint32, error) {
	b, err := p.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutUint64 performs a single aligned 8-byte little-endian store.
func (p *Pool) PutUint64(off Offset, v uint64) error {
	b, err := p.Bytes(off, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// GetUint64 performs a single aligned 8-byte little-endian load.
func (p *Pool) GetUint64(off Offset) (uint64, error) {
	b, err := p.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// header is the pool's own small bookkeeping block at offset 0,
// distinct from the level-hash table root that is allocated inside
// the arena this header manages.
type header struct {
	fileSize  uint64
	bump      uint64
	freeCount uint32
	free      [maxFreeEntries]freeEntry
}

type freeEntry struct {
	offset uint64
	size   uint64
}

func (h *header) encode(buf []byte) {
	copy(buf[offMagic:offMagic+4], magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], formatVersion)
	binary.LittleEndian.PutUint64(buf[offFileSize:], h.fileSize)
	binary.LittleEndian.PutUint64(buf[offBump:], h.bump)
	binary.LittleEndian.PutUint32(buf[offFreeCount:], h.freeCount)
	for i := uint32(0); i < h.freeCount; i++ {
		o := offFreeList + int(i)*freeEntrySize
		binary.LittleEndian.PutUint64(buf[o:], h.free[i].offset)
		binary.LittleEndian.PutUint64(buf[o+8:], h.free[i].size)
	}
	binary.LittleEndian.PutUint32(buf[offCRC:], 0)
	crc := crc32.Checksum(buf[:metaSize], crcTable)
	binary.LittleEndian.PutUint32(buf[offCRC:], crc)
}

func decodeHeader(buf []byte) (*header, error) {
	if string(buf[offMagic:offMagic+4]) != magic {
		return nil, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(buf[offVersion:]) != formatVersion {
		return nil, ErrIncompatible
	}
	stored := binary.LittleEndian.Uint32(buf[offCRC:])
	tmp := make([]byte, metaSize)
	copy(tmp, buf)
	binary.LittleEndian.PutUint32(tmp[offCRC:], 0)
	if crc32.Checksum(tmp, crcTable) != stored {
		return nil, ErrCorrupt
	}
	h := &header{
		fileSize:  binary.LittleEndian.Uint64(buf[offFileSize:]),
		bump:      binary.LittleEndian.Uint64(buf[offBump:]),
		freeCount: binary.LittleEndian.Uint32(buf[offFreeCount:]),
	}
	for i := uint32(0); i < h.freeCount && i < maxFreeEntries; i++ {
		o := offFreeList + int(i)*freeEntrySize
		h.free[i] = freeEntry{
			offset: binary.LittleEndian.Uint64(buf[o:]),
			size:   binary.LittleEndian.Uint64(buf[o+8:]),
		}
	}
	return h, nil
}

func (p *Pool) readHeaderLocked() *header {
	h, err := decodeHeader(p.data[:metaSize])
	if err != nil {
		// The header was validated at Open time; a failure here would
		// indicate in-process corruption of the mapping, which we treat
		// as fatal rather than silently limping on with zero values.
		panic(fmt.Sprintf("pm: header decode failed after open: %v", err))
	}
	return h
}

func (p *Pool) writeHeaderLocked(h *header) {
	h.encode(p.data[:metaSize])
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}
