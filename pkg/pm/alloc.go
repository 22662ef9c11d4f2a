package pm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Alloc returns an Offset to a newly allocated region of at least size
// bytes, satisfying the request from the free list first and falling
// back to growing the arena (and, if necessary, the backing file).
func (p *Pool) Alloc(size uint64) (Offset, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-size allocation", ErrAlloc)
	}
	size = align8(size)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	h := p.readHeaderLocked()

	if best := -1; true {
		for i := uint32(0); i < h.freeCount; i++ {
			if h.free[i].size < size {
				continue
			}
			if best == -1 || h.free[i].size < h.free[best].size {
				best = int(i)
			}
		}
		if best != -1 {
			off := Offset(h.free[best].offset)
			leftover := h.free[best].size - size
			const minSplit = 64
			if leftover >= minSplit {
				h.free[best].offset += size
				h.free[best].size = leftover
			} else {
				size = h.free[best].size
				last := h.freeCount - 1
				h.free[best] = h.free[last]
				h.freeCount = last
			}
			p.writeHeaderLocked(h)
			return off, nil
		}
	}

	needed := h.bump + size
	if needed > h.fileSize {
		if err := p.growLocked(needed); err != nil {
			return 0, err
		}
		h = p.readHeaderLocked()
	}
	off := Offset(h.bump)
	h.bump += size
	p.writeHeaderLocked(h)
	return off, nil
}

// Free returns the region [off, off+size) to the pool's free list for
// reuse by later Alloc calls. Unlike the reference allocator's no-op
// pfree, this is a real free: a bounded ring of free-list entries is
// persisted in the pool header. If the ring is full the region is
// dropped (leaked) rather than blocking, which is documented as an
// accepted simplification.
func (p *Pool) Free(off Offset, size uint64) {
	size = align8(size)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	h := p.readHeaderLocked()
	if h.freeCount >= maxFreeEntries {
		return
	}
	h.free[h.freeCount] = freeEntry{offset: uint64(off), size: size}
	h.freeCount++
	p.writeHeaderLocked(h)
}

// growLocked extends the backing file and re-establishes the mapping
// so that at least minSize bytes are available. Must be called with
// p.mu held.
func (p *Pool) growLocked(minSize uint64) error {
	newSize := uint64(len(p.data)) * 2
	if newSize < minSize {
		newSize = minSize
	}
	if newSize < minSize+growthMinIncrement {
		newSize = minSize + growthMinIncrement
	}

	if err := p.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("%w: grow truncate: %v", ErrAlloc, err)
	}
	if err := unix.Munmap(p.data); err != nil {
		return fmt.Errorf("%w: grow munmap: %v", ErrAlloc, err)
	}
	data, err := unix.Mmap(int(p.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: grow mmap: %v", ErrAlloc, err)
	}
	p.data = data

	h := p.readHeaderLocked()
	h.fileSize = newSize
	p.writeHeaderLocked(h)
	return nil
}
