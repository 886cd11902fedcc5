package pool

import (
	"unsafe"

	"github.com/pkg/errors"
)

const (
	minChunkBytes = 4 * 1024 // 4 KiB, per spec.md section 3
	chunkAlign    = 16
	fourGiB       = uint64(4) * 1024 * 1024 * 1024
)

// chunk is one contiguous raw buffer within a slab. arena is the
// over-allocated backing []byte, kept alive purely so the GC never reclaims
// memory that outstanding raw pointers still reference; base is the
// 16-byte-aligned address carved out of arena that slots are placed at.
type chunk struct {
	arena     []byte
	base      uintptr
	occupancy bitset
}

// SmallSlab is one fixed-size-class slab: a growable collection of
// fixed-size chunks, each carved into equal-sized slots, with bitmap free
// lists per spec.md section 3/4.2.
type SmallSlab struct {
	elemSize      uintptr
	chunkBytes    uintptr
	slotsPerChunk int
	maxChunks     int

	lock    SpinLock
	chunks  []*chunk
	anyFree bitset
	index   baseIndex

	highWater uintptr // monotone high-water mark; chunks are never released
	metrics   *Metrics
}

// chunkBytesFor computes the per-chunk buffer size for a given element size:
// 4 KiB for elem sizes under 1 KiB, otherwise 4x the element size. For this
// allocator's fixed size-class table (max 1024 bytes) both branches yield
// 4 KiB, but the formula is kept general per spec.md section 3.
func chunkBytesFor(elemSize uintptr) uintptr {
	if elemSize < 1024 {
		return minChunkBytes
	}
	return 4 * elemSize
}

// newSmallSlab constructs an empty slab for the given fixed element size.
func newSmallSlab(elemSize uintptr, metrics *Metrics) *SmallSlab {
	chunkBytes := chunkBytesFor(elemSize)
	slotsPerChunk := int(chunkBytes / elemSize)
	maxChunks := int(fourGiB / uint64(chunkBytes))

	return &SmallSlab{
		elemSize:      elemSize,
		chunkBytes:    chunkBytes,
		slotsPerChunk: slotsPerChunk,
		maxChunks:     maxChunks,
		metrics:       metrics,
	}
}

func alignUp(p uintptr, align uintptr) uintptr {
	return (p + align - 1) &^ (align - 1)
}

// growLocked allocates a new 16-byte-aligned chunk and appends it to the
// slab. Callers must hold s.lock.
func (s *SmallSlab) growLocked() error {
	if len(s.chunks) >= s.maxChunks {
		if s.metrics != nil {
			s.metrics.observeCapacityExhausted(s.elemSize)
		}
		return errors.Wrapf(ErrCapacityExhausted, "elem size %d: chunk cap %d reached", s.elemSize, s.maxChunks)
	}

	arena := make([]byte, s.chunkBytes+chunkAlign-1)
	base := alignUp(uintptr(unsafe.Pointer(&arena[0])), chunkAlign)

	c := &chunk{
		arena:     arena,
		base:      base,
		occupancy: newBitset(s.slotsPerChunk),
	}

	chunkIndex := len(s.chunks)
	s.chunks = append(s.chunks, c)
	s.anyFree.ensureBits(chunkIndex + 1)
	s.anyFree.set(chunkIndex)
	s.index.insert(base, chunkIndex)

	s.highWater = uintptr(len(s.chunks)) * s.chunkBytes
	Debug("slab(%d): grew to %d chunk(s), %d bytes", s.elemSize, len(s.chunks), s.highWater)
	if s.metrics != nil {
		s.metrics.observeHighWater(s.elemSize, s.highWater)
	}
	return nil
}

// AllocateItem reserves one slot sized for requested_size <= elemSize and
// returns a pointer to it. The lowest-numbered free chunk and, within it,
// the lowest-numbered free slot are always used, giving deterministic,
// dense placement.
func (s *SmallSlab) AllocateItem(requestedSize uintptr) (unsafe.Pointer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if requestedSize > s.elemSize {
		Fatal("slab(%d): AllocateItem called with oversized request %d", s.elemSize, requestedSize)
		panic("slab-pool-allocator: internal routing error, oversized request reached slab")
	}

	chunkIndex, found := s.anyFree.firstSet(len(s.chunks))
	if !found {
		if err := s.growLocked(); err != nil {
			return nil, err
		}
		chunkIndex = len(s.chunks) - 1
	}

	c := s.chunks[chunkIndex]
	slot, ok := c.occupancy.firstZero(s.slotsPerChunk)
	if !ok {
		Fatal("slab(%d): any-free bit set for chunk %d but no free slot found", s.elemSize, chunkIndex)
		panic("slab-pool-allocator: any-free/occupancy bitmap inconsistency")
	}

	c.occupancy.set(slot)
	if c.occupancy.popcount(s.slotsPerChunk) == s.slotsPerChunk {
		s.anyFree.clear(chunkIndex)
	}

	ptr := unsafe.Pointer(c.base + uintptr(slot)*s.elemSize)
	if s.metrics != nil {
		s.metrics.observeAllocate(s.elemSize)
	}
	return ptr, nil
}

// DeallocateItem releases the slot owning p back to its chunk's free list.
func (s *SmallSlab) DeallocateItem(p unsafe.Pointer) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	addr := uintptr(p)
	chunkIndex, ok := s.index.floor(addr)
	if !ok {
		if s.metrics != nil {
			s.metrics.observeForeignPointer(s.elemSize)
		}
		return errors.Wrapf(ErrForeignPointer, "elem size %d: no chunk at or below %#x", s.elemSize, addr)
	}

	c := s.chunks[chunkIndex]
	offset := addr - c.base
	if offset >= s.chunkBytes || offset%s.elemSize != 0 {
		if s.metrics != nil {
			s.metrics.observeForeignPointer(s.elemSize)
		}
		return errors.Wrapf(ErrForeignPointer, "elem size %d: %#x is not a slot of chunk %d", s.elemSize, addr, chunkIndex)
	}

	slot := int(offset / s.elemSize)
	if !c.occupancy.test(slot) {
		if s.metrics != nil {
			s.metrics.observeDoubleFree(s.elemSize)
		}
		return errors.Wrapf(ErrDoubleFree, "elem size %d: slot %d of chunk %d already free", s.elemSize, slot, chunkIndex)
	}

	c.occupancy.clear(slot)
	s.anyFree.set(chunkIndex)
	if s.metrics != nil {
		s.metrics.observeFree(s.elemSize)
	}
	return nil
}

// AllocatedMemory returns the slab's current high-water footprint in bytes:
// chunkBytes times the number of chunks ever grown. It never decreases,
// since chunks are never released back to the OS during the slab's
// lifetime.
func (s *SmallSlab) AllocatedMemory() uintptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.highWater
}

// ElemSize returns the slab's fixed slot size.
func (s *SmallSlab) ElemSize() uintptr {
	return s.elemSize
}
