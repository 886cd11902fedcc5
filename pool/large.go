package pool

import (
	"sync"
	"unsafe"
)

// largeDelegate satisfies the same allocate/deallocate contract as a small
// slab but delegates to Go's memory allocator for items above the largest
// size class, per spec.md section 4.3. It carries no per-class bookkeeping
// of its own beyond what the in-band header already provides.
//
// Go's garbage collector, unlike a raw C allocator, would otherwise reclaim
// the backing array the moment no Go-visible reference remains — which is
// exactly the situation once only an unsafe.Pointer into it survives. live
// exists purely to pin those backing arrays until Deallocate drops them; it
// plays no role in routing or size bookkeeping and needs no more than the
// thread-safety sync.Map already provides, mirroring the spec's assumption
// that "the underlying system allocator is assumed to be thread-safe."
type largeDelegate struct {
	live    sync.Map // uintptr(base) -> []byte
	metrics *Metrics
}

func newLargeDelegate(metrics *Metrics) *largeDelegate {
	return &largeDelegate{metrics: metrics}
}

// allocate obtains a 16-byte-aligned block of exactly size bytes.
func (d *largeDelegate) allocate(size uintptr) (unsafe.Pointer, error) {
	if size <= 1024 {
		Debug("large delegate: size %d is within small-class range; debug invariant only", size)
	}

	arena := make([]byte, size+chunkAlign-1)
	base := alignUp(uintptr(unsafe.Pointer(&arena[0])), chunkAlign)
	d.live.Store(base, arena)

	if d.metrics != nil {
		d.metrics.observeLargeAllocate(size)
	}
	return unsafe.Pointer(base), nil
}

// deallocate drops the delegate's pin on the backing array, making it
// eligible for garbage collection once no other reference remains.
func (d *largeDelegate) deallocate(p unsafe.Pointer) {
	d.live.Delete(uintptr(p))
	if d.metrics != nil {
		d.metrics.observeLargeFree()
	}
}
