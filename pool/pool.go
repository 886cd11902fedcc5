package pool

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// maxAllocSize is the absolute ceiling on a single request: 1 GiB, per
// spec.md section 3.
const maxAllocSize = 1 << 30

// defaultAlignment is used when callers pass alignment == 0 to Allocate,
// standing in for the spec's documented default of 8.
const defaultAlignment = 8

// Option configures a Pool at construction time.
type Option func(*poolConfig)

type poolConfig struct {
	registry prometheus.Registerer
}

// WithMetrics enables the pool's prometheus metrics bundle, registered
// against reg. Without this option, Pool.Metrics returns nil and no
// observability overhead is incurred.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *poolConfig) { c.registry = reg }
}

// Pool owns a fixed array of small-class slabs and one large delegate. A
// Pool is non-copyable, non-movable in spirit (embeds noCopy), and is meant
// to be a single instance per allocator arena whose lifetime is managed by
// the caller, per spec.md section 3.
type Pool struct {
	noCopy noCopy

	routeLock SpinLock
	small     [numClasses]*SmallSlab
	large     *largeDelegate
	metrics   *Metrics
}

// New constructs a ready-to-use Pool.
func New(opts ...Option) *Pool {
	cfg := &poolConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var metrics *Metrics
	if cfg.registry != nil {
		metrics = NewMetrics(cfg.registry)
	}

	p := &Pool{
		large:   newLargeDelegate(metrics),
		metrics: metrics,
	}
	for i, elemSize := range sizeClasses {
		p.small[i] = newSmallSlab(elemSize, metrics)
	}
	Info("pool: initialized with %d size classes", numClasses)
	return p
}

// Metrics returns the pool's metrics bundle, or nil if WithMetrics was not
// passed to New.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

func validateAlignment(alignment uintptr) error {
	switch alignment {
	case 4, 8, 16:
		return nil
	default:
		return errors.Wrapf(ErrBadAlignment, "alignment %d is not one of 4, 8, 16", alignment)
	}
}

// Allocate reserves size bytes aligned to alignment (one of 4, 8, or 16;
// pass 0 to take the default of 8) and returns a pointer to the first byte
// of usable memory. The returned pointer is preceded by an in-band header
// (see spec.md section 4.4) that Deallocate uses to recover both the
// original allocation size and which slab or delegate to route to, with no
// external lookup.
func (p *Pool) Allocate(size uintptr, alignment uintptr) (unsafe.Pointer, error) {
	if alignment == 0 {
		alignment = defaultAlignment
	}
	if size > maxAllocSize {
		return nil, errors.Wrapf(ErrTooLarge, "requested %d bytes exceeds %d byte ceiling", size, maxAllocSize)
	}
	if err := validateAlignment(alignment); err != nil {
		return nil, err
	}

	headerSize := headerSizeFor(alignment)
	allocSize := size + uintptr(headerSize)

	// Class selection is pure and stateless, so this lock is defensive
	// rather than load-bearing (spec.md section 9); it is released before
	// the actual slab allocation call so concurrent allocators in
	// different classes serialize only on their own slab's lock.
	p.routeLock.Lock()
	class := SelectSlab(allocSize)
	p.routeLock.Unlock()

	var raw unsafe.Pointer
	var err error
	if class == largeClass {
		raw, err = p.large.allocate(allocSize)
	} else {
		raw, err = p.small[class].AllocateItem(allocSize)
	}
	if err != nil {
		return nil, err
	}

	userPtr := unsafe.Add(raw, int(headerSize))
	writeHeader(userPtr, headerSize, uint32(allocSize))
	Debug("pool: allocated %d user bytes (alloc_size=%d, header=%d) at %p", size, allocSize, headerSize, userPtr)
	return userPtr, nil
}

// Deallocate releases a pointer previously returned by Allocate. A nil
// pointer is a no-op.
func (p *Pool) Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	headerSize, allocSize := readHeader(ptr)
	raw := unsafe.Add(ptr, -int(headerSize))

	p.routeLock.Lock()
	class := SelectSlab(uintptr(allocSize))
	p.routeLock.Unlock()

	if class == largeClass {
		p.large.deallocate(raw)
		return
	}
	if err := p.small[class].DeallocateItem(raw); err != nil {
		Error("pool: deallocate %p failed: %v", ptr, err)
	}
}

// Slab returns the small-class slab for a given class index, for direct
// use by tests per spec.md section 6 ("Slab<N>::allocate_item(size)" etc).
func (p *Pool) Slab(class int) *SmallSlab {
	return p.small[class]
}
