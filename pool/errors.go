package pool

import "errors"

// Error definitions. These are the sentinels user code should compare
// against with errors.Is; call sites wrap them with github.com/pkg/errors
// for additional context before returning them up the stack.
var (
	// ErrTooLarge is returned when a request exceeds the 1 GiB ceiling.
	ErrTooLarge = errors.New("slab-pool-allocator: requested size exceeds maximum allowed size")
	// ErrBadAlignment is returned when the requested alignment is not a
	// power of two in {4, 8, 16}.
	ErrBadAlignment = errors.New("slab-pool-allocator: alignment must be one of 4, 8, or 16")
	// ErrCapacityExhausted is returned when a small class has reached its
	// per-class chunk cap (4 GiB / chunk_bytes chunks).
	ErrCapacityExhausted = errors.New("slab-pool-allocator: size class has exhausted its chunk capacity")
	// ErrForeignPointer is returned when Deallocate's target was not found
	// in any chunk owned by the expected slab.
	ErrForeignPointer = errors.New("slab-pool-allocator: pointer does not belong to this slab")
	// ErrDoubleFree is returned when Deallocate targets a slot that is
	// already free.
	ErrDoubleFree = errors.New("slab-pool-allocator: pointer was already freed")
)
