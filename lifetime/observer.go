// Package lifetime provides a non-owning liveness handle inspired by weak
// references, for asynchronous callbacks that capture a raw pointer to an
// object whose destruction they cannot observe any other way.
//
// A host type embeds a Handle obtained from NewOwner as a field and calls
// Release when it is done (Go has no destructors, so Release stands in for
// spec.md's "Destruction" semantics — typically called from the host
// type's own Close/Stop method). Anything that needs to outlive the host
// and safely check whether it still exists calls GetObserver to obtain a
// detached Handle that shares the same control block but contributes to a
// separate counter: IsAlive reflects only the owner-side count, so
// observers keep reporting liveness correctly even after the owner Handle
// is released, and the control block itself is only abandoned once both
// counts have reached zero.
package lifetime

import "sync/atomic"

// Role identifies which of the two counters in a shared control block a
// Handle contributes to. Only the Owner count feeds IsAlive; both counts
// keep the shared control block reachable.
type Role int

const (
	// Owner is the "subject" role in the observer pattern: the handle
	// embedded in the host entity whose liveness is being published.
	Owner Role = iota
	// Observer is the "weak reference" role: a detached handle that can
	// check liveness after the owner is released.
	Observer
)

func (r Role) String() string {
	if r == Owner {
		return "owner"
	}
	return "observer"
}

// controlBlock is the split-counted mediator shared between one owner and
// any number of observers. The spec's reference design uses plain
// integers for single-threaded use; this package always uses atomics,
// since its test suite and any real asynchronous-callback use case drive
// it from multiple goroutines (spec.md section 9).
type controlBlock struct {
	ownerCount    int64
	observerCount int64
}

func newControlBlock(role Role) *controlBlock {
	cb := &controlBlock{}
	cb.addRef(role)
	return cb
}

func (cb *controlBlock) addRef(role Role) int64 {
	if role == Owner {
		return atomic.AddInt64(&cb.ownerCount, 1)
	}
	return atomic.AddInt64(&cb.observerCount, 1)
}

// releaseRef decrements the counter for role and returns its new value. It
// panics if the counter would go negative, per spec.md's InvariantViolated
// failure mode: a corrupt refcount must never silently propagate to
// observers.
func (cb *controlBlock) releaseRef(role Role) int64 {
	var remaining int64
	if role == Owner {
		remaining = atomic.AddInt64(&cb.ownerCount, -1)
	} else {
		remaining = atomic.AddInt64(&cb.observerCount, -1)
	}
	if remaining < 0 {
		panic("lifetime: reference count went negative in control block release")
	}
	return remaining
}

func (cb *controlBlock) count(role Role) int64 {
	if role == Owner {
		return atomic.LoadInt64(&cb.ownerCount)
	}
	return atomic.LoadInt64(&cb.observerCount)
}

// Handle is one reference to a shared control block, tagged with the role
// it holds. The zero Handle, like a Handle after Release, holds no control
// block: it reports not alive and zero counts. Obtain a live one from
// NewOwner, from another Handle's GetObserver, or by calling Reset on it.
type Handle struct {
	cb   *controlBlock
	role Role
}

// NewOwner creates a fresh control block with owner_count = 1 and returns
// an Owner handle to it. This is the Go analog of spec.md's default
// constructor, intended to be embedded as a field of some host entity that
// wants to publish its liveness.
func NewOwner() Handle {
	return Handle{cb: newControlBlock(Owner), role: Owner}
}

// IsAlive reports whether the observed entity's owner handle still holds a
// reference, i.e. whether owner_count > 0 on the shared control block. A
// Handle holding no control block reports false.
func (h Handle) IsAlive() bool {
	if h.cb == nil {
		return false
	}
	return h.cb.count(Owner) > 0
}

// GetObserver returns a new Observer handle sharing h's control block,
// incrementing observer_count. The returned handle's liveness tracks h's
// owner-side entity even after h itself is released.
func (h Handle) GetObserver() Handle {
	h.cb.addRef(Observer)
	return Handle{cb: h.cb, role: Observer}
}

// GetCount returns the current counter value for role, for diagnostics. A
// Handle holding no control block reports 0.
func (h Handle) GetCount(role Role) int64 {
	if h.cb == nil {
		return 0
	}
	return h.cb.count(role)
}

// Role reports which role this handle holds.
func (h Handle) Role() Role {
	return h.role
}

// CloneOwner models spec.md's "copy of an Owner handle to a new Owner
// handle": the result gets a freshly allocated control block with its own
// owner_count = 1. It does not share h's control block, so observers of h
// do not observe the clone. Used when the host entity embedding a Handle
// is itself copied.
func (h Handle) CloneOwner() Handle {
	return NewOwner()
}

// Release decrements the counter for h's role and, if both counts have
// reached zero, abandons the control block (the Go garbage collector then
// reclaims it once nothing else references it — there is no explicit free
// to race or double-call). Release is idempotent: calling it on an
// already-released Handle is a no-op. This is the Go stand-in for
// spec.md's "Destruction" semantics.
func (h *Handle) Release() {
	if h.cb == nil {
		return
	}
	h.cb.releaseRef(h.role)
	h.cb = nil
}

// Reset discards h's current reference (releasing it under h's existing
// role, same as Release) and installs a new reference under newRole.
// Passing Owner installs a freshly allocated control
// block (matching owner-to-owner assignment); passing Observer shares
// other's control block and increments its observer_count (matching
// spec.md's reset(other, Observer) for observer-style transfer).
func (h *Handle) Reset(other Handle, newRole Role) {
	h.Release()
	if newRole == Owner {
		h.cb = newControlBlock(Owner)
		h.role = Owner
		return
	}
	other.cb.addRef(Observer)
	h.cb = other.cb
	h.role = Observer
}

// Take detaches h's current control block and role into the returned
// Handle, leaving h holding a newly allocated, freshly-owned control block
// of its own (role = Owner, owner_count = 1). This is the Go analog of
// spec.md's move construction/assignment: the invariant that an Owner
// handle always owns a live block is preserved at the source.
func (h *Handle) Take() Handle {
	moved := *h
	h.cb = newControlBlock(Owner)
	h.role = Owner
	return moved
}
