package pool

import "sort"

// baseEntry associates one chunk's aligned base address with its index in
// the slab's chunk slice.
type baseEntry struct {
	base  uintptr
	index int
}

// baseIndex is the "largest base <= p" lookup structure described in
// spec.md section 4.7: a sorted mapping from chunk base address to chunk
// index, supporting logarithmic reverse lookup on deallocate. Chunk base
// addresses come from independent make([]byte, ...) calls and are not
// naturally ordered, so entries are kept sorted by insertion rather than by
// append order.
type baseIndex struct {
	entries []baseEntry
}

// insert records a newly grown chunk's base address, keeping entries sorted
// by base ascending.
func (idx *baseIndex) insert(base uintptr, chunkIndex int) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].base >= base })
	idx.entries = append(idx.entries, baseEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = baseEntry{base: base, index: chunkIndex}
}

// floor returns the chunk index owning the greatest base address <= p, and
// true if one exists.
func (idx *baseIndex) floor(p uintptr) (int, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].base > p })
	if i == 0 {
		return 0, false
	}
	return idx.entries[i-1].index, true
}
