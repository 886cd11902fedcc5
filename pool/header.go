package pool

import (
	"encoding/binary"
	"unsafe"
)

// headerTailSize is the number of bytes of the header that carry actual
// fields: 1 byte of header_size at offset -5 and 4 bytes of alloc_size at
// offset -4, both measured from the returned user pointer. Any bytes between
// -header_size and -5 are padding that exists only to keep header_size ==
// max(8, alignment).
const headerTailSize = 5

// minHeaderSize is the smallest possible header: 8 bytes, matching the
// default alignment of 8 and leaving 3 padding bytes ahead of the 5-byte
// tail.
const minHeaderSize = 8

// headerSizeFor returns max(8, alignment), the header footprint for a given
// requested alignment.
func headerSizeFor(alignment uintptr) uint8 {
	if alignment < minHeaderSize {
		return minHeaderSize
	}
	return uint8(alignment)
}

// writeHeader stores header_size and alloc_size immediately before userPtr,
// at offsets -5 and -4 respectively, per the in-band header layout in
// spec.md section 4.4. alloc_size is stored little-endian so the on-disk
// representation is explicit rather than host-order-dependent.
func writeHeader(userPtr unsafe.Pointer, headerSize uint8, allocSize uint32) {
	*(*uint8)(unsafe.Add(userPtr, -5)) = headerSize
	tail := (*[4]byte)(unsafe.Add(userPtr, -4))
	binary.LittleEndian.PutUint32(tail[:], allocSize)
}

// readHeader recovers header_size and alloc_size from the bytes immediately
// preceding userPtr.
func readHeader(userPtr unsafe.Pointer) (headerSize uint8, allocSize uint32) {
	headerSize = *(*uint8)(unsafe.Add(userPtr, -5))
	tail := (*[4]byte)(unsafe.Add(userPtr, -4))
	allocSize = binary.LittleEndian.Uint32(tail[:])
	return headerSize, allocSize
}
