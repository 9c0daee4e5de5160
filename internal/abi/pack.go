// Package abi is the calling convention between the sentinel host
// module and wasm guests: every tool takes and returns one i64 holding
// a pointer in the high 32 bits and a length in the low 32 bits.
package abi

// PtrHighBits is the shift of the pointer half.
const PtrHighBits = 32

// PackPtrLen packs a pointer and length into a single i64.
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << PtrHighBits) | uint64(length)
}

// UnpackPtrLen splits a packed i64.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> PtrHighBits)  //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}

// Valid reports whether packed is usable: a null pointer may only
// carry an empty payload.
func Valid(packed uint64) bool {
	ptr, length := UnpackPtrLen(packed)
	return ptr != 0 || length == 0
}
