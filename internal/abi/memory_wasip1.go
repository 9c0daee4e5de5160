//go:build wasip1

package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// MaxTotalAllocations caps the bytes the guest keeps pinned for the
// host at any one time.
const MaxTotalAllocations = 64 * 1024 * 1024

// pinned keeps host-visible buffers reachable so the Go GC does not
// reclaim memory the host is about to read or write.
var pinned = struct {
	ptrs  map[uint32][]byte
	total int
	sync.Mutex
}{
	ptrs: make(map[uint32][]byte),
}

// allocate is called by the host to place a response in guest memory.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	pinned.Lock()
	defer pinned.Unlock()

	if pinned.total+int(size) > MaxTotalAllocations {
		panic(fmt.Sprintf("abi: allocation of %d bytes exceeds pinned limit (%d of %d in use)",
			size, pinned.total, MaxTotalAllocations))
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0]))) //nolint:gosec // G103: wasm32 linear memory offset
	pinned.ptrs[ptr] = buf
	pinned.total += int(size)
	return ptr
}

// deallocate unpins a buffer. Unknown pointers are ignored.
//
//go:wasmexport deallocate
func deallocate(ptr uint32, _ uint32) {
	pinned.Lock()
	defer pinned.Unlock()

	buf, ok := pinned.ptrs[ptr]
	if !ok {
		return
	}
	delete(pinned.ptrs, ptr)
	pinned.total -= len(buf)
}

// PtrFromBytes copies data into pinned memory and returns it packed.
// Free it with Free once the host call returns.
func PtrFromBytes(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	size := uint32(len(data)) //nolint:gosec // G115: requests are bounded by the host's request limit
	ptr := allocate(size)
	//nolint:gosec // G103: wasm32 linear memory offset
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size), data)
	return PackPtrLen(ptr, size)
}

// BytesFromPtr copies a host-written buffer out of pinned memory.
func BytesFromPtr(packed uint64) []byte {
	ptr, length := UnpackPtrLen(packed)
	if ptr == 0 || length == 0 {
		return nil
	}
	out := make([]byte, length)
	//nolint:gosec // G103: wasm32 linear memory offset
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length))
	return out
}

// Free unpins a packed buffer.
func Free(packed uint64) {
	ptr, length := UnpackPtrLen(packed)
	if ptr != 0 {
		deallocate(ptr, length)
	}
}

// Pinned returns the number of bytes currently pinned.
func Pinned() int {
	pinned.Lock()
	defer pinned.Unlock()
	return pinned.total
}
