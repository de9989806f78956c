package keelc

import "unsafe"

// ptrFromPayload and payloadFromPtr round-trip a Go pointer through the
// uint64 payload word ListAtom uses to stand in for a raw machine pointer.
// They do not, by themselves, keep the pointee alive — whatever registers
// the pointee (heap.go's block map, or SAMM's scope lists) is the GC root
// that does that job for as long as the allocation is live.
func payloadFromPtr(p any) uint64 {
	switch v := p.(type) {
	case *StringValue:
		return uint64(uintptr(unsafe.Pointer(v)))
	case *ListHeader:
		return uint64(uintptr(unsafe.Pointer(v)))
	default:
		return 0
	}
}

func ptrFromPayload(payload uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(payload))
}
