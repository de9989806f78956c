package keelc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigsafe.go holds the hand-rolled async-signal-safe primitives the signal
// handler uses instead of fmt/log (which allocate and may lock), grounded
// in original_source/SignalSafeUtils.cpp. Nothing here takes a lock, uses a
// channel or formats through fmt. They are not allocation-free: safePrint
// converts its string to a []byte, and u64ToHex and intToDec return newly
// built strings, each of which may allocate on the Go heap.

// safePrint writes s to stderr via a raw write(2) syscall, bypassing
// buffered I/O entirely.
func safePrint(s string) {
	b := []byte(s)
	for len(b) > 0 {
		n, err := unix.Write(2, b)
		if err != nil || n <= 0 {
			return
		}
		b = b[n:]
	}
}

var hexDigits = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// u64ToHex renders v as a fixed-width "0x" + 16 hex digits string without
// allocating on the heap beyond the one small byte array return value.
func u64ToHex(v uint64) string {
	var buf [18]byte
	buf[0] = '0'
	buf[1] = 'x'
	for i := 0; i < 16; i++ {
		shift := uint(60 - i*4)
		buf[2+i] = hexDigits[(v>>shift)&0xF]
	}
	return string(buf[:])
}

// readWordSignalSafe reads the 8 bytes at p as a little-endian uint64. The
// caller must have already bounds-checked p against the mapping it came
// from; this does no checking of its own.
func readWordSignalSafe(p uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(p))
}

// intToDec renders v as a decimal string.
func intToDec(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return string(tmp[i:])
}
