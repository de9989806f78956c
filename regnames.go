package keelc

// aarch64RegisterNames maps the general-purpose register encoding (0-31)
// used by instr.go's WriteListing to its assembly mnemonic, adapted
// from reg.go's arm64Registers table (x86_64 and riscv64 entries dropped —
// this module only ever emits AArch64 relocations).
var aarch64RegisterNames = [32]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "x29", "x30", "sp",
}

// aarch64RegisterName renders encoding as its assembly mnemonic, or a
// numeric fallback if out of range.
func aarch64RegisterName(encoding int) string {
	if encoding < 0 || encoding >= len(aarch64RegisterNames) {
		return intToDec(encoding)
	}
	return aarch64RegisterNames[encoding]
}
