package keelc

import "fmt"

// veneerSize is the byte length of one veneer: MOVZ + 3*MOVK + BR, five
// 4-byte AArch64 instruction words.
const veneerSize = 20

// veneerRegister is the scratch register veneers load the target address
// into before branching, x16 (IP0), the AArch64 PCS's designated
// intra-procedure-call scratch register for exactly this purpose.
const veneerRegister = 16

// VeneerTable caches one veneer address per out-of-range branch target, so
// two relocations against the same far-away symbol share a single
// trampoline instead of each getting their own (spec.md §4.H "veneer
// dedup"). Grounded in original_source/Linker.cpp's veneer_map_/
// get_or_create_veneer, adapted to emit BR rather than BLR per this
// module's resolved redesign: a veneer is always a tail call into the
// target, never a call site of its own that needs to return anywhere.
type VeneerTable struct {
	addrByTarget map[string]uint64
}

// NewVeneerTable constructs an empty veneer table.
func NewVeneerTable() *VeneerTable {
	return &VeneerTable{addrByTarget: make(map[string]uint64)}
}

// Resolve returns the veneer address for target, allocating one at
// candidateAddr (rounded up to 16 bytes) if none exists yet. isNew reports
// whether a new veneer needs to be materialized by the caller.
func (vt *VeneerTable) Resolve(target string, finalTargetAddr, candidateAddr uint64) (addr uint64, isNew bool) {
	if a, ok := vt.addrByTarget[target]; ok {
		return a, false
	}
	a := uint64(alignUp(int(candidateAddr), 16))
	vt.addrByTarget[target] = a
	return a, true
}

func veneerSegmentName(target string) string {
	return veneerLabel(target)
}

// veneerLabel is the spec-mandated label a veneer trampoline is defined
// under (spec.md §3/§8 scenario 2: "exactly one veneer labelled
// __veneer_target").
func veneerLabel(target string) string {
	return fmt.Sprintf("__veneer_%s", target)
}

// buildVeneerSegment emits the five-instruction trampoline that loads
// targetAddr into x16 via MOVZ/MOVK and then tail-branches with BR,
// grounded in arm64_backend.go MovImmToReg's MOVZ encoding (0xD2800000)
// generalized with MOVK's hw-shifted variant (0xF2800000) and capped off
// with BR's 0xD61F0000 | (Rn << 5) encoding.
func buildVeneerSegment(target string, veneerAddr, finalTargetAddr uint64) (*Segment, error) {
	seg := NewSegment(veneerSegmentName(target))
	seg.BaseAddress = veneerAddr
	if err := seg.DefineLabel(veneerLabel(target)); err != nil {
		return nil, err
	}

	imm := func(shift uint) uint32 { return uint32((finalTargetAddr >> shift) & 0xFFFF) }
	seg.EmitWord(0xD2800000 | (imm(0) << 5) | uint32(veneerRegister))  // MOVZ x16, #imm0
	seg.EmitWord(0xF2A00000 | (imm(16) << 5) | uint32(veneerRegister)) // MOVK x16, #imm16, lsl 16
	seg.EmitWord(0xF2C00000 | (imm(32) << 5) | uint32(veneerRegister)) // MOVK x16, #imm32, lsl 32
	seg.EmitWord(0xF2E00000 | (imm(48) << 5) | uint32(veneerRegister)) // MOVK x16, #imm48, lsl 48
	seg.EmitWord(0xD61F0000 | uint32(veneerRegister<<5))               // BR x16

	return seg, nil
}
