package keelc

import (
	"fmt"

	"github.com/pkg/errors"
)

// RelocationKind enumerates the patch shapes the linker understands
// (spec.md §4.H). Each one names the bit field of an already-encoded
// AArch64 instruction word that a relocation overwrites; this module never
// encodes instructions from scratch (out of scope per spec.md §1), only
// patches the address-bearing fields of ones already emitted.
type RelocationKind int

const (
	PCRelative26BitOffset RelocationKind = iota // B, BL unconditional branch
	PCRelative19BitOffset                       // B.cond, CBZ/CBNZ conditional branch
	Page21BitPCRelative                         // ADRP
	Add12BitUnsignedOffset                      // ADD (immediate), low 12 bits of a page offset
	MovzMovkImm0                                // MOVZ, bits [15:0]
	MovzMovkImm16                               // MOVK, bits [31:16]
	MovzMovkImm32                                // MOVK, bits [47:32]
	MovzMovkImm48                                // MOVK, bits [63:48]
	AbsoluteAddressLo32                          // raw 32-bit little-endian store, low half of a 64-bit address
	AbsoluteAddressHi32                          // raw 32-bit little-endian store, high half of a 64-bit address
)

// destRegister extracts the Rd/Rt field (bits [4:0]) most AArch64
// instruction encodings place the destination register in, for use by
// WriteListing. Not meaningful for every kind (e.g. PC-relative branches
// carry no destination register), but harmless to compute either way.
func destRegister(word uint32) int {
	return int(word & 0x1F)
}

func (k RelocationKind) String() string {
	switch k {
	case PCRelative26BitOffset:
		return "PC_RELATIVE_26_BIT_OFFSET"
	case PCRelative19BitOffset:
		return "PC_RELATIVE_19_BIT_OFFSET"
	case Page21BitPCRelative:
		return "PAGE_21_BIT_PC_RELATIVE"
	case Add12BitUnsignedOffset:
		return "ADD_12_BIT_UNSIGNED_OFFSET"
	case MovzMovkImm0:
		return "MOVZ_MOVK_IMM_0"
	case MovzMovkImm16:
		return "MOVZ_MOVK_IMM_16"
	case MovzMovkImm32:
		return "MOVZ_MOVK_IMM_32"
	case MovzMovkImm48:
		return "MOVZ_MOVK_IMM_48"
	case AbsoluteAddressLo32:
		return "ABSOLUTE_ADDRESS_LO32"
	case AbsoluteAddressHi32:
		return "ABSOLUTE_ADDRESS_HI32"
	default:
		return "UNKNOWN_RELOCATION"
	}
}

// Relocation is a pending fixup: patch the instruction word(s) at Offset in
// some Segment once TargetSymbol's final address is known (spec.md §4.H,
// grounded in the teacher's PCRelocation/CallPatch records in main.go,
// generalized into one shape covering every relocation kind instead of one
// struct per architecture).
type Relocation struct {
	Offset       int
	Kind         RelocationKind
	TargetSymbol string
}

// Instruction is one already-encoded 4-byte AArch64 instruction word plus
// its offset. Nothing in this package constructs or reads one: Segment keeps
// its words in the Code byte slice, and the linker and WriteListing work on
// that. Actual encoding is produced upstream by the (out-of-scope)
// instruction encoder collaborator.
type Instruction struct {
	Word   uint32
	Offset int
}

// Segment is one contiguous region of emitted code plus the relocations
// and label definitions that apply within it (spec.md §3 "segment").
// Generalizes the teacher's single flat ExecutableBuilder.text buffer into
// a named, independently linkable unit.
type Segment struct {
	Name         string
	Code         []byte
	Relocations  []Relocation
	LabelOffsets map[string]int
	BaseAddress  uint64
}

// NewSegment constructs an empty, named segment.
func NewSegment(name string) *Segment {
	return &Segment{Name: name, LabelOffsets: make(map[string]int)}
}

// EmitWord appends a 4-byte instruction word and returns its offset.
func (s *Segment) EmitWord(word uint32) int {
	off := len(s.Code)
	s.Code = append(s.Code, byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
	return off
}

// DefineLabel records name as bound to the current end of the segment. A
// label may be defined only once per segment (spec.md §3 "labels must not
// be defined twice"); redefining one is a fatal error.
func (s *Segment) DefineLabel(name string) error {
	if _, ok := s.LabelOffsets[name]; ok {
		return errors.Errorf("label %q already defined in segment %s", name, s.Name)
	}
	s.LabelOffsets[name] = len(s.Code)
	return nil
}

// AddRelocation records a pending fixup at the current end of the segment.
func (s *Segment) AddRelocation(kind RelocationKind, targetSymbol string) {
	s.Relocations = append(s.Relocations, Relocation{Offset: len(s.Code), Kind: kind, TargetSymbol: targetSymbol})
}

func (s *Segment) wordAt(offset int) uint32 {
	return uint32(s.Code[offset]) | uint32(s.Code[offset+1])<<8 | uint32(s.Code[offset+2])<<16 | uint32(s.Code[offset+3])<<24
}

func (s *Segment) setWordAt(offset int, word uint32) {
	s.Code[offset] = byte(word)
	s.Code[offset+1] = byte(word >> 8)
	s.Code[offset+2] = byte(word >> 16)
	s.Code[offset+3] = byte(word >> 24)
}

// WriteListing renders a human-readable disassembly-adjacent listing of the
// segment's words and pending relocations, for debug output (spec.md §6).
func (s *Segment) WriteListing() string {
	out := fmt.Sprintf("segment %s (base=%#x, %d bytes)\n", s.Name, s.BaseAddress, len(s.Code))
	for off := 0; off+4 <= len(s.Code); off += 4 {
		word := s.wordAt(off)
		out += fmt.Sprintf("  %#06x: %#08x  (rd=%s)\n", off, word, aarch64RegisterName(destRegister(word)))
	}
	for _, r := range s.Relocations {
		out += fmt.Sprintf("  reloc %#06x: %s -> %s\n", r.Offset, r.Kind, r.TargetSymbol)
	}
	return out
}
