package keelc

import (
	"github.com/pkg/errors"
)

// Linker performs the two-pass AArch64 link spec.md §4.H describes: assign
// every segment an absolute base address, then patch every pending
// relocation now that every label resolves to a real address — inserting a
// veneer for any direct branch relocation that turns out to be out of
// range. Grounded in the teacher's ExecutableBuilder.PatchPCRelocations/
// PatchCallSites (main.go) and patchARM64PCRel's bit-field math, extended
// from "two known architectures, one flat buffer" to "n named segments
// linked together against a shared label manager."
type Linker struct {
	Labels  *LabelManager
	Symbols *RuntimeSymbolTable
	veneers *VeneerTable

	segments       []*Segment
	nextVeneerAddr uint64
}

// NewLinker builds a linker against the given label manager and runtime
// symbol table.
func NewLinker(labels *LabelManager, symbols *RuntimeSymbolTable) *Linker {
	return &Linker{
		Labels:  labels,
		Symbols: symbols,
		veneers: NewVeneerTable(),
	}
}

// AddSegment registers seg with the linker and binds every label seg
// already defines, failing if any of them collides with a label already
// bound by an earlier segment.
func (l *Linker) AddSegment(seg *Segment) error {
	for name, off := range seg.LabelOffsets {
		if err := l.Labels.Define(name, seg, off); err != nil {
			return err
		}
	}
	l.segments = append(l.segments, seg)
	return nil
}

// Link assigns each segment a base address starting at loadAddress (laid
// out back to back, 16-byte aligned), then resolves every relocation.
// Pass one (address assignment) must complete for every segment before
// pass two (patching) starts, because a relocation in an early segment may
// target a label defined in a later one.
func (l *Linker) Link(loadAddress uint64) error {
	addr := loadAddress
	for _, seg := range l.segments {
		seg.BaseAddress = addr
		addr += uint64(alignUp(len(seg.Code), 16))
		Log.Debugf("linker: segment %s based at %#x (%d bytes)", seg.Name, seg.BaseAddress, len(seg.Code))
	}
	l.nextVeneerAddr = addr

	// patchSegment only ranges over the segments that existed when Link was
	// called; veneers it appends get a base address immediately (from
	// l.nextVeneerAddr) and carry no relocations of their own, so they never
	// need a further patching pass.
	original := append([]*Segment(nil), l.segments...)
	for _, seg := range original {
		if err := l.patchSegment(seg); err != nil {
			return errors.Wrapf(err, "linking segment %s", seg.Name)
		}
	}
	return nil
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

func (l *Linker) patchSegment(seg *Segment) error {
	for _, reloc := range seg.Relocations {
		targetAddr, err := l.Labels.Lookup(reloc.TargetSymbol)
		if err != nil {
			if off, ok := l.Symbols.GetOffset(reloc.TargetSymbol); ok {
				targetAddr = uint64(off) // runtime symbols resolve through the JIT's own dispatch table, not text addresses
			} else {
				return errors.Wrapf(err, "relocation at %s+%#x", seg.Name, reloc.Offset)
			}
		}
		instrAddr := seg.BaseAddress + uint64(reloc.Offset)

		switch reloc.Kind {
		case PCRelative26BitOffset:
			if !l.patchPCRelative26(seg, reloc, instrAddr, targetAddr) {
				veneerAddr, isNew := l.veneers.Resolve(reloc.TargetSymbol, targetAddr, l.nextVeneerAddr)
				if isNew {
					if err := l.appendVeneerSegment(reloc.TargetSymbol, veneerAddr, targetAddr); err != nil {
						return err
					}
					l.nextVeneerAddr = veneerAddr + veneerSize
				}
				l.patchPCRelative26(seg, reloc, instrAddr, veneerAddr)
			}
		case PCRelative19BitOffset:
			if err := patchPCRelative19(seg, reloc.Offset, instrAddr, targetAddr); err != nil {
				return err
			}
		case Page21BitPCRelative:
			patchPage21(seg, reloc.Offset, instrAddr, targetAddr)
		case Add12BitUnsignedOffset:
			patchAdd12(seg, reloc.Offset, targetAddr)
		case MovzMovkImm0:
			patchMovzMovk(seg, reloc.Offset, targetAddr, 0)
		case MovzMovkImm16:
			patchMovzMovk(seg, reloc.Offset, targetAddr, 16)
		case MovzMovkImm32:
			patchMovzMovk(seg, reloc.Offset, targetAddr, 32)
		case MovzMovkImm48:
			patchMovzMovk(seg, reloc.Offset, targetAddr, 48)
		case AbsoluteAddressLo32:
			seg.setWordAt(reloc.Offset, uint32(targetAddr))
		case AbsoluteAddressHi32:
			seg.setWordAt(reloc.Offset, uint32(targetAddr>>32))
		default:
			return errors.Errorf("unhandled relocation kind %s", reloc.Kind)
		}
	}
	return nil
}

// appendVeneerSegment materializes target's veneer as its own already-based
// segment, registering its __veneer_<target> label with the linker's label
// manager so the BR instruction patched into it below resolves correctly.
func (l *Linker) appendVeneerSegment(target string, veneerAddr, finalTargetAddr uint64) error {
	seg, err := buildVeneerSegment(target, veneerAddr, finalTargetAddr)
	if err != nil {
		return err
	}
	return l.AddSegment(seg)
}

// patchPCRelative26 patches a B/BL word's imm26 field if targetAddr is
// within range of instrAddr, returning false (and leaving the word
// untouched) if it is not — grounded in arm64_backend.go's
// JumpUnconditional/CallSymbol encoding of the B/BL opcode family.
func (l *Linker) patchPCRelative26(seg *Segment, reloc Relocation, instrAddr, targetAddr uint64) bool {
	delta := int64(targetAddr) - int64(instrAddr)
	if delta < -(1<<27) || delta >= (1<<27) {
		return false
	}
	word := seg.wordAt(reloc.Offset)
	imm26 := uint32((delta / 4)) & 0x3FFFFFF
	word = (word &^ 0x3FFFFFF) | imm26
	seg.setWordAt(reloc.Offset, word)
	return true
}

// patchPCRelative19 patches a B.cond/CBZ word's imm19 field (bits [23:5]).
// Conditional branches never get a veneer in this design: the front end is
// expected to never emit one whose target exceeds +/-1MB, so an
// out-of-range conditional branch is a hard link error.
func patchPCRelative19(seg *Segment, offset int, instrAddr, targetAddr uint64) error {
	delta := int64(targetAddr) - int64(instrAddr)
	if delta < -(1<<20) || delta >= (1<<20) {
		return errors.Errorf("conditional branch at %#x out of 19-bit range to %#x", instrAddr, targetAddr)
	}
	word := seg.wordAt(offset)
	imm19 := uint32(delta/4) & 0x7FFFF
	word = (word &^ (0x7FFFF << 5)) | (imm19 << 5)
	seg.setWordAt(offset, word)
	return nil
}

// patchPage21 patches an ADRP word's immlo/immhi fields with the
// page-relative delta between instrAddr and targetAddr, grounded in
// patchARM64PCRel's ADRP bit-splitting.
func patchPage21(seg *Segment, offset int, instrAddr, targetAddr uint64) {
	instrPage := instrAddr &^ 0xFFF
	targetPage := targetAddr &^ 0xFFF
	pageDelta := int64(targetPage-instrPage) >> 12

	word := seg.wordAt(offset)
	immlo := uint32(pageDelta&0x3) << 29
	immhi := uint32((pageDelta>>2)&0x7FFFF) << 5
	word = (word &^ (0x60000000 | 0x00FFFFE0)) | immlo | immhi
	seg.setWordAt(offset, word)
}

// patchAdd12 patches an ADD (immediate) word's imm12 field (bits [21:10])
// with the low 12 bits of targetAddr, grounded in patchARM64PCRel's ADD
// low12 patch.
func patchAdd12(seg *Segment, offset int, targetAddr uint64) {
	low12 := uint32(targetAddr & 0xFFF)
	word := seg.wordAt(offset)
	word = (word &^ (0xFFF << 10)) | (low12 << 10)
	seg.setWordAt(offset, word)
}

// patchMovzMovk patches a MOVZ/MOVK word's imm16 field with 16 bits of
// targetAddr starting at bit shift, grounded in arm64_backend.go
// MovImmToReg's 0xD2800000 MOVZ encoding.
func patchMovzMovk(seg *Segment, offset int, targetAddr uint64, shift uint) {
	imm16 := uint32((targetAddr >> shift) & 0xFFFF)
	word := seg.wordAt(offset)
	word = (word &^ (0xFFFF << 5)) | (imm16 << 5)
	seg.setWordAt(offset, word)
}

