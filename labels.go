package keelc

import "github.com/pkg/errors"

// LabelManager tracks label definitions across every segment of a link
// unit, so relocations can resolve a symbol name to a (segment, offset)
// pair without each Segment needing to know about its siblings (spec.md
// §4.I). Generalizes the teacher's single eb.labels map[string]int, which
// only had one segment to track, into a multi-segment registry.
type LabelManager struct {
	defs map[string]labelLoc
}

type labelLoc struct {
	segment *Segment
	offset  int
}

// NewLabelManager constructs an empty label manager.
func NewLabelManager() *LabelManager {
	return &LabelManager{defs: make(map[string]labelLoc)}
}

// CreateLabel reserves name without binding it to a location yet, so
// forward references can be recorded as relocations before the label's
// defining segment has been emitted.
func (lm *LabelManager) CreateLabel(name string) {
	if _, ok := lm.defs[name]; !ok {
		lm.defs[name] = labelLoc{}
	}
}

// Define binds name to offset within seg. A name already bound to a
// segment (as opposed to merely reserved by CreateLabel) cannot be rebound
// (spec.md §3 "labels must not be defined twice"; §4.H treats this as a
// fatal link error).
func (lm *LabelManager) Define(name string, seg *Segment, offset int) error {
	if existing, ok := lm.defs[name]; ok && existing.segment != nil {
		return errors.Errorf("label %q already defined at %s+%#x", name, existing.segment.Name, existing.offset)
	}
	lm.defs[name] = labelLoc{segment: seg, offset: offset}
	return nil
}

// Lookup returns the absolute address of name once every segment's
// BaseAddress has been assigned, or an error if name was never defined.
func (lm *LabelManager) Lookup(name string) (uint64, error) {
	loc, ok := lm.defs[name]
	if !ok || loc.segment == nil {
		return 0, errors.Errorf("undefined label %q", name)
	}
	return loc.segment.BaseAddress + uint64(loc.offset), nil
}

// IsDefined reports whether name has a bound location.
func (lm *LabelManager) IsDefined(name string) bool {
	loc, ok := lm.defs[name]
	return ok && loc.segment != nil
}
