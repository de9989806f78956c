package keelc

import "math"

// AtomTag identifies the payload kind carried by a ListAtom (spec.md §3
// "List atom").
type AtomTag int

const (
	AtomInt AtomTag = iota
	AtomFloat
	AtomString
	AtomList
	AtomObject
	AtomSentinel
)

func (t AtomTag) String() string {
	switch t {
	case AtomInt:
		return "INT"
	case AtomFloat:
		return "FLOAT"
	case AtomString:
		return "STRING"
	case AtomList:
		return "LIST"
	case AtomObject:
		return "OBJECT"
	case AtomSentinel:
		return "SENTINEL"
	default:
		return "UNKNOWN"
	}
}

// ListAtom is one node of a singly-linked list: a type tag, an 8-byte
// payload (modeled here as a uint64 carrying an int64, a float64's bit
// pattern, or a pointer's bits), and a next pointer (spec.md §3). Next also
// doubles as the freelist's intrusive free-chain link while the atom is
// parked in the freelist (see freelist.go) — the struct's size is uniform
// regardless of payload kind either way, matching the spec's invariant.
type ListAtom struct {
	Tag     AtomTag
	Payload uint64
	Next    *ListAtom
}

// IntVal interprets Payload as a signed 64-bit integer.
func (a *ListAtom) IntVal() int64 { return int64(a.Payload) }

// SetIntVal stores v as the payload and sets the tag to AtomInt.
func (a *ListAtom) SetIntVal(v int64) { a.Tag = AtomInt; a.Payload = uint64(v) }

// FloatVal interprets Payload as an IEEE-754 double.
func (a *ListAtom) FloatVal() float64 { return math.Float64frombits(a.Payload) }

// SetFloatVal stores v as the payload and sets the tag to AtomFloat.
func (a *ListAtom) SetFloatVal(v float64) { a.Tag = AtomFloat; a.Payload = math.Float64bits(v) }

// StringVal interprets Payload as a pointer to a StringPool-owned
// *StringValue.
func (a *ListAtom) StringVal() *StringValue { return (*StringValue)(ptrFromPayload(a.Payload)) }

// SetStringVal stores s as the payload and sets the tag to AtomString.
func (a *ListAtom) SetStringVal(s *StringValue) { a.Tag = AtomString; a.Payload = payloadFromPtr(s) }

// ListVal interprets Payload as a pointer to a nested *ListHeader.
func (a *ListAtom) ListVal() *ListHeader { return (*ListHeader)(ptrFromPayload(a.Payload)) }

// SetListVal stores l as the payload and sets the tag to AtomList.
func (a *ListAtom) SetListVal(l *ListHeader) { a.Tag = AtomList; a.Payload = payloadFromPtr(l) }

// ObjectVal interprets Payload as an opaque object pointer (tracked-heap
// payload address, owned by the class/object subsystem which is out of
// this module's scope per spec.md §1).
func (a *ListAtom) ObjectVal() uintptr { return uintptr(a.Payload) }

// SetObjectVal stores p as the payload and sets the tag to AtomObject.
func (a *ListAtom) SetObjectVal(p uintptr) { a.Tag = AtomObject; a.Payload = uint64(p) }

// ListHeader is the sentinel record naming a list: whether it was built
// from a compile-time literal layout, its length, and head/tail pointers
// (spec.md §3 "List header"). A header owns every atom reachable from its
// head chain. freeNext is the freelist's intrusive link for headers, which
// (unlike atoms) have no other spare field to reuse for that purpose.
type ListHeader struct {
	ContainsLiterals bool
	Length           int
	Head             *ListAtom
	Tail             *ListAtom

	freeNext *ListHeader
}

// IsEmpty reports whether the list has zero atoms.
func (h *ListHeader) IsEmpty() bool { return h.Length == 0 }
