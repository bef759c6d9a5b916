package gatt

import (
	"errors"
	"fmt"
)

// ErrHandleSpaceExhausted is returned when a server runs out of 16-bit handles.
var ErrHandleSpaceExhausted = errors.New("attribute handle space exhausted")

type attrKind int

const (
	attrKindService attrKind = iota
	attrKindCharDecl
	attrKindCharValue
	attrKindCCCD
	attrKindDescriptor
)

func (k attrKind) String() string {
	switch k {
	case attrKindService:
		return "service"
	case attrKindCharDecl:
		return "characteristic"
	case attrKindCharValue:
		return "characteristicValue"
	case attrKindCCCD:
		return "cccd"
	case attrKindDescriptor:
		return "descriptor"
	}
	return fmt.Sprintf("attrKind(%d)", int(k))
}

// attr is one row of the server's handle table. Exactly the owners
// its kind implies are set: svc for a service, char for a declaration,
// value or CCCD, desc (and char) for a descriptor.
type attr struct {
	h    uint16
	kind attrKind
	typ  UUID

	svc  *Service
	char *Characteristic
	desc *Descriptor
}

// endGroup is the last handle of the group a is the head of,
// or a's own handle if it heads none.
func (a attr) endGroup() uint16 {
	switch a.kind {
	case attrKindService:
		return a.svc.endh
	case attrKindCharDecl:
		return a.char.endh
	}
	return a.h
}

func (a attr) String() string {
	return fmt.Sprintf("0x%04X %s %s", a.h, a.kind, a.typ)
}

// attrRange is a contiguous handle table. aa[i] has handle base+i.
type attrRange struct {
	aa   []attr
	base uint16
}

func newAttrRange() *attrRange {
	return &attrRange{base: 1} // 0x0000 is reserved
}

// alloc assigns the next handles to aa, in order, and appends them.
// Either all of aa fit into the handle space or none is allocated.
// Handles are monotonic and never reused.
func (r *attrRange) alloc(aa ...attr) ([]uint16, error) {
	next := int(r.base) + len(r.aa)
	if next+len(aa)-1 > 0xFFFF {
		return nil, ErrHandleSpaceExhausted
	}
	hh := make([]uint16, len(aa))
	for i, a := range aa {
		a.h = uint16(next + i)
		hh[i] = a.h
		r.aa = append(r.aa, a)
	}
	return hh, nil
}

func (r *attrRange) Len() int {
	return len(r.aa)
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into aa corresponding to attr a.
// If h is too small, idx returns tooSmall (-1).
// If h is too large, idx returns tooLarge (-2).
func (r *attrRange) idx(h int) int {
	if h < int(r.base) {
		return tooSmall
	}
	if h >= int(r.base)+len(r.aa) {
		return tooLarge
	}
	return h - int(r.base)
}

// At returns the attr with handle h.
func (r *attrRange) At(h uint16) (a attr, ok bool) {
	i := r.idx(int(h))
	if i < 0 {
		return attr{}, false
	}
	return r.aa[i], true
}

// Subrange returns attributes in range [start, end]; it may
// return an empty slice. Subrange does not panic for
// out-of-range start or end.
func (r *attrRange) Subrange(start, end uint16) []attr {
	startidx := r.idx(int(start))
	switch startidx {
	case tooSmall:
		startidx = 0
	case tooLarge:
		return []attr{}
	}

	endidx := r.idx(int(end) + 1) // [start, end] includes its upper bound!
	switch endidx {
	case tooSmall:
		return []attr{}
	case tooLarge:
		endidx = len(r.aa)
	}
	if startidx > endidx {
		return []attr{}
	}
	return r.aa[startidx:endidx]
}
