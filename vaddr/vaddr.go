// Package vaddr encodes the virtual addresses used by relocatable NPU images.
//
// A virtual address is a 32-bit value where the top 4 bits select a logical
// memory segment and the low 28 bits are an offset within that segment. This
// lets the loader tell flash, RAM and parameter regions apart from the shape
// of the address alone.
package vaddr

import "fmt"

const (
	idShift    = 28
	idMask     = 0xf0000000
	offsetMask = 0x0fffffff
)

// MaxOffset is the largest offset representable within a segment.
const MaxOffset = offsetMask

// A Segment is a logical memory segment identifier.
type Segment uint8

const (
	Unused Segment = 0  // no segment, or an unrecognized identifier
	Flash  Segment = 2  // read-only code and constants
	RAM    Segment = 4  // initialized data and bss
	Param0 Segment = 8  // first parameter region
	Param1 Segment = 9  // second parameter region
	Param2 Segment = 10 // third parameter region
)

// Segments lists the defined segments in identifier order.
var Segments = []Segment{Unused, Flash, RAM, Param0, Param1, Param2}

var segmentNames = map[Segment]string{
	Unused: "UNUSED",
	Flash:  "FLASH",
	RAM:    "RAM",
	Param0: "PARAM_0",
	Param1: "PARAM_1",
	Param2: "PARAM_2",
}

// sections placed in each segment by the linker script
var segmentSections = map[Segment][]string{
	Unused: nil,
	Flash:  {".flash", ".relocs"},
	RAM:    {".data", ".bss"},
	Param0: {".params_0"},
	Param1: {".params_1"},
	Param2: {".params_2"},
}

func (s Segment) String() string {
	if n, ok := segmentNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SEGMENT(%d)", uint8(s))
}

// Valid returns true if the segment is one of the defined segments.
func (s Segment) Valid() bool {
	_, ok := segmentNames[s]
	return ok
}

// IsParam returns true for the parameter segments.
func (s Segment) IsParam() bool {
	return s == Param0 || s == Param1 || s == Param2
}

// Sections returns the names of the sections allowed in the segment.
func (s Segment) Sections() []string {
	return segmentSections[s]
}

// Base returns the virtual base address of a segment.
func Base(s Segment) uint32 {
	return uint32(s) << idShift
}

// SegmentID returns the raw segment identifier stored in an address.
func SegmentID(addr uint32) uint8 {
	return uint8((addr & idMask) >> idShift)
}

// Offset returns the offset part of an address.
func Offset(addr uint32) uint32 {
	return addr & offsetMask
}

// BaseOf returns the address with its offset cleared.
func BaseOf(addr uint32) uint32 {
	return addr & idMask
}

// Make builds an address from a segment and an offset. Offset bits above
// MaxOffset are discarded.
func Make(s Segment, off uint32) uint32 {
	return Base(s) | off&offsetMask
}

// SegmentOf returns the segment of an address. Identifiers which do not name
// a defined segment decode as Unused.
func SegmentOf(addr uint32) Segment {
	s := Segment(SegmentID(addr))
	if !s.Valid() {
		return Unused
	}
	return s
}

// Decode splits an address into its segment and offset.
func Decode(addr uint32) (Segment, uint32) {
	return SegmentOf(addr), Offset(addr)
}

// Describe returns the segment of an address and the sections that are
// expected to live in it.
func Describe(addr uint32) (Segment, []string) {
	s := SegmentOf(addr)
	return s, s.Sections()
}

// Format renders an address as "SEGMENT + offset".
func Format(addr uint32) string {
	s, off := Decode(addr)
	return fmt.Sprintf("%s + %d", s, off)
}

// AlignUp rounds size up to a multiple of align, which must be a power of two.
func AlignUp(size, align uint32) uint32 {
	return (size + align - 1) &^ (align - 1)
}
