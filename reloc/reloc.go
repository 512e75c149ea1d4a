// Package reloc classifies the relocations of a network object and builds the
// relocation table which the runtime loader applies to the image.
//
// Most relocations are resolved by the linker and need no further work. The
// ones which matter are absolute references stored in RAM: their values are
// linked addresses which the loader must rebase, so their offsets go in the
// table. References through the GOT are counted, since the GOT itself is
// rebased by the loader.
package reloc

import (
	"debug/elf"
	"fmt"
	"strings"

	"moria.us/npureloc/objfile"
)

const debugPrefix = ".debug_"

// FixedTables names the tables whose words are filled in by the runtime
// before use. Relocations inside them keep the linked value.
var FixedTables = []string{"_network_entries", "_params_desc"}

// A Kind is the classification of a single relocation.
type Kind int

const (
	SkipDebug     Kind = iota // relocation in debug information
	Unsupported               // relocation type not handled by the loader
	Unresolved                // symbol value is zero
	InvalidOffset             // absolute reference outside of RAM
	SkipFixed                 // location is in a table filled in at runtime
	GOTReference              // reference through the GOT
	TableEntry                // offset goes in the relocation table
	Passthrough               // resolved by the linker, nothing to do

	numKinds
)

var kindNames = [numKinds]string{
	SkipDebug:     "skip-debug",
	Unsupported:   "error/unsupported-type",
	Unresolved:    "error/unresolved-symbol",
	InvalidOffset: "error/invalid-offset",
	SkipFixed:     "skip-fixed-value",
	GOTReference:  "got-reference",
	TableEntry:    "table-entry",
	Passthrough:   "passthrough",
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsError returns true if relocations of this kind fail the build.
func (k Kind) IsError() bool {
	return k == Unsupported || k == Unresolved || k == InvalidOffset
}

// An Outcome is the result of classifying one relocation.
type Outcome struct {
	Kind   Kind
	Value  uint32 // word stored at the relocation offset, for SkipFixed and GOTReference
	Reason string // for errors
}

// A Range is a range of linked addresses.
type Range struct {
	Start uint32
	Size  uint32
}

// ContainsWord returns true if the 4-byte word at addr lies within the range.
func (r Range) ContainsWord(addr uint32) bool {
	return addr >= r.Start && uint64(addr)+4 <= uint64(r.Start)+uint64(r.Size)
}

// A Context holds what the classifier needs to know about the object.
type Context struct {
	// Data is the writable data region. Absolute references must point
	// into it, unless Clang is set.
	Data Range

	// Clang enables the relocation types emitted by clang and relaxes the
	// check on absolute references.
	Clang bool

	// Word returns the word stored at a linked address.
	Word func(addr uint32) (uint32, error)

	fixed map[uint32]bool
}

// NewContext creates a classification context for an extracted object.
func NewContext(f *objfile.File, clang bool) (*Context, error) {
	data := f.Section(".data")
	if data == nil {
		return nil, &objfile.ExtractionError{Reason: "no data section", Items: []string{".data"}}
	}
	ctx := &Context{
		Data:  Range{Start: data.Addr, Size: data.Size},
		Clang: clang,
		Word:  f.Word,
	}
	for _, name := range FixedTables {
		sym := f.Symbol(name)
		if sym == nil {
			return nil, &objfile.ExtractionError{Reason: "required symbols not found", Items: []string{"symbol " + name}}
		}
		ctx.AddFixed(Range{Start: sym.Value, Size: sym.Size})
	}
	return ctx, nil
}

// AddFixed marks every word of r as filled in at runtime.
func (ctx *Context) AddFixed(r Range) {
	if ctx.fixed == nil {
		ctx.fixed = make(map[uint32]bool)
	}
	for off := uint32(0); off+4 <= r.Size; off += 4 {
		ctx.fixed[r.Start+off] = true
	}
}

var baseTypes = []objfile.RelType{
	objfile.RelType(elf.R_ARM_ABS32),
	objfile.R_ARM_GOT_BREL,
	objfile.R_ARM_THM_CALL,
	objfile.RelType(elf.R_ARM_THM_JUMP24),
	objfile.RelType(elf.R_ARM_REL32),
	objfile.RelType(elf.R_ARM_GOT_PREL),
}

// position independent variants, PC relative or relative to R9
var clangTypes = []objfile.RelType{
	objfile.RelType(elf.R_ARM_THM_MOVW_BREL_NC),
	objfile.RelType(elf.R_ARM_THM_MOVT_BREL),
	objfile.RelType(elf.R_ARM_THM_MOVW_PREL_NC),
	objfile.RelType(elf.R_ARM_THM_MOVT_PREL),
}

func hasType(list []objfile.RelType, t objfile.RelType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// Supported returns true if the relocation type is handled.
func (ctx *Context) Supported(t objfile.RelType) bool {
	return hasType(baseTypes, t) || ctx.Clang && hasType(clangTypes, t)
}

func (ctx *Context) word(addr uint32) (uint32, error) {
	if ctx.Word == nil {
		return 0, fmt.Errorf("no data at 0x%08x", addr)
	}
	return ctx.Word(addr)
}

// Classify returns the classification of one relocation. It does not modify
// the relocation or the context.
func Classify(r objfile.Relocation, ctx *Context) Outcome {
	if strings.HasPrefix(r.Symbol, debugPrefix) {
		return Outcome{Kind: SkipDebug}
	}
	if !ctx.Supported(r.Type) {
		return Outcome{Kind: Unsupported, Reason: "unsupported relocation type " + r.Type.String()}
	}
	if r.Value == 0 {
		return Outcome{Kind: Unresolved, Reason: fmt.Sprintf("unresolved symbol %q", r.Symbol)}
	}
	if ctx.fixed[r.Offset] {
		v, err := ctx.word(r.Offset)
		if err != nil {
			return Outcome{Kind: InvalidOffset, Reason: err.Error()}
		}
		return Outcome{Kind: SkipFixed, Value: v}
	}
	switch {
	case r.Type == objfile.R_ARM_GOT_BREL:
		v, err := ctx.word(r.Offset)
		if err != nil {
			return Outcome{Kind: InvalidOffset, Reason: err.Error()}
		}
		return Outcome{Kind: GOTReference, Value: v}
	case hasType(clangTypes, r.Type):
		return Outcome{Kind: GOTReference}
	case r.Type == objfile.RelType(elf.R_ARM_ABS32):
		if ctx.Clang || ctx.Data.ContainsWord(r.Offset) {
			return Outcome{Kind: TableEntry}
		}
		return Outcome{Kind: InvalidOffset, Reason: fmt.Sprintf("invalid offset 0x%08x (not from RAM)", r.Offset)}
	}
	return Outcome{Kind: Passthrough}
}
