// Package objfile extracts the sections, symbols and relocations of a linked
// network object.
//
// The object is a statically linked ELF32 ARM file produced by the embedded
// toolchain from the generated network sources. Its linker script places
// code and constants in .flash, data in .data and .bss, and keeps the
// relocation sections (.rel.flash, .rel.data) so that the post-processor can
// decide which references need fixing up at load time.
package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// RequiredSections lists the sections every network object must contain.
var RequiredSections = []string{".flash", ".rel.flash", ".data", ".rel.data", ".relocs", ".bss"}

// RequiredSymbols lists the symbols every network object must define.
var RequiredSymbols = []string{"_network_entries", "_network_rt_ctx", "_params_desc"}

// An ExtractionError reports a malformed or incomplete object.
type ExtractionError struct {
	Reason string   // what is wrong with the object
	Items  []string // offending sections or symbols, if any
	Err    error    // underlying error, if any
}

func (e *ExtractionError) Error() string {
	msg := "invalid object: " + e.Reason
	if len(e.Items) != 0 {
		msg += " (" + strings.Join(e.Items, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// A Section is a section of the object.
type Section struct {
	Index  int
	Name   string
	Type   elf.SectionType
	Flags  elf.SectionFlag
	Addr   uint32 // linked address
	Offset uint32 // offset in the object file
	Size   uint32
	Align  uint32
	Data   []byte // nil for SHT_NOBITS
}

// IsRel returns true if the section holds relocation entries.
func (s *Section) IsRel() bool {
	return s.Type == elf.SHT_REL
}

// Contains returns true if the 4-byte word at addr lies within the section's
// data.
func (s *Section) Contains(addr uint32) bool {
	return s.Addr <= addr && uint64(addr)+4 <= uint64(s.Addr)+uint64(len(s.Data))
}

// A Symbol is an entry of the object's symbol table.
type Symbol struct {
	Name       string
	PrettyName string // demangled name, for display
	Type       elf.SymType
	Bind       elf.SymBind
	Size       uint32
	Section    elf.SectionIndex
	Value      uint32
}

// A Relocation is an entry of a relocation section.
type Relocation struct {
	Offset     uint32      // linked address of the location to fix up
	Info       uint32      // raw info word
	Type       RelType     // decoded from Info
	Symbol     string      // referenced symbol, or its section for section symbols
	SymbolType elf.SymType // type of the referenced symbol
	Value      uint32      // value of the referenced symbol
	Section    string      // relocation section the entry was read from
}

// A File is an extracted network object. It is read-only after extraction.
type File struct {
	Path        string
	Sections    []*Section // in section header order
	Symbols     []*Symbol  // in symbol table order
	Relocations []Relocation

	sectionMap map[string]*Section
	symbolMap  map[string]*Symbol
}

// Section returns the named section, or nil.
func (f *File) Section(name string) *Section {
	return f.sectionMap[name]
}

// Symbol returns the named symbol, or nil.
func (f *File) Symbol(name string) *Symbol {
	return f.symbolMap[name]
}

// SymbolAt returns the last named symbol whose value is addr, or nil.
func (f *File) SymbolAt(addr uint32) *Symbol {
	var r *Symbol
	for _, s := range f.Symbols {
		if s.Value == addr && s.Name != "" && s.Type != elf.STT_SECTION && s.Type != elf.STT_FILE {
			r = s
		}
	}
	return r
}

// Word returns the little-endian word stored at a linked address. The first
// section, in header order, holding the address is used.
func (f *File) Word(addr uint32) (uint32, error) {
	for _, s := range f.Sections {
		if s.Addr == 0 || !s.Contains(addr) {
			continue
		}
		return binary.LittleEndian.Uint32(s.Data[addr-s.Addr:]), nil
	}
	return 0, fmt.Errorf("invalid offset 0x%08x: not in any section", addr)
}

// Open opens the named file with os.Open and extracts the network object.
func Open(name string) (*File, error) {
	fp, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	f, err := NewFile(fp)
	if err != nil {
		return nil, err
	}
	f.Path = name
	return f, nil
}

// NewFile extracts the network object from r. The required sections and
// symbols are checked, then the sanity checks of Check are run.
func NewFile(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, &ExtractionError{Reason: "not an ELF file", Err: err}
	}
	defer ef.Close()
	if ef.Class != elf.ELFCLASS32 {
		return nil, &ExtractionError{Reason: fmt.Sprintf("ELF has class %s, expected ELFCLASS32", ef.Class)}
	}
	if ef.Data != elf.ELFDATA2LSB {
		return nil, &ExtractionError{Reason: fmt.Sprintf("ELF has data %s, expected ELFDATA2LSB", ef.Data)}
	}
	if ef.Machine != elf.EM_ARM {
		return nil, &ExtractionError{Reason: fmt.Sprintf("ELF has machine %s, expected EM_ARM", ef.Machine)}
	}

	f := &File{
		sectionMap: make(map[string]*Section),
		symbolMap:  make(map[string]*Symbol),
	}
	if err := f.readSections(ef); err != nil {
		return nil, err
	}
	syms, err := f.readSymbols(ef)
	if err != nil {
		return nil, err
	}
	if err := f.readRelocations(ef, syms); err != nil {
		return nil, err
	}
	if err := f.checkRequired(); err != nil {
		return nil, err
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readSections(ef *elf.File) error {
	for i, s := range ef.Sections {
		sec := &Section{
			Index:  i,
			Name:   s.Name,
			Type:   s.Type,
			Flags:  s.Flags,
			Addr:   uint32(s.Addr),
			Offset: uint32(s.Offset),
			Size:   uint32(s.Size),
			Align:  uint32(s.Addralign),
		}
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			data, err := s.Data()
			if err != nil {
				return &ExtractionError{Reason: fmt.Sprintf("could not read section %d %q", i, s.Name), Err: err}
			}
			sec.Data = data
		}
		f.Sections = append(f.Sections, sec)
		f.sectionMap[sec.Name] = sec
	}
	return nil
}

func (f *File) readSymbols(ef *elf.File) ([]elf.Symbol, error) {
	syms, err := ef.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, nil
		}
		return nil, &ExtractionError{Reason: "could not read symbol table", Err: err}
	}
	for _, s := range syms {
		sym := &Symbol{
			Name:       s.Name,
			PrettyName: demangle.Filter(s.Name),
			Type:       elf.ST_TYPE(s.Info),
			Bind:       elf.ST_BIND(s.Info),
			Size:       uint32(s.Size),
			Section:    s.Section,
			Value:      uint32(s.Value),
		}
		f.Symbols = append(f.Symbols, sym)
		if sym.Name != "" {
			f.symbolMap[sym.Name] = sym
		}
	}
	return syms, nil
}

// readRelocations reads every SHT_REL section. Entries without a symbol are
// dropped.
func (f *File) readRelocations(ef *elf.File, syms []elf.Symbol) error {
	for i, s := range ef.Sections {
		switch s.Type {
		case elf.SHT_REL:
		case elf.SHT_RELA:
			return &ExtractionError{Reason: fmt.Sprintf("section %d %q: unsupported relocation section type %s", i, s.Name, s.Type)}
		default:
			continue
		}
		data := f.Sections[i].Data
		if len(data)&7 != 0 {
			return &ExtractionError{Reason: fmt.Sprintf("section %d %q: REL section length is not a multiple of 8", i, s.Name)}
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var rel elf.Rel32
			binary.Read(r, binary.LittleEndian, &rel)
			idx := elf.R_SYM32(rel.Info)
			if idx == 0 {
				continue
			}
			if int(idx) > len(syms) {
				return &ExtractionError{Reason: fmt.Sprintf("section %d %q: relocation at 0x%08x: symbol reference %d out of bounds", i, s.Name, rel.Off, idx)}
			}
			sym := syms[idx-1]
			name := sym.Name
			if name == "" && int(sym.Section) < len(ef.Sections) {
				name = ef.Sections[sym.Section].Name
			}
			f.Relocations = append(f.Relocations, Relocation{
				Offset:     rel.Off,
				Info:       rel.Info,
				Type:       RelType(elf.R_TYPE32(rel.Info)),
				Symbol:     name,
				SymbolType: elf.ST_TYPE(sym.Info),
				Value:      uint32(sym.Value),
				Section:    s.Name,
			})
		}
	}
	return nil
}

// checkRequired reports every missing required section and symbol at once.
func (f *File) checkRequired() error {
	var missing []string
	for _, name := range RequiredSections {
		if f.Section(name) == nil {
			missing = append(missing, "section "+name)
		}
	}
	for _, name := range RequiredSymbols {
		if f.Symbol(name) == nil {
			missing = append(missing, "symbol "+name)
		}
	}
	if len(missing) != 0 {
		return &ExtractionError{Reason: "required sections or symbols not found", Items: missing}
	}
	return nil
}
