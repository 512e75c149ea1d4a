// Package objfiletest builds small ELF32 ARM objects for tests.
//
// The objects are real ELF files which debug/elf can read: a section header
// table, a symbol table with its string table, and one SHT_REL section per
// entry in File.Rels.
package objfiletest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

// A Section is a section to place in the object.
type Section struct {
	Name  string
	Type  elf.SectionType // SHT_PROGBITS if zero
	Flags elf.SectionFlag
	Addr  uint32
	Align uint32
	Data  []byte
	Size  uint32 // size of SHT_NOBITS sections
}

// A Symbol is an entry in the symbol table.
type Symbol struct {
	Name    string
	Type    elf.SymType
	Bind    elf.SymBind
	Section string // defining section, empty for SHN_UNDEF
	Value   uint32
	Size    uint32
}

// A Reloc is a relocation entry. Symbol names the referenced symbol; when no
// symbol has that name, the STT_SECTION symbol of the section with that name
// is used.
type Reloc struct {
	Offset uint32
	Type   uint32
	Symbol string
}

// A RelSection is a relocation section, named after the section it applies
// to, for example ".rel.data".
type RelSection struct {
	Name    string
	Entries []Reloc
}

// A File describes an object to build.
type File struct {
	Machine  elf.Machine // EM_ARM if zero
	Sections []Section
	Symbols  []Symbol
	Rels     []RelSection
}

type shdr struct {
	name string
	hdr  elf.Section32
	data []byte
}

type strtab struct {
	data []byte
	pos  map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, pos: map[string]uint32{"": 0}}
}

func (t *strtab) add(s string) uint32 {
	if p, ok := t.pos[s]; ok {
		return p
	}
	p := uint32(len(t.data))
	t.data = append(t.data, s...)
	t.data = append(t.data, 0)
	t.pos[s] = p
	return p
}

func (f *File) symbolIndex(name string) (int, error) {
	for i, s := range f.Symbols {
		if s.Name == name {
			return i + 1, nil
		}
	}
	for i, s := range f.Symbols {
		if s.Name == "" && s.Type == elf.STT_SECTION && s.Section == name {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("no symbol %q", name)
}

// Bytes returns the encoded object.
func (f *File) Bytes() ([]byte, error) {
	machine := f.Machine
	if machine == 0 {
		machine = elf.EM_ARM
	}

	var secs []*shdr
	secs = append(secs, &shdr{})
	index := make(map[string]int)
	for _, s := range f.Sections {
		typ := s.Type
		if typ == 0 {
			typ = elf.SHT_PROGBITS
		}
		size := uint32(len(s.Data))
		if typ == elf.SHT_NOBITS {
			size = s.Size
		}
		index[s.Name] = len(secs)
		secs = append(secs, &shdr{
			name: s.Name,
			hdr: elf.Section32{
				Type:      uint32(typ),
				Flags:     uint32(s.Flags),
				Addr:      s.Addr,
				Size:      size,
				Addralign: s.Align,
			},
			data: s.Data,
		})
	}
	relStart := len(secs)
	for _, r := range f.Rels {
		index[r.Name] = len(secs)
		secs = append(secs, &shdr{
			name: r.Name,
			hdr: elf.Section32{
				Type:      uint32(elf.SHT_REL),
				Addralign: 4,
				Entsize:   8,
			},
		})
	}
	symtabIdx := len(secs)
	strtabIdx := symtabIdx + 1
	shstrtabIdx := symtabIdx + 2

	// symbols
	names := newStrtab()
	var symtab bytes.Buffer
	binary.Write(&symtab, binary.LittleEndian, elf.Sym32{})
	nlocal := uint32(1)
	for _, s := range f.Symbols {
		var shndx uint16
		if s.Section != "" {
			idx, ok := index[s.Section]
			if !ok {
				return nil, fmt.Errorf("symbol %q: no section %q", s.Name, s.Section)
			}
			shndx = uint16(idx)
		}
		if s.Bind == elf.STB_LOCAL {
			nlocal++
		}
		binary.Write(&symtab, binary.LittleEndian, elf.Sym32{
			Name:  names.add(s.Name),
			Value: s.Value,
			Size:  s.Size,
			Info:  elf.ST_INFO(s.Bind, s.Type),
			Shndx: shndx,
		})
	}

	// relocations
	for i, r := range f.Rels {
		var data bytes.Buffer
		for _, e := range r.Entries {
			sym, err := f.symbolIndex(e.Symbol)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", r.Name, err)
			}
			binary.Write(&data, binary.LittleEndian, elf.Rel32{
				Off:  e.Offset,
				Info: elf.R_INFO32(uint32(sym), e.Type),
			})
		}
		s := secs[relStart+i]
		s.data = data.Bytes()
		s.hdr.Size = uint32(len(s.data))
		s.hdr.Link = uint32(symtabIdx)
		if target, ok := index[r.Name[len(".rel"):]]; ok {
			s.hdr.Info = uint32(target)
		}
	}

	secs = append(secs,
		&shdr{
			name: ".symtab",
			hdr: elf.Section32{
				Type:      uint32(elf.SHT_SYMTAB),
				Size:      uint32(symtab.Len()),
				Link:      uint32(strtabIdx),
				Info:      nlocal,
				Addralign: 4,
				Entsize:   elf.Sym32Size,
			},
			data: symtab.Bytes(),
		},
		&shdr{
			name: ".strtab",
			hdr:  elf.Section32{Type: uint32(elf.SHT_STRTAB), Size: uint32(len(names.data)), Addralign: 1},
			data: names.data,
		})
	shnames := newStrtab()
	for _, s := range secs[1:] {
		s.hdr.Name = shnames.add(s.name)
	}
	shstrtab := &shdr{name: ".shstrtab", hdr: elf.Section32{Type: uint32(elf.SHT_STRTAB), Addralign: 1}}
	shstrtab.hdr.Name = shnames.add(shstrtab.name)
	shstrtab.data = shnames.data
	shstrtab.hdr.Size = uint32(len(shstrtab.data))
	secs = append(secs, shstrtab)

	// lay out section data after the file header
	const ehsize = 52
	var body bytes.Buffer
	pos := uint32(ehsize)
	for _, s := range secs[1:] {
		if elf.SectionType(s.hdr.Type) == elf.SHT_NOBITS {
			s.hdr.Off = pos
			continue
		}
		for pos%4 != 0 {
			body.WriteByte(0)
			pos++
		}
		s.hdr.Off = pos
		body.Write(s.data)
		pos += uint32(len(s.data))
	}
	for pos%4 != 0 {
		body.WriteByte(0)
		pos++
	}
	shoff := pos

	var out bytes.Buffer
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Flags:     0x05000000,
		Ehsize:    ehsize,
		Phentsize: 32,
		Shoff:     shoff,
		Shentsize: 40,
		Shnum:     uint16(len(secs)),
		Shstrndx:  uint16(shstrtabIdx),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if err := binary.Write(&out, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	for _, s := range secs {
		if err := binary.Write(&out, binary.LittleEndian, &s.hdr); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// WriteFile writes the encoded object to a file.
func (f *File) WriteFile(name string) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}
