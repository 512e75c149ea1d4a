package objfile

import (
	"fmt"
	"strings"

	"moria.us/npureloc/vaddr"
)

// Check runs the sanity checks on the object's sections. A relocation
// section must be of REL type unless it is empty, and a section with an
// address must be placed in a segment which allows it.
func (f *File) Check() error {
	for _, s := range f.Sections {
		if strings.HasPrefix(s.Name, ".rel.") || s.Name == ".relocs" {
			if !s.IsRel() && s.Size != 0 {
				return &ExtractionError{
					Reason: fmt.Sprintf("invalid section type %s, expected SHT_REL", s.Type),
					Items:  []string{s.Name},
				}
			}
		}
		if s.Addr == 0 {
			continue
		}
		seg, names := vaddr.Describe(s.Addr)
		if !contains(names, s.Name) {
			return &ExtractionError{
				Reason: fmt.Sprintf("section at 0x%08x is not allowed in segment %s %v", s.Addr, seg, names),
				Items:  []string{s.Name},
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
