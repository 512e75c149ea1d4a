package objfile

import (
	"debug/elf"
	"sort"
	"strings"

	"moria.us/npureloc/vaddr"
)

const ecBlobPrefix = "_ec_blob_"

// An ECBlob summarises the epoch controller blobs sharing a base name. Blobs
// which are patched at load time carry a numeric suffix, kept in Reloc.
type ECBlob struct {
	Name   string
	Reloc  string
	BSS    uint32 // bytes placed in RAM
	ROData uint32 // bytes placed elsewhere
}

// ECBlobs returns the epoch controller blobs of the object, sorted by name.
func (f *File) ECBlobs() []ECBlob {
	blobs := make(map[string]*ECBlob)
	for _, s := range f.Symbols {
		if !strings.HasPrefix(s.Name, ecBlobPrefix) || s.Type != elf.STT_OBJECT {
			continue
		}
		name, ext := s.Name, ""
		parts := strings.Split(s.Name, "_")
		if len(parts) >= 2 && isNumeric(parts[len(parts)-2]) {
			name = strings.Join(parts[:len(parts)-1], "_")
			ext = parts[len(parts)-1]
		}
		b, ok := blobs[name]
		if !ok {
			b = &ECBlob{Name: name}
			blobs[name] = b
		}
		if b.Reloc == "" && ext != "" {
			b.Reloc = ext
		}
		if vaddr.SegmentOf(s.Value) == vaddr.RAM {
			b.BSS += s.Size
		} else {
			b.ROData += s.Size
		}
	}
	r := make([]ECBlob, 0, len(blobs))
	for _, b := range blobs {
		r = append(r, *b)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Name < r[j].Name })
	return r
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
