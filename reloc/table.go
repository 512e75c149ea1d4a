package reloc

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"moria.us/npureloc/logger"
	"moria.us/npureloc/objfile"
)

const logTag = "RELOC"

// A Diagnostic describes a relocation which failed classification.
type Diagnostic struct {
	Offset uint32
	Type   objfile.RelType
	Symbol string
	Kind   Kind
	Reason string
}

func (d *Diagnostic) String() string {
	return fmt.Sprintf("0x%08x %s %s: %s", d.Offset, d.Type, d.Symbol, d.Reason)
}

// An Error lists every relocation which failed classification.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d relocation errors", len(e.Diagnostics))
	for i := range e.Diagnostics {
		b.WriteString("\n\t")
		b.WriteString(e.Diagnostics[i].String())
	}
	return b.String()
}

// Count returns the number of diagnostics of the given kind.
func (e *Error) Count(k Kind) int {
	var n int
	for _, d := range e.Diagnostics {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// An Entry is a relocation with its classification.
type Entry struct {
	Relocation objfile.Relocation
	Outcome    Outcome
}

// A Table is the result of classifying all relocations of an object.
type Table struct {
	Bytes   []byte   // relocation table, little-endian offsets
	GOT     []uint32 // distinct GOT offsets referenced, sorted
	Entries []Entry  // every relocation, in input order
	Counts  [numKinds]int
}

// Len returns the number of entries in the relocation table.
func (t *Table) Len() int {
	return len(t.Bytes) / 4
}

// GOTCount returns the number of distinct GOT entries referenced.
func (t *Table) GOTCount() int {
	return len(t.GOT)
}

// Offsets returns the offsets in the relocation table.
func (t *Table) Offsets() []uint32 {
	r := make([]uint32, t.Len())
	for i := range r {
		r[i] = binary.LittleEndian.Uint32(t.Bytes[i*4:])
	}
	return r
}

// Build classifies every relocation, in order, and builds the relocation
// table. Errors do not stop classification; if any relocation fails, Build
// returns an *Error listing all of them.
func Build(relocs []objfile.Relocation, ctx *Context) (*Table, error) {
	t := &Table{Entries: make([]Entry, 0, len(relocs))}
	var (
		diags []Diagnostic
		got   = make(map[uint32]bool)
	)
	for _, r := range relocs {
		o := Classify(r, ctx)
		t.Entries = append(t.Entries, Entry{r, o})
		t.Counts[o.Kind]++
		switch {
		case o.Kind.IsError():
			diags = append(diags, Diagnostic{
				Offset: r.Offset,
				Type:   r.Type,
				Symbol: r.Symbol,
				Kind:   o.Kind,
				Reason: o.Reason,
			})
			logger.Logf(logger.Error, logTag, "0x%08x %s %s: %s", r.Offset, r.Type, r.Symbol, o.Reason)
			continue
		case o.Kind == TableEntry:
			t.Bytes = binary.LittleEndian.AppendUint32(t.Bytes, r.Offset)
		case o.Kind == GOTReference && r.Type == objfile.R_ARM_GOT_BREL:
			got[o.Value] = true
		}
		if logger.Debug.AllowLogging() {
			logger.Logf(logger.Debug, logTag, "0x%08x %-22s %-24s %s", r.Offset, r.Type, r.Symbol, o.Kind)
		}
	}
	if len(diags) != 0 {
		return nil, &Error{Diagnostics: diags}
	}
	for off := range got {
		t.GOT = append(t.GOT, off)
	}
	sort.Slice(t.GOT, func(i, j int) bool { return t.GOT[i] < t.GOT[j] })
	logger.Logf(logger.Info, logTag, "%d relocations: %d in table, %d GOT references (%d entries), %d fixed, %d debug",
		len(relocs), t.Len(), t.Counts[GOTReference], len(t.GOT), t.Counts[SkipFixed], t.Counts[SkipDebug])
	return t, nil
}
