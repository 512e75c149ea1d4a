package reloc

import (
	"bufio"
	"fmt"

	"github.com/ianlancetaylor/demangle"

	"moria.us/npureloc/vaddr"
)

// DumpText writes the classified relocations, in text format, to the writer.
func (t *Table) DumpText(w *bufio.Writer, prefix string) {
	for _, e := range t.Entries {
		r := e.Relocation
		fmt.Fprintf(w, "%s0x%08x %-10s %-22s %-24s %s", prefix, r.Offset, vaddr.SegmentOf(r.Offset),
			r.Type, e.Outcome.Kind, demangle.Filter(r.Symbol))
		switch e.Outcome.Kind {
		case SkipFixed, GOTReference:
			fmt.Fprintf(w, " = 0x%08x", e.Outcome.Value)
		}
		if e.Outcome.Reason != "" {
			w.WriteString(" (")
			w.WriteString(e.Outcome.Reason)
			w.WriteByte(')')
		}
		w.WriteByte('\n')
	}
	fmt.Fprintf(w, "%sTable: %d entries, %d bytes\n", prefix, t.Len(), len(t.Bytes))
	fmt.Fprintf(w, "%sGOT:   %d entries referenced\n", prefix, t.GOTCount())
}
