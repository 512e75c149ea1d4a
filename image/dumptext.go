package image

import (
	"bufio"
	"fmt"
	"strconv"

	"moria.us/npureloc/vaddr"
)

const indentLevel = "  "

const hexDigits = "0123456789abcdef"

func writeInt0(w *bufio.Writer, v uint32, sz uint) {
	for i := uint(sz * 2); i > 0; i-- {
		w.WriteByte(hexDigits[(v>>((i-1)*4))&15])
	}
}

func writeInt(w *bufio.Writer, v uint32, sz uint) {
	w.WriteString("0x")
	writeInt0(w, v, sz)
}

type field struct {
	name string
	data interface{}
	hint string
}

func dumpFields(w *bufio.Writer, prefix string, fields []field) {
	if len(fields) == 0 {
		return
	}
	var maxName int
	for _, f := range fields {
		if len(f.name) > maxName {
			maxName = len(f.name)
		}
	}
	spaces := make([]byte, maxName+2)
	for i := range spaces {
		spaces[i] = ' '
	}
	for _, f := range fields {
		w.WriteString(prefix)
		w.WriteString(f.name)
		w.WriteByte(':')
		w.Write(spaces[:maxName+2-len(f.name)])
		switch v := f.data.(type) {
		case uint8:
			writeInt(w, uint32(v), 1)
		case uint32:
			writeInt(w, v, 4)
		case int:
			w.WriteString(strconv.Itoa(v))
		case string:
			w.WriteString(v)
		default:
			panic("unknown field type for " + f.name)
		}
		if f.hint != "" {
			w.WriteString("  ")
			w.WriteString(f.hint)
		}
		w.WriteByte('\n')
	}
}

// sizeHint formats a size in bytes and in hexadecimal.
func sizeHint(n uint32) string {
	return fmt.Sprintf("%d (0x%x)", n, n)
}

// DumpText writes the header, in text format, to the writer. If symbol is
// not nil, it is used to annotate the addresses of the runtime context
// symbols. Data overrides the data section stored in the image, as for
// RuntimeContext.
func (h *Header) DumpText(w *bufio.Writer, prefix string, symbol func(addr uint32) string, data []byte) {
	nprefix := prefix + indentLevel
	w.WriteString(prefix)
	w.WriteString(h.String())
	w.WriteString(":\n")

	fields := make([]field, numFields)
	for i := range fields {
		f := Field(i)
		v := h.Get(f)
		var hint string
		switch {
		case f == FieldMagic:
		case f == FieldFlags:
			hint = h.Flags().String()
		case f == FieldDataStart:
			hint = fmt.Sprintf("data size = %d", h.sectionSize(FieldDataStart, FieldDataEnd))
		case f == FieldDataData:
			hint = fmt.Sprintf("RO size = %d", h.ROSize())
		case f == FieldBSSStart:
			hint = fmt.Sprintf("bss size = %d", h.sectionSize(FieldBSSStart, FieldBSSEnd))
		case f == FieldBSSEnd:
			hint = fmt.Sprintf("RW size = %d", h.RWSize())
		case f == FieldGOTStart:
			n := h.sectionSize(FieldGOTStart, FieldGOTEnd)
			hint = fmt.Sprintf("got size = %d - %d items", n, n/4)
		case f == FieldRelStart:
			n := h.sectionSize(FieldRelStart, FieldRelEnd)
			hint = fmt.Sprintf("rel size = %d - %d items", n, n/4)
		case f == FieldParamsOffset:
		case f == FieldParamsStart || f >= firstSymField && f <= lastSymField:
			hint = vaddr.Format(v)
			if symbol != nil {
				hint = symbol(v) + " (" + hint + ")"
			}
		default:
			hint = vaddr.Format(v)
		}
		fields[i] = field{fmt.Sprintf("%2d %s", i, f), v, hint}
	}
	dumpFields(w, nprefix, fields)
	w.WriteByte('\n')

	dumpFields(w, prefix, []field{
		{"XIP size", sizeHint(h.XIPSize()), "data+got+bss sections"},
		{"COPY size", sizeHint(h.CopySize()), "+ro sections"},
		{"PARAMS offset", sizeHint(h.ParamsOffset()), ""},
		{"PARAMS size", sizeHint(h.ParamsSize()), ""},
	})

	if h.WithData() || data != nil {
		descs, err := h.MemPoolDescriptors(data)
		switch {
		case err != nil:
			fmt.Fprintf(w, "%smempool c-descriptors: %v\n", prefix, err)
		case descs == nil:
			fmt.Fprintf(w, "%sno mempool c-descriptors\n", prefix)
		default:
			fmt.Fprintf(w, "\n%smempool c-descriptors (off=%08x, %d entries, from %s):\n",
				prefix, h.ParamsStart(), len(descs), vaddr.SegmentOf(h.ParamsStart()))
			for _, d := range descs {
				fmt.Fprintf(w, "%s%-24s %08x %-22s %-10d %08x %d\n", nprefix,
					fmt.Sprintf("%s (%08x)", d.Name, d.NameAddr), d.Flags.Pack(), d.Flags, d.FOff, d.Dst, d.Size)
			}
		}
		if ctx, err := h.RuntimeContext(data); err != nil {
			fmt.Fprintf(w, "%srt_ctx: %v\n", prefix, err)
		} else {
			w.WriteByte('\n')
			fmt.Fprintf(w, "%srt_ctx: c_name=%q, acts_sz=%d, params_sz=%d, ext_ram_sz=%d\n",
				prefix, ctx.CName, ctx.ActivationsSize, ctx.WeightsSize, ctx.ExtRAMSize)
			fmt.Fprintf(w, "%srt_ctx: rt_version_desc=%q\n", prefix, ctx.RTVersion)
		}
	} else {
		fmt.Fprintf(w, "%sno data available for mempool c-descriptors\n", prefix)
	}
}
