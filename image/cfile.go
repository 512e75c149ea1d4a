package image

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const generatedNote = "/* Generated file - SHOULD-BE NOT MODIFIED */\n\n"

const alignedDef = `
#if defined(__ICCARM__) || defined (__IAR_SYSTEMS_ICC__)
    #define _ALIGNED(x)         __ALIGNED_X(x)
    #define __ALIGNED_XY(x, y)  x ## y
    #define __ALIGNED_X(x)      __ALIGNED_XY(__ALIGNED_,x)
    #define __ALIGNED_1         _Pragma("data_alignment = 1")
    #define __ALIGNED_2         _Pragma("data_alignment = 2")
    #define __ALIGNED_4         _Pragma("data_alignment = 4")
    #define __ALIGNED_8         _Pragma("data_alignment = 8")
#elif defined(__CC_ARM)
    #define _ALIGNED(x)         __attribute__((aligned (x)))
#elif defined(__GNUC__)
    #define _ALIGNED(x)         __attribute__((aligned(x)))
#endif

`

const bytesPerLine = 16

// cQuote returns s as a C string literal. Bytes outside printable ASCII are
// written as three digit octal escapes, which cannot run into the following
// character the way hexadecimal escapes do.
func cQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '?':
			// avoid trigraphs
			b.WriteString(`\?`)
		case c < ' ' || c > '~':
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// WriteC writes the image as a C source file to src and the matching header
// file to hdr. Name is the C identifier used for the array and the macros.
func WriteC(src, hdr io.Writer, name string, h *Header) error {
	ctx, err := h.RuntimeContext(nil)
	if err != nil {
		return err
	}
	descs, err := h.MemPoolDescriptors(nil)
	if err != nil {
		return err
	}
	upper := strings.ToUpper(name)

	w := bufio.NewWriter(hdr)
	w.WriteString(generatedNote)
	fmt.Fprintf(w, "#ifndef __%s_RELOC_H__\n", upper)
	fmt.Fprintf(w, "#define __%s_RELOC_H__\n\n", upper)
	w.WriteString("#include <stdint.h>\n\n")
	fmt.Fprintf(w, "#define AI_%s_RELOC_C_NAME            %s\n", upper, cQuote(ctx.CName))
	fmt.Fprintf(w, "#define AI_%s_RELOC_RT_DESC           %s\n\n", upper, cQuote(ctx.RTVersion))
	fmt.Fprintf(w, "#define AI_%s_RELOC_RAM_SIZE_XIP      (%d)\n", upper, h.XIPSize())
	fmt.Fprintf(w, "#define AI_%s_RELOC_RAM_SIZE_COPY     (%d)\n\n", upper, h.CopySize())
	fmt.Fprintf(w, "#define AI_%s_RELOC_IMAGE_SIZE        (%d)\n\n", upper, h.ImageSize())
	fmt.Fprintf(w, "#define AI_%s_RELOC_ACTIVATIONS_SIZE  (%d)\n", upper, ctx.ActivationsSize)
	fmt.Fprintf(w, "#define AI_%s_RELOC_WEIGHTS_SIZE      (%d)\n", upper, ctx.WeightsSize)
	fmt.Fprintf(w, "#define AI_%s_RELOC_EXT_RAM_SIZE      (%d)\n\n", upper, ctx.ExtRAMSize)
	for i, d := range descs {
		if d.Flags.Pack() == 0 {
			continue
		}
		fmt.Fprintf(w, "#define AI_%s_RELOC_MPOOL_DESC_%d_NAME   %s\n", upper, i, cQuote(d.Name))
		fmt.Fprintf(w, "#define AI_%s_RELOC_MPOOL_DESC_%d_FLAGS  (0x%X) /* %s */\n", upper, i, d.Flags.Pack(), d.Flags)
		fmt.Fprintf(w, "#define AI_%s_RELOC_MPOOL_DESC_%d_FOFF   (%d)\n", upper, i, d.FOff)
		fmt.Fprintf(w, "#define AI_%s_RELOC_MPOOL_DESC_%d_DST    (0x%X)\n", upper, i, d.Dst)
		fmt.Fprintf(w, "#define AI_%s_RELOC_MPOOL_DESC_%d_SIZE   (%d)\n\n", upper, i, d.Size)
	}
	fmt.Fprintf(w, "uintptr_t ai_%s_reloc_img_get(void);\n\n", name)
	fmt.Fprintf(w, "#endif /* __%s_RELOC_H__ */\n", upper)
	if err := w.Flush(); err != nil {
		return err
	}

	img := h.Data()
	w = bufio.NewWriter(src)
	w.WriteString(generatedNote)
	w.WriteString("#include <stdint.h>\n")
	w.WriteString(alignedDef)
	fmt.Fprintf(w, "uintptr_t ai_%s_reloc_img_get(void)\n{\n", name)
	w.WriteString(" _ALIGNED(8)\n")
	fmt.Fprintf(w, " static const uint8_t s_%s_reloc_img[%d] = {\n", name, len(img))
	for pos := 0; pos < len(img); pos += bytesPerLine {
		end := pos + bytesPerLine
		if end > len(img) {
			end = len(img)
		}
		w.WriteString("    ")
		for i, b := range img[pos:end] {
			if i != 0 {
				w.WriteString(", ")
			}
			w.WriteString("0x")
			w.WriteByte(hexDigits[b>>4])
			w.WriteByte(hexDigits[b&15])
		}
		if end < len(img) {
			w.WriteByte(',')
		}
		w.WriteByte('\n')
	}
	w.WriteString(" };\n\n")
	fmt.Fprintf(w, "  return (uintptr_t)(s_%s_reloc_img);\n\n", name)
	w.WriteString("};\n")
	return w.Flush()
}
