package image_test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moria.us/npureloc/image"
	"moria.us/npureloc/mempool"
	"moria.us/npureloc/objfile/objfiletest"
	"moria.us/npureloc/vaddr"
)

const (
	flashAddr = objfiletest.FlashAddr
	dataAddr  = objfiletest.DataAddr
)

func putWord(b []byte, off, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

// network returns the parts of the test network image.
func network() image.Input {
	obj := objfiletest.Network()
	var rel []byte
	rel = binary.LittleEndian.AppendUint32(rel, objfiletest.DataPtrConst)
	rel = binary.LittleEndian.AppendUint32(rel, objfiletest.DataPtrRAM)
	return image.Input{
		Flash:    obj.Section(".flash").Data,
		Data:     obj.Section(".data").Data,
		RelTable: rel,
		Weights:  []byte("weights!"),
	}
}

func TestHeaderSize(t *testing.T) {
	if image.HeaderSize != 96 {
		t.Errorf("HeaderSize: got %d, expected %d", image.HeaderSize, 96)
	}
	if s := image.FieldCtx.String(); s != "ctx" {
		t.Errorf("FieldCtx: got %q, expected %q", s, "ctx")
	}
}

func TestNewHeader(t *testing.T) {
	in := network()
	h, err := image.NewHeader(in.Flash)
	if err != nil {
		t.Fatal("NewHeader:", err)
	}
	if h.Magic() != image.Magic {
		t.Errorf("magic: got 0x%08x, expected 0x%08x", h.Magic(), image.Magic)
	}
	if h.WithData() {
		t.Error("WithData: got true for flash section")
	}
	if v := h.ROSize(); v != objfiletest.FlashSize {
		t.Errorf("ROSize: got %d, expected %d", v, objfiletest.FlashSize)
	}
	if v := h.RWSize(); v != 0x100 {
		t.Errorf("RWSize: got %d, expected %d", v, 0x100)
	}
	f := h.Flags()
	want := image.Flags{Major: 1, Minor: 2, Toolchain: image.ToolchainARMGCC, FloatABI: 2, FPU: true, CPUID: 0xd22}
	if f != want {
		t.Errorf("Flags: got %+v, expected %+v", f, want)
	}
}

func TestHeaderFormat(t *testing.T) {
	cases := []struct {
		field image.Field
		value uint32
	}{
		{image.FieldMagic, 0x4e49424f},
		{image.FieldDataStart, dataAddr + 0x10},
		{image.FieldDataStart, 0x20000000},
		{image.FieldDataData, 0x30000000 + objfiletest.FlashSize},
	}
	for _, c := range cases {
		flash := append([]byte(nil), network().Flash...)
		putWord(flash, uint32(c.field)*4, c.value)
		_, err := image.NewHeader(flash)
		var e *image.HeaderFormatError
		if !errors.As(err, &e) {
			t.Errorf("%s = 0x%08x: got %v, expected HeaderFormatError", c.field, c.value, err)
			continue
		}
		if e.Field != c.field || e.Actual != c.value {
			t.Errorf("%s = 0x%08x: got error for %s = 0x%08x", c.field, c.value, e.Field, e.Actual)
		}
	}
}

func TestRevalidate(t *testing.T) {
	flash := append([]byte(nil), network().Flash...)
	h, err := image.NewHeader(flash)
	if err != nil {
		t.Fatal("NewHeader:", err)
	}
	h.Set(image.FieldDataData, 0x40000000)
	if !h.Mutated() {
		t.Error("Mutated: got false after Set")
	}
	var e *image.HeaderFormatError
	if err := h.Revalidate(); !errors.As(err, &e) || e.Field != image.FieldDataData {
		t.Errorf("Revalidate: got %v, expected HeaderFormatError for data_data", err)
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	cases := []image.Flags{
		{},
		{Major: 15, Minor: 15, Async: true, DebugInfo: true, Secure: true, Toolchain: image.ToolchainSTARMClang, FloatABI: 3, FPU: true, CPUID: 0xfff},
		{Major: 2, Minor: 0, Secure: true, Toolchain: image.ToolchainARMClang, CPUID: 0xc27},
		{Major: 1, Minor: 2, Toolchain: image.ToolchainARMGCC, FloatABI: 2, FPU: true, CPUID: 0xd22},
	}
	for _, f := range cases {
		if g := image.UnpackFlags(f.Pack()); g != f {
			t.Errorf("UnpackFlags(Pack(%+v)): got %+v", f, g)
		}
	}
	if v := cases[3].Pack(); v != objfiletest.HeaderFlags {
		t.Errorf("Pack: got 0x%08x, expected 0x%08x", v, objfiletest.HeaderFlags)
	}
	// unknown toolchain ids decode as none
	if f := image.UnpackFlags(3 << 16); f.Toolchain != image.ToolchainNone {
		t.Errorf("toolchain 3: got %s, expected NONE", f.Toolchain)
	}
}

func TestAssemble(t *testing.T) {
	in := network()
	img, err := image.Assemble(in)
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	h := img.Header
	const (
		relStart = objfiletest.FlashSize + objfiletest.DataSize
		size     = relStart + 8 + 8
	)
	if n := len(img.Bytes()); n != size {
		t.Errorf("size: got %d, expected %d", n, size)
	}
	checks := []struct {
		name      string
		got, want uint32
	}{
		{"rel_start", h.RelStart(), flashAddr + relStart},
		{"rel_end", h.RelEnd(), flashAddr + relStart + 8},
		{"params_offset", h.ParamsOffset(), relStart + 8},
		{"params size", h.ParamsSize(), 8},
		{"XIP size", h.XIPSize(), 0x100},
		{"COPY size", h.CopySize(), 0x1c0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got 0x%x, expected 0x%x", c.name, c.got, c.want)
		}
	}
	if img.Params() != nil {
		t.Errorf("Params: got %d bytes, expected none", len(img.Params()))
	}
	if !bytes.Equal(img.Bytes()[size-8:], in.Weights) {
		t.Errorf("weights: got %q", img.Bytes()[size-8:])
	}
	// input is not modified
	if v := binary.LittleEndian.Uint32(in.Flash[int(image.FieldRelStart)*4:]); v != flashAddr+objfiletest.FlashSize {
		t.Errorf("input rel_start: got 0x%08x", v)
	}

	// parsing the image again gives the same layout
	h2, err := image.NewHeader(append([]byte(nil), img.Bytes()...))
	if err != nil {
		t.Fatal("NewHeader:", err)
	}
	if h2.Magic() != image.Magic || vaddr.BaseOf(h2.DataStart()) != vaddr.Base(vaddr.RAM) {
		t.Errorf("header: magic 0x%08x, data_start 0x%08x", h2.Magic(), h2.DataStart())
	}
	if h2.XIPSize() != h.XIPSize() || h2.CopySize() != h.CopySize() || h2.ParamsOffset() != h.ParamsOffset() {
		t.Errorf("sizes: got %d/%d/%d, expected %d/%d/%d",
			h2.XIPSize(), h2.CopySize(), h2.ParamsOffset(), h.XIPSize(), h.CopySize(), h.ParamsOffset())
	}
	if err := h2.Validate(); err != nil {
		t.Error("Validate:", err)
	}
}

func TestAssembleSplit(t *testing.T) {
	in := network()
	in.Pools = []byte("pools...")
	in.Split = true
	img, err := image.Assemble(in)
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	if v := img.Header.ParamsOffset(); v != 0 {
		t.Errorf("params_offset: got %d, expected 0", v)
	}
	if s := string(img.Params()); s != "pools...weights!" {
		t.Errorf("Params: got %q", s)
	}
	if n := len(img.Bytes()); n != objfiletest.FlashSize+objfiletest.DataSize+8 {
		t.Errorf("size: got %d", n)
	}
}

func TestAssembleNoParams(t *testing.T) {
	in := network()
	in.Weights = nil
	img, err := image.Assemble(in)
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	if v := img.Header.ParamsOffset(); v != 0 {
		t.Errorf("params_offset: got %d, expected 0", v)
	}
}

func TestAssemblePadding(t *testing.T) {
	in := network()
	// flash section shorter than data_data, the gap is filled with zeroes
	flash := in.Flash[:objfiletest.FlashSize-4]
	in.Flash = flash
	img, err := image.Assemble(in)
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	if v := img.Header.RelStart(); v != flashAddr+objfiletest.FlashSize+objfiletest.DataSize {
		t.Errorf("rel_start: got 0x%08x", v)
	}

	in = network()
	in.Flash = append([]byte(nil), in.Flash...)
	putWord(in.Flash, uint32(image.FieldDataData)*4, flashAddr+0x80)
	_, err = image.Assemble(in)
	var e *image.PostProcessError
	if !errors.As(err, &e) {
		t.Errorf("Assemble: got %v, expected PostProcessError", err)
	}
}

func TestValidateGOT(t *testing.T) {
	in := network()
	in.Data = append([]byte(nil), in.Data...)
	// the last three GOT words are not checked
	putWord(in.Data, 12, 0x50000000)
	if _, err := image.Assemble(in); err != nil {
		t.Fatal("Assemble:", err)
	}

	putWord(in.Data, 0, 0x50000000)
	_, err := image.Assemble(in)
	var e *image.PostProcessError
	if !errors.As(err, &e) {
		t.Fatalf("Assemble: got %v, expected PostProcessError", err)
	}
	if e.Errors < 1 {
		t.Errorf("errors: got %d, expected at least 1", e.Errors)
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name  string
		field image.Field
		value func(h *image.Header) uint32
	}{
		{"got_end before got_start", image.FieldGOTEnd, func(h *image.Header) uint32 { return h.GOTStart() - 4 }},
		{"rel_end before rel_start", image.FieldRelEnd, func(h *image.Header) uint32 { return h.RelStart() - 4 }},
		{"got_end past image", image.FieldGOTEnd, func(h *image.Header) uint32 { return h.GOTStart() + 0x0ff00000 }},
	}
	for _, c := range cases {
		img, err := image.Assemble(network())
		if err != nil {
			t.Fatal("Assemble:", err)
		}
		h := img.Header
		h.Set(c.field, c.value(h))
		err = h.Validate()
		var e *image.PostProcessError
		if !errors.As(err, &e) {
			t.Errorf("%s: got %v, expected PostProcessError", c.name, err)
		}
	}
}

func TestValidateRel(t *testing.T) {
	cases := []struct {
		name string
		v    uint32
		ok   bool
	}{
		{"ram", dataAddr + 0x20, true},
		{"bss end", dataAddr + 0x100, true},
		{"past bss", dataAddr + 0x104, false},
		{"flash", flashAddr + objfiletest.FlashSize, true},
		{"past flash", flashAddr + objfiletest.FlashSize + 4, false},
		{"param", 0x90000010, true},
		{"unknown", 0x70000000, false},
	}
	for _, c := range cases {
		in := network()
		in.Data = append([]byte(nil), in.Data...)
		putWord(in.Data, objfiletest.DataPtrRAM-dataAddr, c.v)
		_, err := image.Assemble(in)
		if c.ok && err != nil {
			t.Errorf("%s: %v", c.name, err)
		} else if !c.ok {
			var e *image.PostProcessError
			if !errors.As(err, &e) || e.Errors != 1 {
				t.Errorf("%s: got %v, expected PostProcessError with 1 error", c.name, err)
			}
		}
	}
}

func TestRuntimeContext(t *testing.T) {
	img, err := image.Assemble(network())
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	ctx, err := img.Header.RuntimeContext(nil)
	if err != nil {
		t.Fatal("RuntimeContext:", err)
	}
	want := image.RuntimeContext{
		CName:           "network",
		ActivationsSize: objfiletest.ActivationsSize,
		WeightsSize:     objfiletest.WeightsSize,
		ExtRAMSize:      objfiletest.ExtRAMSize,
		RTVersion:       "runtime v10.1",
	}
	if *ctx != want {
		t.Errorf("RuntimeContext: got %+v, expected %+v", *ctx, want)
	}

	descs, err := img.Header.MemPoolDescriptors(nil)
	if err != nil {
		t.Fatal("MemPoolDescriptors:", err)
	}
	if len(descs) != 3 {
		t.Fatalf("MemPoolDescriptors: got %d entries, expected 3", len(descs))
	}
	if d := descs[1]; d.Name != "pool1" || d.Flags.Type != mempool.Copy || d.FOff != 0x100 || d.Dst != 0x34100000 || d.Size != 0x40 {
		t.Errorf("descriptor 1: got %+v", d)
	}
	if d := descs[2]; d.NameAddr != 0 || d.Name != "<undefined>" {
		t.Errorf("descriptor 2: got %+v", d)
	}
}

func TestShiftCopyOffsets(t *testing.T) {
	data := append([]byte(nil), network().Data...)
	if err := image.ShiftCopyOffsets(data, objfiletest.ParamsDesc, 0x20); err != nil {
		t.Fatal("ShiftCopyOffsets:", err)
	}
	desc := objfiletest.ParamsDesc - dataAddr
	if v := binary.LittleEndian.Uint32(data[desc+8:]); v != 0 {
		t.Errorf("RELOC foff: got 0x%x, expected 0", v)
	}
	if v := binary.LittleEndian.Uint32(data[desc+20+8:]); v != 0x120 {
		t.Errorf("COPY foff: got 0x%x, expected 0x120", v)
	}
}

func TestWriteC(t *testing.T) {
	img, err := image.Assemble(network())
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	var src, hdr bytes.Buffer
	if err := image.WriteC(&src, &hdr, "network", img.Header); err != nil {
		t.Fatal("WriteC:", err)
	}
	for _, s := range []string{
		`#define AI_NETWORK_RELOC_C_NAME            "network"`,
		`#define AI_NETWORK_RELOC_RAM_SIZE_XIP      (256)`,
		`#define AI_NETWORK_RELOC_RAM_SIZE_COPY     (448)`,
		`#define AI_NETWORK_RELOC_WEIGHTS_SIZE      (8192)`,
		`#define AI_NETWORK_RELOC_MPOOL_DESC_0_FLAGS  (0x1010100) /* RELOC.PARAM.0.READ */`,
		`#define AI_NETWORK_RELOC_MPOOL_DESC_1_DST    (0x34100000)`,
		`uintptr_t ai_network_reloc_img_get(void);`,
	} {
		if !strings.Contains(hdr.String(), s) {
			t.Errorf("header: missing %q", s)
		}
	}
	if strings.Contains(hdr.String(), "MPOOL_DESC_2") {
		t.Error("header: descriptor for the table end")
	}
	size := len(img.Bytes())
	if !strings.Contains(src.String(), "static const uint8_t s_network_reloc_img[368] = {") || size != 368 {
		t.Errorf("source: array declaration not found (image %d bytes)", size)
	}
	if !strings.Contains(src.String(), "    0x4e, 0x42, 0x49, 0x4e, ") {
		t.Error("source: image bytes not found")
	}
	if n := strings.Count(src.String(), "\n    0x"); n != size/16 {
		t.Errorf("source: got %d lines of data, expected %d", n, size/16)
	}
}

func TestWriteCEscapes(t *testing.T) {
	in := network()
	in.Flash = append([]byte(nil), in.Flash...)
	i := bytes.Index(in.Flash, []byte("runtime v10.1"))
	if i < 0 {
		t.Fatal("runtime version not found in flash")
	}
	copy(in.Flash[i:], "say \"hi\"\n\xc3\xa9?x")
	img, err := image.Assemble(in)
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	var src, hdr bytes.Buffer
	if err := image.WriteC(&src, &hdr, "network", img.Header); err != nil {
		t.Fatal("WriteC:", err)
	}
	expect := `#define AI_NETWORK_RELOC_RT_DESC           "say \"hi\"\012\303\251\?x"` + "\n"
	if !strings.Contains(hdr.String(), expect) {
		t.Errorf("header: missing %q", expect)
	}
}

func TestOpen(t *testing.T) {
	img, err := image.Assemble(network())
	if err != nil {
		t.Fatal("Assemble:", err)
	}
	name := filepath.Join(t.TempDir(), "network_rel.bin")
	if err := os.WriteFile(name, img.Bytes(), 0o666); err != nil {
		t.Fatal(err)
	}
	h, err := image.Open(name)
	if err != nil {
		t.Fatal("Open:", err)
	}
	if !bytes.Equal(h.Data(), img.Bytes()) {
		t.Error("Open: image differs")
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h.DumpText(w, "", nil, nil)
	w.Flush()
	for _, s := range []string{"rel_start", "rt_version_desc=\"runtime v10.1\"", "COPY.MIXED.WRITE"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("DumpText: missing %q", s)
		}
	}
}
