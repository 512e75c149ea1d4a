package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"moria.us/npureloc/image"
	"moria.us/npureloc/logger"
	"moria.us/npureloc/objfile"
	"moria.us/npureloc/objfile/objfiletest"
	"moria.us/npureloc/reloc"
)

// image size of the test network without parameters: flash, data, and a
// table of two entries
const plainSize = objfiletest.FlashSize + objfiletest.DataSize + 8

// setup writes the network object to a new directory and returns the build
// options for it.
func setup(t *testing.T, f *objfiletest.File) *buildConfig {
	t.Helper()
	dir := t.TempDir()
	if err := f.WriteFile(filepath.Join(dir, "network.elf")); err != nil {
		t.Fatal("WriteFile:", err)
	}
	cfg := &buildConfig{
		input:  dir,
		output: filepath.Join(dir, "build"),
		name:   "network",
	}
	return cfg
}

func run(t *testing.T, cfg *buildConfig) (*result, error) {
	t.Helper()
	if err := cfg.resolve(); err != nil {
		t.Fatal("resolve:", err)
	}
	return postProcess(cfg)
}

func TestPostProcess(t *testing.T) {
	cfg := setup(t, objfiletest.Network())
	res, err := run(t, cfg)
	if err != nil {
		t.Fatal("postProcess:", err)
	}
	if len(res.outputs) != 1 {
		t.Fatalf("outputs: got %v, expected one file", res.outputs)
	}
	name := filepath.Join(cfg.output, "network_rel.bin")
	if res.outputs[0].name != name {
		t.Errorf("output: got %q, expected %q", res.outputs[0].name, name)
	}
	h := res.header
	if n := h.ImageSize(); n != plainSize {
		t.Errorf("ImageSize: got %d, expected %d", n, plainSize)
	}
	if v := h.ParamsOffsetRaw(); v != 0 {
		t.Errorf("params_offset: got 0x%x, expected 0", v)
	}
	if v, expect := h.RelEnd()-h.RelStart(), uint32(8); v != expect {
		t.Errorf("rel size: got %d, expected %d", v, expect)
	}
	if s := res.symbol(objfiletest.FlashAddr + 0x61); s != "ec_init" {
		t.Errorf("symbol: got %q, expected %q", s, "ec_init")
	}
}

func TestPostProcessParams(t *testing.T) {
	f := objfiletest.Network()
	p0 := f.Section(".params_0")
	p0.Data = append([]byte("ecblobs!"), p0.Data...)
	cfg := setup(t, f)
	weights := []byte("weights!")
	if err := os.WriteFile(filepath.Join(cfg.input, "network_reloc_mempools.raw"), weights, 0o666); err != nil {
		t.Fatal(err)
	}
	res, err := run(t, cfg)
	if err != nil {
		t.Fatal("postProcess:", err)
	}
	h := res.header
	if n, expect := h.ImageSize(), uint32(plainSize+16); n != expect {
		t.Errorf("ImageSize: got %d, expected %d", n, expect)
	}
	if v := h.ParamsOffset(); v != plainSize {
		t.Errorf("ParamsOffset: got %d, expected %d", v, plainSize)
	}
	if tail := h.Data()[plainSize:]; string(tail) != "ecblobs!weights!" {
		t.Errorf("params: got %q, expected %q", tail, "ecblobs!weights!")
	}
	descs, err := h.MemPoolDescriptors(nil)
	if err != nil {
		t.Fatal("MemPoolDescriptors:", err)
	}
	if len(descs) < 2 {
		t.Fatalf("MemPoolDescriptors: got %d descriptors, expected 2", len(descs))
	}
	if v := descs[0].FOff; v != 0 {
		t.Errorf("RELOC foff: got %d, expected 0", v)
	}
	if v := descs[1].FOff; v != 0x108 {
		t.Errorf("COPY foff: got 0x%x, expected 0x108", v)
	}
}

func TestPostProcessSplit(t *testing.T) {
	cfg := setup(t, objfiletest.Network())
	cfg.split = true
	cfg.params = filepath.Join(cfg.input, "weights.raw")
	if err := os.WriteFile(cfg.params, []byte("weights!"), 0o666); err != nil {
		t.Fatal(err)
	}
	res, err := run(t, cfg)
	if err != nil {
		t.Fatal("postProcess:", err)
	}
	if n := res.header.ImageSize(); n != plainSize {
		t.Errorf("ImageSize: got %d, expected %d", n, plainSize)
	}
	name := filepath.Join(cfg.output, "network_rel_params.bin")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "weights!" {
		t.Errorf("%s: got %q, expected %q", name, data, "weights!")
	}
}

func TestPostProcessC(t *testing.T) {
	cfg := setup(t, objfiletest.Network())
	cfg.genC = true
	cfg.output = filepath.Join(cfg.input, "out", "net.bin")
	if err := os.Mkdir(filepath.Dir(cfg.output), 0o777); err != nil {
		t.Fatal(err)
	}
	res, err := run(t, cfg)
	if err != nil {
		t.Fatal("postProcess:", err)
	}
	if len(res.outputs) != 3 {
		t.Errorf("outputs: got %v, expected 3 files", res.outputs)
	}
	hdr, err := os.ReadFile(filepath.Join(cfg.input, "out", "net.h"))
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"#define AI_NETWORK_RELOC_C_NAME            \"network\"",
		"#define AI_NETWORK_RELOC_IMAGE_SIZE        (360)",
		"uintptr_t ai_network_reloc_img_get(void);",
	} {
		if !bytes.Contains(hdr, []byte(line)) {
			t.Errorf("net.h: missing %q", line)
		}
	}
	src, err := os.ReadFile(filepath.Join(cfg.input, "out", "net.c"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(src, []byte("static const uint8_t s_network_reloc_img[360] = {")) {
		t.Error("net.c: missing image array")
	}
}

// noOutput checks that a failed build left no file in the output directory.
func noOutput(t *testing.T, cfg *buildConfig) {
	t.Helper()
	ents, err := os.ReadDir(cfg.output)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	for _, e := range ents {
		t.Errorf("unexpected output: %s", e.Name())
	}
}

func TestClangGOT(t *testing.T) {
	cfg := setup(t, objfiletest.Network())
	cfg.clang = true
	_, err := run(t, cfg)
	var perr *image.PostProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("postProcess: got %v, expected PostProcessError", err)
	}
	if !strings.Contains(perr.Msg, "GOT") {
		t.Errorf("message: got %q, expected GOT error", perr.Msg)
	}
	noOutput(t, cfg)
}

func TestSanityCheck(t *testing.T) {
	f := objfiletest.Network()
	f.Section(".relocs").Data = []byte{1, 2, 3, 4}
	cfg := setup(t, f)
	_, err := run(t, cfg)
	var e *objfile.ExtractionError
	if !errors.As(err, &e) {
		t.Fatalf("postProcess: got %v, expected ExtractionError", err)
	}
	if len(e.Items) != 1 || e.Items[0] != ".relocs" {
		t.Errorf("items: got %q, expected [.relocs]", e.Items)
	}
	noOutput(t, cfg)
}

func TestCFileError(t *testing.T) {
	f := objfiletest.Network()
	flash := f.Section(".flash").Data
	binary.LittleEndian.PutUint32(flash[image.FieldCtx*4:], objfiletest.DataAddr+0x200)
	cfg := setup(t, f)
	cfg.genC = true
	if _, err := run(t, cfg); err == nil {
		t.Fatal("postProcess: expected error for runtime context outside of data")
	}
	noOutput(t, cfg)
}

func TestRelocationErrors(t *testing.T) {
	f := objfiletest.Network()
	rel := f.Rel(".rel.flash")
	rel.Entries = append(rel.Entries,
		objfiletest.Reloc{Offset: objfiletest.FlashAddr + 0x7c, Type: 40, Symbol: "ec_init"},
		objfiletest.Reloc{Offset: objfiletest.FlashAddr + 0x7c, Type: 40, Symbol: "ec_inference"},
	)
	cfg := setup(t, f)
	_, err := run(t, cfg)
	var rerr *reloc.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("postProcess: got %v, expected reloc.Error", err)
	}
	if n := rerr.Count(reloc.Unsupported); n != 2 {
		t.Errorf("unsupported: got %d, expected 2", n)
	}
	noOutput(t, cfg)
}

func TestEndLog(t *testing.T) {
	defer startLog(0)

	// at the highest verbosity the log is written at the end, collapsed
	startLog(maxVerbosity)
	f := objfiletest.Network()
	flash := f.Section(".flash").Data
	binary.LittleEndian.PutUint32(flash[image.FieldCtx*4:], objfiletest.DataAddr+0x200)
	cfg := setup(t, f)
	cfg.genC = true
	if _, err := run(t, cfg); err == nil {
		t.Fatal("postProcess: expected error")
	}
	logger.Logf(logger.Error, logTag, "failed")
	logger.Logf(logger.Error, logTag, "failed")
	var b bytes.Buffer
	endLog(&b)
	for _, s := range []string{"RELOC: ", "NPURELOC: failed (repeat x2)\n"} {
		if !strings.Contains(b.String(), s) {
			t.Errorf("endLog: missing %q in %q", s, b.String())
		}
	}

	// otherwise the entries have already been echoed
	startLog(0)
	logger.Logf(logger.Error, logTag, "failed")
	b.Reset()
	endLog(&b)
	if b.Len() != 0 {
		t.Errorf("endLog: got %q, expected nothing", b.String())
	}
}

func TestWrapError(t *testing.T) {
	inner := &image.PostProcessError{Msg: "bad"}
	err := wrapError(wrapErrorf(inner, "section %d", 3), "file.elf")
	if s := err.Error(); s != "file.elf: section 3: bad" {
		t.Errorf("Error: got %q, expected %q", s, "file.elf: section 3: bad")
	}
	var perr *image.PostProcessError
	if !errors.As(err, &perr) || perr != inner {
		t.Errorf("errors.As: got %v, expected %v", perr, inner)
	}
}

func TestBuildFlags(t *testing.T) {
	t.Setenv(envName, "kws")
	t.Setenv(envSplit, "true")
	cfg, err := parseBuildFlags([]string{"-v", "2", "dir"})
	if err != nil {
		t.Fatal("parseBuildFlags:", err)
	}
	if cfg.name != "kws" {
		t.Errorf("name: got %q, expected %q", cfg.name, "kws")
	}
	if !cfg.split {
		t.Error("split: got false, expected true")
	}
	if cfg.output != defaultOutput {
		t.Errorf("output: got %q, expected %q", cfg.output, defaultOutput)
	}
	if cfg.verbosity != 2 {
		t.Errorf("verbosity: got %d, expected 2", cfg.verbosity)
	}
	if _, err := parseBuildFlags([]string{"-v", "3", "dir"}); err == nil {
		t.Error("parseBuildFlags: expected error for verbosity 3")
	}
	if _, err := parseBuildFlags(nil); err == nil {
		t.Error("parseBuildFlags: expected error without input")
	}
}

func TestPaths(t *testing.T) {
	if s := paramsPath("out/net_rel.bin"); s != "out/net_rel_params.bin" {
		t.Errorf("paramsPath: got %q, expected %q", s, "out/net_rel_params.bin")
	}
	src, hdr := cPaths("out/net_rel.bin")
	if src != "out/net_rel.c" || hdr != "out/net_rel.h" {
		t.Errorf("cPaths: got %q %q, expected out/net_rel.c out/net_rel.h", src, hdr)
	}
}
