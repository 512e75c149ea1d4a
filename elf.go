package main

import (
	"fmt"
	"os"

	"moria.us/npureloc/image"
	"moria.us/npureloc/logger"
	"moria.us/npureloc/objfile"
	"moria.us/npureloc/reloc"
	"moria.us/npureloc/vaddr"
)

// A wrappedError is an error wrapped with a location for context.
type wrappedError struct {
	location string
	inner    error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %v", e.location, e.inner)
}

func (e *wrappedError) Unwrap() error {
	return e.inner
}

// wrapError returns an error wrapped with a location for context.
func wrapError(e error, loc string) error {
	if we, ok := e.(*wrappedError); ok {
		return &wrappedError{
			location: loc + ": " + we.location,
			inner:    we.inner,
		}
	}
	return &wrappedError{
		location: loc,
		inner:    e,
	}
}

// wrapErrorf returns an error wrapped with a location for context.
func wrapErrorf(e error, f string, a ...interface{}) error {
	return wrapError(e, fmt.Sprintf(f, a...))
}

func wrapErrorSection(e error, s *objfile.Section) error {
	return wrapErrorf(e, "section %d %q", s.Index, s.Name)
}

// =================================================================================================

const logTag = "NPURELOC"

// size of the placeholder array at the end of the first parameter section
const paramsPlaceholder = 32

// A network is a network object ready to be assembled into an image.
type network struct {
	file   *objfile.File
	header *image.Header // initial header, from the flash section
	data   []byte        // initial contents of the data section
	pools  []byte        // payload of the first parameter section
	table  *reloc.Table
}

// readNetwork extracts a network object, prepares its data section and
// builds the relocation table.
func readNetwork(name string, clang bool) (*network, error) {
	f, err := objfile.Open(name)
	if err != nil {
		return nil, err
	}
	n := &network{file: f}

	flash := f.Section(".flash")
	if n.header, err = image.NewHeader(flash.Data); err != nil {
		return nil, wrapErrorSection(err, flash)
	}
	if clang && n.header.GOTStart() != n.header.GOTEnd() {
		return nil, &image.PostProcessError{Msg: "clang mode: GOT section is not empty"}
	}

	data := f.Section(".data")
	n.data = append([]byte(nil), data.Data...)
	if p0 := f.Section(".params_0"); p0 != nil {
		if len(p0.Data) < paramsPlaceholder {
			return nil, wrapErrorSection(&objfile.ExtractionError{
				Reason: fmt.Sprintf("section is smaller than its %d byte placeholder", paramsPlaceholder),
			}, p0)
		}
		n.pools = p0.Data[:len(p0.Data)-paramsPlaceholder]
	}
	logger.Logf(logger.Debug, logTag, "ecblobs in params: %t (size=%d)", len(n.pools) != 0, len(n.pools))
	if len(n.pools) != 0 {
		if err := image.ShiftCopyOffsets(n.data, n.header.ParamsStart(), uint32(len(n.pools))); err != nil {
			return nil, wrapErrorSection(err, data)
		}
	}
	for _, b := range f.ECBlobs() {
		logger.Logf(logger.Info, logTag, "ec blob %-24s reloc=%-3s bss=%-8d rodata=%d", b.Name, b.Reloc, b.BSS, b.ROData)
	}

	ctx, err := reloc.NewContext(f, clang)
	if err != nil {
		return nil, err
	}
	if n.table, err = reloc.Build(f.Relocations, ctx); err != nil {
		return nil, err
	}
	logger.Logf(logger.Info, logTag, "%d relocations, %d table entries, %d GOT entries",
		len(f.Relocations), n.table.Len(), n.table.GOTCount())
	return n, nil
}

// symbol returns the name of the symbol at an address, for listings.
func (n *network) symbol(addr uint32) string {
	if s := n.file.SymbolAt(addr); s != nil {
		return s.PrettyName
	}
	return "<symbol not found>"
}

// assemble builds the image. Weights are the contents of the raw parameter
// file, if any.
func (n *network) assemble(weights []byte, split bool) (*image.Image, error) {
	img, err := image.Assemble(image.Input{
		Flash:    n.file.Section(".flash").Data,
		Data:     n.data,
		RelTable: n.table.Bytes,
		Pools:    n.pools,
		Weights:  weights,
		Split:    split,
	})
	if err != nil {
		return nil, err
	}
	h := img.Header
	logger.Logf(logger.Info, logTag, "image %d bytes, rel_start %s, params_offset %d, XIP %d, COPY %d",
		h.ImageSize(), vaddr.Format(h.RelStart()), h.ParamsOffset(), h.XIPSize(), h.CopySize())
	return img, nil
}

// A result is the outcome of the build command.
type result struct {
	*network
	header  *image.Header // image, as read back from the output
	outputs []output
}

// postProcess creates a relocatable image from a network object. Nothing is
// written unless the image is complete and valid.
func postProcess(cfg *buildConfig) (*result, error) {
	n, err := readNetwork(cfg.input, cfg.clang)
	if err != nil {
		return nil, err
	}
	var weights []byte
	if cfg.params != "" {
		if weights, err = os.ReadFile(cfg.params); err != nil {
			return nil, err
		}
		logger.Logf(logger.Debug, logTag, "raw params file: %q (s=%d)", cfg.params, len(weights))
	}
	img, err := n.assemble(weights, cfg.split)
	if err != nil {
		return nil, err
	}
	binName, err := cfg.imagePath()
	if err != nil {
		return nil, err
	}
	outputs, err := writeImage(img, binName, cfg.name, cfg.genC)
	if err != nil {
		return nil, err
	}

	// Read the image back, as the loader would.
	h, err := image.Open(binName)
	if err == nil {
		err = h.Validate()
	}
	if err != nil {
		for _, o := range outputs {
			os.Remove(o.name)
		}
		return nil, wrapError(err, binName)
	}
	return &result{network: n, header: h, outputs: outputs}, nil
}
