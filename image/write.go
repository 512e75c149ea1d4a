package image

import (
	"fmt"

	"moria.us/npureloc/logger"
	"moria.us/npureloc/vaddr"
)

const assembleTag = "IMAGE"

var zeroPad [Align]byte

func padding(size uint32) []byte {
	return zeroPad[:vaddr.AlignUp(size, Align)-size]
}

// =================================================================================================

type datawriter struct {
	pos  uint32
	data [][]byte
}

func (w *datawriter) write(d []byte) {
	w.pos += uint32(len(d))
	w.data = append(w.data, d)
}

func (w *datawriter) align() {
	w.write(padding(w.pos))
}

func (w *datawriter) bytes() []byte {
	b := make([]byte, 0, w.pos)
	for _, d := range w.data {
		b = append(b, d...)
	}
	return b
}

// =================================================================================================

// Input holds the parts of an image.
type Input struct {
	Flash    []byte // flash section, starting with the image header
	Data     []byte // initial contents of the data section
	RelTable []byte // relocation table
	Pools    []byte // memory pool payloads, may be empty
	Weights  []byte // raw parameters, may be empty
	Split    bool   // store Pools and Weights in a separate file
}

// An Image is an assembled image.
type Image struct {
	Header *Header
	params []byte
}

// Assemble assembles and validates an image. The header of the image is
// updated with the position of the relocation table and the parameters;
// the input is not modified.
func Assemble(in Input) (*Image, error) {
	h, err := NewHeader(in.Flash)
	if err != nil {
		return nil, err
	}
	flashLen := uint32(len(in.Flash))
	diff := int64(h.ROSize()) - int64(flashLen)
	if diff < 0 {
		return nil, &PostProcessError{Msg: fmt.Sprintf("alignment issue - data_data offset %d is before the end of the flash section %d", h.ROSize(), flashLen)}
	}
	if diff != 0 {
		logger.Logf(logger.Warn, assembleTag, "data_data = %d, flash section is %d bytes, padding %d", h.ROSize(), flashLen, diff)
	}

	var d datawriter
	d.write(in.Flash)
	d.write(make([]byte, diff))
	d.write(in.Data)
	d.align()
	relStart := d.pos
	d.write(in.RelTable)
	d.align()
	logger.Logf(logger.Debug, assembleTag, "flash %d, data %d, rel %d at 0x%x", flashLen, len(in.Data), len(in.RelTable), relStart)

	params := make([]byte, 0, len(in.Pools)+len(in.Weights))
	params = append(params, in.Pools...)
	params = append(params, in.Weights...)
	var paramsOffset uint32
	if !in.Split && len(params) != 0 {
		paramsOffset = d.pos
		d.write(params)
	}

	img := &Image{params: params}
	if img.Header, err = NewHeader(d.bytes()); err != nil {
		return nil, err
	}
	h = img.Header
	shift := relStart - vaddr.Offset(h.RelStart())
	h.SetRelStart(h.RelStart() + shift)
	h.SetRelEnd(h.RelStart() + uint32(len(in.RelTable)))
	h.SetParamsOffset(paramsOffset)
	logger.Logf(logger.Debug, assembleTag, "rel_start +%d, params_offset 0x%08x, image %d bytes", shift, paramsOffset, d.pos)
	if err := h.Revalidate(); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Bytes returns the image.
func (img *Image) Bytes() []byte {
	return img.Header.Data()
}

// Params returns the parameters which are not stored in the image: all of
// them for a split image, none otherwise.
func (img *Image) Params() []byte {
	if img.Header.ParamsOffset() != 0 {
		return nil
	}
	return img.params
}
