// Package image provides an interface to relocatable NPU network images.
//
// An image starts with a fixed header of little-endian words, followed by
// the flash section, the initial contents of the data section, the
// relocation table and, optionally, the parameters. Addresses in the header
// are virtual addresses (see package vaddr); the loader uses them to place
// the image and to apply the relocation table.
package image

import (
	"encoding/binary"
	"fmt"

	"moria.us/npureloc/vaddr"
)

// Magic is the value of the first header word, "NBIN" in little-endian.
const Magic = 0x4e49424e

// Alignment of the parts of an image.
const Align = 8

// A Field is a word of the image header.
type Field int

// Header fields, in order.
const (
	FieldMagic Field = iota
	FieldFlags
	FieldDataStart
	FieldDataEnd
	FieldDataData // linked address of the initial contents of data
	FieldBSSStart
	FieldBSSEnd
	FieldGOTStart
	FieldGOTEnd
	FieldRelStart
	FieldRelEnd
	FieldParamsStart // address of the memory pool descriptor table
	FieldParamsOffset
	FieldECInit
	FieldECInference
	FieldInputSet
	FieldInputGet
	FieldOutputSet
	FieldOutputGet
	FieldEpochs
	FieldOutputBuffers
	FieldInputBuffers
	FieldInternalBuffers
	FieldCtx

	numFields
)

// HeaderSize is the size of the image header, in bytes.
const HeaderSize = int(numFields) * 4

// range of the runtime context symbol fields
const (
	firstSymField = FieldECInit
	lastSymField  = FieldCtx
)

var fieldNames = [numFields]string{
	"magic", "flags",
	"data_start", "data_end", "data_data",
	"bss_start", "bss_end",
	"got_start", "got_end",
	"rel_start", "rel_end",
	"params_start", "params_offset",
	"ec_init", "ec_inference",
	"input_set", "input_get", "output_set", "output_get",
	"epochs", "output_buffers", "input_buffers", "internal_buffers",
	"ctx",
}

func (f Field) String() string {
	if f >= 0 && f < numFields {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

func (f Field) offset() int {
	return int(f) * 4
}

// A HeaderFormatError reports a header field with an unexpected value.
type HeaderFormatError struct {
	Field    Field
	Expected uint32
	Actual   uint32
	Mask     uint32 // bits compared, if not all
}

func (e *HeaderFormatError) Error() string {
	if e.Mask != 0 {
		return fmt.Sprintf("invalid image header: %s is 0x%08x, expected 0x%08x under mask 0x%08x", e.Field, e.Actual, e.Expected, e.Mask)
	}
	return fmt.Sprintf("invalid image header: %s is 0x%08x, expected 0x%08x", e.Field, e.Actual, e.Expected)
}

// A PostProcessError reports an image which cannot be relocated by the
// runtime.
type PostProcessError struct {
	Msg    string
	Errors int // number of invalid entries, if any
}

func (e *PostProcessError) Error() string {
	if e.Errors != 0 {
		return fmt.Sprintf("%s: %d objects can not be relocated", e.Msg, e.Errors)
	}
	return e.Msg
}

// A Header is a view of an image header. It shares storage with the image
// it was created from.
type Header struct {
	data    []byte
	mutated bool
}

// NewHeader checks the header at the start of data and returns a view of
// it.
func NewHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, &PostProcessError{Msg: fmt.Sprintf("image too short: %d bytes, header is %d bytes", len(data), HeaderSize)}
	}
	h := &Header{data: data}
	if err := h.check(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) check() error {
	if v := h.Magic(); v != Magic {
		return &HeaderFormatError{Field: FieldMagic, Expected: Magic, Actual: v}
	}
	if v, want := h.DataStart(), vaddr.Base(vaddr.RAM); v != want {
		return &HeaderFormatError{Field: FieldDataStart, Expected: want, Actual: v}
	}
	if v, want := h.DataData(), vaddr.Base(vaddr.Flash); vaddr.BaseOf(v) != want {
		return &HeaderFormatError{Field: FieldDataData, Expected: want, Actual: v, Mask: ^uint32(vaddr.MaxOffset)}
	}
	return nil
}

// Revalidate repeats the checks of NewHeader on the current values. It must
// be called after the header is modified.
func (h *Header) Revalidate() error {
	if err := h.check(); err != nil {
		return err
	}
	h.mutated = false
	return nil
}

// Mutated returns true if the header was modified since it was last
// checked.
func (h *Header) Mutated() bool {
	return h.mutated
}

// Data returns the image the header is stored in.
func (h *Header) Data() []byte {
	return h.data
}

// Get returns the value of a header field.
func (h *Header) Get(f Field) uint32 {
	return binary.LittleEndian.Uint32(h.data[f.offset():])
}

// Set modifies a header field.
func (h *Header) Set(f Field, v uint32) {
	binary.LittleEndian.PutUint32(h.data[f.offset():], v)
	h.mutated = true
}

func (h *Header) Magic() uint32           { return h.Get(FieldMagic) }
func (h *Header) RawFlags() uint32        { return h.Get(FieldFlags) }
func (h *Header) DataStart() uint32       { return h.Get(FieldDataStart) }
func (h *Header) DataEnd() uint32         { return h.Get(FieldDataEnd) }
func (h *Header) DataData() uint32        { return h.Get(FieldDataData) }
func (h *Header) BSSStart() uint32        { return h.Get(FieldBSSStart) }
func (h *Header) BSSEnd() uint32          { return h.Get(FieldBSSEnd) }
func (h *Header) GOTStart() uint32        { return h.Get(FieldGOTStart) }
func (h *Header) GOTEnd() uint32          { return h.Get(FieldGOTEnd) }
func (h *Header) RelStart() uint32        { return h.Get(FieldRelStart) }
func (h *Header) RelEnd() uint32          { return h.Get(FieldRelEnd) }
func (h *Header) ParamsStart() uint32     { return h.Get(FieldParamsStart) }
func (h *Header) ParamsOffsetRaw() uint32 { return h.Get(FieldParamsOffset) }
func (h *Header) Ctx() uint32             { return h.Get(FieldCtx) }

func (h *Header) SetRelStart(v uint32)     { h.Set(FieldRelStart, v) }
func (h *Header) SetRelEnd(v uint32)       { h.Set(FieldRelEnd, v) }
func (h *Header) SetParamsOffset(v uint32) { h.Set(FieldParamsOffset, v) }

// Flags returns the decoded header flags.
func (h *Header) Flags() Flags {
	return UnpackFlags(h.RawFlags())
}

// ImageSize returns the size of the image.
func (h *Header) ImageSize() uint32 {
	return uint32(len(h.data))
}

// ROSize returns the size of the read-only part of the image, which is
// also the offset of the initial contents of the data section.
func (h *Header) ROSize() uint32 {
	return vaddr.Offset(h.DataData())
}

// RWSize returns the size of RAM used by data, GOT and bss.
func (h *Header) RWSize() uint32 {
	return vaddr.Offset(h.BSSEnd())
}

// XIPSize returns the RAM needed to execute the image in place.
func (h *Header) XIPSize() uint32 {
	return vaddr.AlignUp(h.RWSize(), Align)
}

// CopySize returns the RAM needed to execute a copy of the image.
func (h *Header) CopySize() uint32 {
	return vaddr.AlignUp(h.XIPSize()+h.ROSize(), Align)
}

// ParamsOffset returns the offset of the parameters in the image, or 0 if
// the image holds no parameters.
func (h *Header) ParamsOffset() uint32 {
	return vaddr.Offset(h.ParamsOffsetRaw())
}

// ParamsSize returns the size of the parameters stored in the image.
func (h *Header) ParamsSize() uint32 {
	off := h.ParamsOffset()
	if off == 0 || off > h.ImageSize() {
		return 0
	}
	return h.ImageSize() - off
}

// WithData returns true if the image contains the data section, as opposed
// to a header read from the flash section alone.
func (h *Header) WithData() bool {
	return len(h.data) > int(h.ROSize())
}

func (h *Header) sectionSize(start, end Field) uint32 {
	return vaddr.Offset(h.Get(end)) - vaddr.Offset(h.Get(start))
}

func (h *Header) String() string {
	f := h.Flags()
	data := "no data"
	if h.WithData() {
		data = "with data"
	}
	return fmt.Sprintf("relocatable image v%d.%d - %dB header - %d bytes (%s)", f.Major, f.Minor, HeaderSize, len(h.data), data)
}
