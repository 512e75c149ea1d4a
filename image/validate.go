package image

import (
	"encoding/binary"
	"fmt"

	"moria.us/npureloc/logger"
	"moria.us/npureloc/vaddr"
)

const logTag = "HEADER"

// number of words at the end of the GOT which are reserved for the runtime
// and not checked
const gotReserved = 3

func (h *Header) word(off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(h.data)) {
		return 0, fmt.Errorf("offset 0x%x is outside of the image", off)
	}
	return binary.LittleEndian.Uint32(h.data[off:]), nil
}

// checkTarget returns an error if the runtime could not relocate a pointer
// with the value v.
func (h *Header) checkTarget(v uint32) error {
	seg, off := vaddr.Decode(v)
	switch {
	case seg == vaddr.RAM:
		dataEnd := vaddr.Offset(h.DataEnd())
		bssStart := vaddr.Offset(h.BSSStart())
		if dataEnd < off && off < bssStart || off > vaddr.Offset(h.BSSEnd()) {
			return fmt.Errorf("invalid offset, not in RAM segment - %s", vaddr.Format(v))
		}
	case seg == vaddr.Flash:
		if off > h.ROSize() {
			return fmt.Errorf("invalid offset, not in FLASH segment - %s", vaddr.Format(v))
		}
	case seg.IsParam():
	default:
		return fmt.Errorf("invalid segment - %s", vaddr.Format(v))
	}
	return nil
}

// Validate checks that every relocation table entry and every GOT entry
// points into a region the runtime can relocate. Each invalid entry is
// logged. The last words of the GOT are reserved and not checked.
func (h *Header) Validate() error {
	if !h.WithData() {
		return &PostProcessError{Msg: "image has no data section"}
	}
	for _, b := range [][2]Field{{FieldRelStart, FieldRelEnd}, {FieldGOTStart, FieldGOTEnd}} {
		if start, end := h.Get(b[0]), h.Get(b[1]); end < start {
			return &PostProcessError{Msg: fmt.Sprintf("invalid header: %s 0x%08x is before %s 0x%08x", b[1], end, b[0], start)}
		}
	}
	dataBase := h.ROSize()
	var nerr int

	relStart := vaddr.Offset(h.RelStart())
	nrel := int(h.sectionSize(FieldRelStart, FieldRelEnd) / 4)
	for i := 0; i < nrel; i++ {
		v, err := h.word(relStart + uint32(i)*4)
		if err != nil {
			return &PostProcessError{Msg: fmt.Sprintf("REL/%d: %v", i, err)}
		}
		voff := vaddr.Offset(v)
		if v >= vaddr.Base(vaddr.RAM) {
			voff += dataBase
		}
		target, err := h.word(voff)
		if err == nil {
			err = h.checkTarget(target)
		}
		if err != nil {
			nerr++
			logger.Logf(logger.Error, logTag, "REL/%-3d - %08x -> %08x: %v", i, v, target, err)
			continue
		}
		logger.Logf(logger.Debug, logTag, "REL/%-3d - %08x -> %08x -> %s", i, v, target, vaddr.Format(target))
	}

	gotStart := vaddr.Offset(h.GOTStart())
	ngot := int(h.sectionSize(FieldGOTStart, FieldGOTEnd)/4) - gotReserved
	for i := 0; i < ngot; i++ {
		off := dataBase + gotStart + uint32(i)*4
		v, err := h.word(off)
		if err != nil {
			return &PostProcessError{Msg: fmt.Sprintf("GOT/%d: %v", i, err)}
		}
		if err := h.checkTarget(v); err != nil {
			nerr++
			logger.Logf(logger.Error, logTag, "GOT/%-3d - %08x %08x: %v", i, off-dataBase, v, err)
			continue
		}
		logger.Logf(logger.Debug, logTag, "GOT/%-3d - %08x %08x -> %s", i, off-dataBase, v, vaddr.Format(v))
	}

	if nerr != 0 {
		return &PostProcessError{Msg: "invalid relocation or GOT entries", Errors: nerr}
	}
	return nil
}
