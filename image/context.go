package image

import (
	"encoding/binary"
	"fmt"

	"moria.us/npureloc/mempool"
	"moria.us/npureloc/vaddr"
)

// longest string read from the image
const maxString = 60

// most descriptors read from the descriptor table
const maxDescriptors = 10

// size of a descriptor in the descriptor table
const descriptorSize = 5 * 4

// A RuntimeContext describes the network, as compiled into the image.
type RuntimeContext struct {
	CName           string
	ActivationsSize uint32
	WeightsSize     uint32
	ExtRAMSize      uint32
	RTVersion       string
}

// A MemPoolDescriptor is an entry of the memory pool descriptor table
// stored in the image.
type MemPoolDescriptor struct {
	Name     string
	NameAddr uint32
	Flags    mempool.Flags
	FOff     uint32
	Dst      uint32
	Size     uint32
}

// cString returns the NUL-terminated string at an offset in the image.
func (h *Header) cString(off uint32) string {
	if off == 0 {
		return "<undefined>"
	}
	if off >= uint32(len(h.data)) {
		return "<invalid>"
	}
	b := h.data[off:]
	n := 0
	for n < len(b) && n < maxString && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// dataSection returns the initial contents of the data section. If data is
// nil, the contents stored in the image are used.
func (h *Header) dataSection(data []byte) ([]byte, error) {
	if data != nil {
		return data, nil
	}
	if !h.WithData() {
		return nil, &PostProcessError{Msg: "image has no data section"}
	}
	return h.data[h.ROSize():], nil
}

func getWord(data []byte, off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(data)) {
		return 0, fmt.Errorf("offset 0x%x is outside of the data section", off)
	}
	return binary.LittleEndian.Uint32(data[off:]), nil
}

// RuntimeContext decodes the runtime context of the network. The data
// section is taken from data, or from the image if data is nil.
func (h *Header) RuntimeContext(data []byte) (*RuntimeContext, error) {
	data, err := h.dataSection(data)
	if err != nil {
		return nil, err
	}
	base := vaddr.Offset(h.Ctx())
	var w [10]uint32
	for i := 5; i < len(w); i++ {
		if w[i], err = getWord(data, base+uint32(i)*4); err != nil {
			return nil, &PostProcessError{Msg: "invalid runtime context: " + err.Error()}
		}
	}
	return &RuntimeContext{
		CName:           h.cString(vaddr.Offset(w[5])),
		ActivationsSize: w[6],
		WeightsSize:     w[7],
		ExtRAMSize:      w[8],
		RTVersion:       h.cString(vaddr.Offset(w[9])),
	}, nil
}

// MemPoolDescriptors decodes the memory pool descriptor table. The table
// ends with an entry whose name is NULL, which is included. The data
// section is taken from data, or from the image if data is nil.
func (h *Header) MemPoolDescriptors(data []byte) ([]MemPoolDescriptor, error) {
	data, err := h.dataSection(data)
	if err != nil {
		return nil, err
	}
	if vaddr.SegmentOf(h.ParamsStart()) != vaddr.RAM {
		return nil, nil
	}
	off := vaddr.Offset(h.ParamsStart())
	var descs []MemPoolDescriptor
	for {
		var w [5]uint32
		for i := range w {
			if w[i], err = getWord(data, off+uint32(i)*4); err != nil {
				return nil, &PostProcessError{Msg: "invalid memory pool descriptor table: " + err.Error()}
			}
		}
		descs = append(descs, MemPoolDescriptor{
			Name:     h.cString(vaddr.Offset(w[0])),
			NameAddr: w[0],
			Flags:    mempool.Unpack(w[1]),
			FOff:     w[2],
			Dst:      w[3],
			Size:     w[4],
		})
		off += descriptorSize
		if w[0] == 0 || len(descs) > maxDescriptors {
			break
		}
	}
	return descs, nil
}

// ShiftCopyOffsets adds delta to the file offset of every COPY descriptor in
// the descriptor table of data, which is modified in place. Payloads stored
// in the first parameter section come before the pool payloads, so the
// offsets computed by the compiler must be moved past them.
func ShiftCopyOffsets(data []byte, table uint32, delta uint32) error {
	off := vaddr.Offset(table)
	for {
		name, err := getWord(data, off)
		if err != nil {
			return &PostProcessError{Msg: "invalid memory pool descriptor table: " + err.Error()}
		}
		if name == 0 {
			return nil
		}
		flags, err := getWord(data, off+4)
		if err != nil {
			return &PostProcessError{Msg: "invalid memory pool descriptor table: " + err.Error()}
		}
		if mempool.Unpack(flags).Type == mempool.Copy {
			foff, err := getWord(data, off+8)
			if err != nil {
				return &PostProcessError{Msg: "invalid memory pool descriptor table: " + err.Error()}
			}
			binary.LittleEndian.PutUint32(data[off+8:], foff+delta)
		}
		off += descriptorSize
	}
}
