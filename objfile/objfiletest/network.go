package objfiletest

import (
	"debug/elf"
	"encoding/binary"
)

// Layout of the object returned by Network.
//
//	.flash     0x20000000  0xc0 bytes  image header, code, constants, strings
//	.relocs    0x200000c0  empty
//	.data      0x40000000  0xa0 bytes  GOT, entries, runtime context, pool descriptors
//	.bss       0x400000a0  0x60 bytes
//	.params_0  0x80000000  placeholder only
const (
	FlashAddr   = 0x20000000
	FlashSize   = 0xc0
	DataAddr    = 0x40000000
	DataSize    = 0xa0
	BSSAddr     = DataAddr + DataSize
	BSSSize     = 0x60
	Params0     = 0x80000000
	HeaderMagic = 0x4e49424e

	// size of the placeholder array the generated sources put in .params_0
	ParamsPlaceholder = 32

	EntriesAddr   = DataAddr + 0x10
	RTCtxAddr     = DataAddr + 0x20
	ParamsDesc    = DataAddr + 0x48
	DataPtrConst  = DataAddr + 0x88 // holds a pointer to const_table
	DataPtrRAM    = DataAddr + 0x8c // holds a pointer into .data
	GOTRefAddr    = FlashAddr + 0x74
	ThumbCallAddr = FlashAddr + 0x70

	// header flags: v1.2, ARM_GCC, float-abi 2, fpu, cpu 0xd22
	HeaderFlags = 1<<28 | 2<<24 | 8<<16 | 2<<13 | 1<<12 | 0xd22

	ActivationsSize = 0x1000
	WeightsSize     = 0x2000
	ExtRAMSize      = 0x300
)

func put(b []byte, off uint32, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[off+uint32(i)*4:], w)
	}
}

// Network returns a minimal, valid network object. Every call returns a new
// value which the caller may modify.
func Network() *File {
	flash := make([]byte, FlashSize)
	put(flash, 0,
		HeaderMagic,
		HeaderFlags,
		DataAddr,            // data_start
		DataAddr+DataSize,   // data_end
		FlashAddr+FlashSize, // data_data
		BSSAddr,             // bss_start
		BSSAddr+BSSSize,     // bss_end
		DataAddr,            // got_start
		DataAddr+0x10,       // got_end
		FlashAddr+FlashSize, // rel_start
		FlashAddr+FlashSize, // rel_end
		ParamsDesc,          // params_start
		0,                   // params_offset
		FlashAddr+0x61,      // ec_init
		FlashAddr+0x69,      // ec_inference
		FlashAddr+0x61,      // input_set
		FlashAddr+0x61,      // input_get
		FlashAddr+0x69,      // output_set
		FlashAddr+0x69,      // output_get
		FlashAddr+0x80,      // epochs
		DataAddr+0x90,       // output_buffers
		DataAddr+0x94,       // input_buffers
		DataAddr+0x98,       // internal_buffers
		RTCtxAddr,           // ctx
	)
	for i := 0x60; i < 0x70; i++ {
		flash[i] = byte(0x70 + i)
	}
	put(flash, 0x70, 0xf800f000, 0, 0)
	put(flash, 0x80, 0x11111111, 0x22222222)
	copy(flash[0x88:], "network\x00")
	copy(flash[0x90:], "runtime v10.1\x00")
	copy(flash[0xa0:], "pool0\x00")
	copy(flash[0xa8:], "pool1\x00")

	data := make([]byte, DataSize)
	put(data, 0x00, DataAddr+0x40, 0, 0, 0)
	put(data, 0x10, FlashAddr+0x61, FlashAddr+0x69, FlashAddr+0x61, FlashAddr+0x69)
	put(data, 0x20, 0, 0, 0, 0, 0, FlashAddr+0x88, ActivationsSize, WeightsSize, ExtRAMSize, FlashAddr+0x90)
	put(data, 0x48, FlashAddr+0xa0, 0x01010100, 0, 0, 0x100)
	put(data, 0x5c, FlashAddr+0xa8, 0x02030200, 0x100, 0x34100000, 0x40)
	put(data, 0x88, FlashAddr+0x80, DataAddr+0x10)

	return &File{
		Sections: []Section{
			{Name: ".flash", Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: FlashAddr, Align: 8, Data: flash},
			{Name: ".relocs", Flags: elf.SHF_ALLOC, Addr: FlashAddr + FlashSize, Align: 4},
			{Name: ".data", Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: DataAddr, Align: 8, Data: data},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: BSSAddr, Align: 8, Size: BSSSize},
			{Name: ".params_0", Flags: elf.SHF_ALLOC, Addr: Params0, Align: 8, Data: make([]byte, ParamsPlaceholder)},
			{Name: ".debug_info", Data: make([]byte, 16)},
		},
		Symbols: []Symbol{
			{Type: elf.STT_SECTION, Section: ".debug_info"},
			{Name: "ec_init", Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".flash", Value: FlashAddr + 0x61, Size: 8},
			{Name: "ec_inference", Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".flash", Value: FlashAddr + 0x69, Size: 8},
			{Name: "const_table", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".flash", Value: FlashAddr + 0x80, Size: 8},
			{Name: "pool_name_0", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".flash", Value: FlashAddr + 0xa0, Size: 6},
			{Name: "got_var", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data", Value: DataAddr + 0x40, Size: 4},
			{Name: "ram_var", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data", Value: DataAddr + 0x10, Size: 4},
			{Name: "_network_entries", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data", Value: EntriesAddr, Size: 16},
			{Name: "_network_rt_ctx", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data", Value: RTCtxAddr, Size: 40},
			{Name: "_params_desc", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".data", Value: ParamsDesc, Size: 60},
			{Name: "_ec_blob_3_1", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".bss", Value: BSSAddr, Size: 0x20},
			{Name: "_ec_blob_4", Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL, Section: ".flash", Value: FlashAddr + 0xb0, Size: 0x10},
		},
		Rels: []RelSection{
			{Name: ".rel.flash", Entries: []Reloc{
				{Offset: ThumbCallAddr, Type: 10, Symbol: "ec_init"},
				{Offset: GOTRefAddr, Type: 26, Symbol: "got_var"},
				{Offset: GOTRefAddr + 4, Type: 26, Symbol: "got_var"},
			}},
			{Name: ".rel.data", Entries: []Reloc{
				{Offset: EntriesAddr, Type: 2, Symbol: "ec_init"},
				{Offset: ParamsDesc, Type: 2, Symbol: "pool_name_0"},
				{Offset: DataPtrConst, Type: 2, Symbol: "const_table"},
				{Offset: DataPtrRAM, Type: 2, Symbol: "ram_var"},
			}},
			{Name: ".rel.debug_info", Entries: []Reloc{
				{Offset: 0, Type: 2, Symbol: ".debug_info"},
			}},
		},
	}
}

// Section returns the named section of f, or nil.
func (f *File) Section(name string) *Section {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i]
		}
	}
	return nil
}

// Rel returns the named relocation section of f, or nil.
func (f *File) Rel(name string) *RelSection {
	for i := range f.Rels {
		if f.Rels[i].Name == name {
			return &f.Rels[i]
		}
	}
	return nil
}
