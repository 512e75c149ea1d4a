package image

import "fmt"

// A Toolchain identifies the compiler which built the image.
type Toolchain uint8

const (
	ToolchainNone       Toolchain = 0
	ToolchainARMGCC     Toolchain = 8
	ToolchainARMClang   Toolchain = 9
	ToolchainSTARMClang Toolchain = 10
)

func (t Toolchain) String() string {
	switch t {
	case ToolchainARMGCC:
		return "ARM_GCC"
	case ToolchainARMClang:
		return "ARM_CLANG"
	case ToolchainSTARMClang:
		return "ST_ARM_CLANG"
	}
	return "NONE"
}

// Bit fields of the header flags word.
const (
	majorShift     = 28
	majorMask      = 0xf
	minorShift     = 24
	minorMask      = 0xf
	asyncBit       = 22
	dbgBit         = 21
	secureBit      = 20
	toolchainShift = 16
	toolchainMask  = 0xf
	floatABIShift  = 13
	floatABIMask   = 0x3
	fpuBit         = 12
	cpuIDMask      = 0xfff
)

// Flags are the fields of the header flags word.
type Flags struct {
	Major     uint8
	Minor     uint8
	Async     bool // runtime runs in asynchronous mode
	DebugInfo bool
	Secure    bool
	Toolchain Toolchain
	FloatABI  uint8
	FPU       bool
	CPUID     uint16
}

func bit(b bool, pos uint) uint32 {
	if b {
		return 1 << pos
	}
	return 0
}

// Pack returns the flags word. Fields are truncated to their width.
func (f Flags) Pack() uint32 {
	return uint32(f.Major&majorMask)<<majorShift |
		uint32(f.Minor&minorMask)<<minorShift |
		bit(f.Async, asyncBit) |
		bit(f.DebugInfo, dbgBit) |
		bit(f.Secure, secureBit) |
		uint32(f.Toolchain&toolchainMask)<<toolchainShift |
		uint32(f.FloatABI&floatABIMask)<<floatABIShift |
		bit(f.FPU, fpuBit) |
		uint32(f.CPUID&cpuIDMask)
}

// UnpackFlags returns the fields of a flags word. An unknown toolchain
// decodes as ToolchainNone.
func UnpackFlags(v uint32) Flags {
	t := Toolchain(v >> toolchainShift & toolchainMask)
	switch t {
	case ToolchainARMGCC, ToolchainARMClang, ToolchainSTARMClang:
	default:
		t = ToolchainNone
	}
	return Flags{
		Major:     uint8(v >> majorShift & majorMask),
		Minor:     uint8(v >> minorShift & minorMask),
		Async:     v&(1<<asyncBit) != 0,
		DebugInfo: v&(1<<dbgBit) != 0,
		Secure:    v&(1<<secureBit) != 0,
		Toolchain: t,
		FloatABI:  uint8(v >> floatABIShift & floatABIMask),
		FPU:       v&(1<<fpuBit) != 0,
		CPUID:     uint16(v & cpuIDMask),
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (f Flags) String() string {
	return fmt.Sprintf("v%d.%d, F.dbg=%d, F.async=%d, F.sec=%d, %s, cpuid=0x%x, fpu=%d, float-abi=%d",
		f.Major, f.Minor, b2i(f.DebugInfo), b2i(f.Async), b2i(f.Secure), f.Toolchain, f.CPUID, b2i(f.FPU), f.FloatABI)
}
