package objfile

import "debug/elf"

// A RelType is an ARM relocation type, as stored in the low byte of the
// relocation info word.
type RelType elf.R_ARM

// Relocation types which the ARM ELF ABI names differently from debug/elf.
const (
	R_ARM_THM_CALL = RelType(elf.R_ARM_THM_PC22)
	R_ARM_GOT_BREL = RelType(elf.R_ARM_GOT32)
)

func (t RelType) String() string {
	switch t {
	case R_ARM_THM_CALL:
		return "R_ARM_THM_CALL"
	case R_ARM_GOT_BREL:
		return "R_ARM_GOT_BREL"
	}
	return elf.R_ARM(t).String()
}
