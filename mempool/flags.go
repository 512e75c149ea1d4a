package mempool

import (
	"fmt"
	"strconv"
)

// A Type is the way the runtime handles a memory pool.
type Type uint8

const (
	Unused      Type = 0
	Reloc       Type = 1    // placed by the application, code is patched at runtime
	Copy        Type = 2    // copied from the image to a fixed address
	Reset       Type = 3    // fixed address, optionally cleared
	Unsupported Type = 0xff // configuration the runtime cannot handle
)

func (t Type) String() string {
	switch t {
	case Unused:
		return "UNUSED"
	case Reloc:
		return "RELOC"
	case Copy:
		return "COPY"
	case Reset:
		return "RESET"
	case Unsupported:
		return "UNSUPPORTED"
	}
	return "TYPE_" + strconv.Itoa(int(t))
}

// A DataKind is the kind of data held by a memory pool.
type DataKind uint8

const (
	Undef DataKind = 0
	Param DataKind = 1 // parameters only
	Activ DataKind = 2 // activations only
	Mixed DataKind = 3 // parameters and activations
)

func (d DataKind) String() string {
	switch d {
	case Undef:
		return "UNDEF"
	case Param:
		return "PARAM"
	case Activ:
		return "ACTIV"
	case Mixed:
		return "MIXED"
	}
	return "DATA_" + strconv.Itoa(int(d))
}

// HasParams returns true if pools of this kind carry a parameter payload.
func (d DataKind) HasParams() bool {
	return d == Param || d == Mixed
}

// An Attr is a set of memory pool access attributes.
type Attr uint8

const (
	AttrUndef Attr = 0
	Read      Attr = 1
	Write     Attr = 2
	Cached    Attr = 4
	RCached        = Cached | Read
	WCached        = Cached | Write
)

func (a Attr) String() string {
	switch a {
	case AttrUndef:
		return "UNDEF"
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Cached:
		return "CACHED"
	case RCached:
		return "RCACHED"
	case WCached:
		return "WCACHED"
	}
	return "ATTR_" + strconv.Itoa(int(a))
}

// Bit positions of the fields in a packed descriptor flags word.
const (
	typeShift = 24
	dataShift = 16
	attrShift = 8
	idShift   = 0
	fieldMask = 0xff
)

// Flags are the fields of a descriptor flags word.
type Flags struct {
	Type Type
	Data DataKind
	Attr Attr
	ID   uint8 // runtime relocation id, RELOC pools only
}

// Pack returns the flags word.
func (f Flags) Pack() uint32 {
	return uint32(f.Type)<<typeShift |
		uint32(f.Data)<<dataShift |
		uint32(f.Attr)<<attrShift |
		uint32(f.ID)<<idShift
}

// Unpack returns the fields of a flags word.
func Unpack(v uint32) Flags {
	return Flags{
		Type: Type(v >> typeShift & fieldMask),
		Data: DataKind(v >> dataShift & fieldMask),
		Attr: Attr(v >> attrShift & fieldMask),
		ID:   uint8(v >> idShift & fieldMask),
	}
}

// Used returns true for pools the runtime has to set up.
func (f Flags) Used() bool {
	return f.Type != Unused && f.Type != Unsupported
}

// String returns a description of the flags, for example
// "RELOC.PARAM.0.READ" or "COPY.MIXED.WCACHED".
func (f Flags) String() string {
	switch f.Type {
	case Unsupported:
		return f.Type.String()
	case Unused:
		return f.Type.String()
	}
	s := f.Type.String() + "." + f.Data.String()
	if f.Type == Reloc {
		s += "." + strconv.Itoa(int(f.ID))
	}
	return s + "." + f.Attr.String()
}

// Format formats the packed flags word with its description.
func (f Flags) Format() string {
	return fmt.Sprintf("0x%X /* %s */", f.Pack(), f)
}
