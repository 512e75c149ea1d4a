// Package mempool encodes the memory pool descriptors of a relocatable
// network and lays out their parameter payloads.
//
// Each pool declared by the network compiler is classified into one of the
// layouts the runtime supports. Pools with parameters contribute their payload
// to a single blob which is stored in the image after the relocation table;
// the descriptor records where in the blob the payload starts.
package mempool

import (
	"fmt"

	"moria.us/npureloc/logger"
	"moria.us/npureloc/vaddr"
)

const logTag = "MPOOL"

const payloadAlign = 8

// A Pool is a memory pool as reported by the network compiler.
type Pool struct {
	Name       string `json:"name"`
	Addr       uint32 `json:"addr"`        // fixed address, for absolute pools
	Size       uint32 `json:"size"`        // bytes used, 0 if the pool is not used
	Relative   bool   `json:"relative"`    // placed by the application at runtime
	ReadWrite  bool   `json:"rw"`          // otherwise read-only
	WithParams bool   `json:"with_params"` // holds parameters
	ParamsOnly bool   `json:"params_only"` // holds nothing but parameters
	Cacheable  bool   `json:"cacheable"`
	Payload    []byte `json:"-"` // initial contents
}

func (p *Pool) attrs() string {
	s := "abs"
	if p.Relative {
		s = "rel"
	}
	if p.ReadWrite {
		s += "/rw"
	} else {
		s += "/ro"
	}
	if p.Cacheable {
		s += "/c"
	} else {
		s += "/-"
	}
	if p.WithParams {
		s += "/param"
	} else {
		s += "/activ"
	}
	return s
}

// A ClassificationError reports a pool whose attributes match no supported
// layout.
type ClassificationError struct {
	Pool  string
	Attrs string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("the mempool '%s' is not supported, attrs=%s", e.Pool, e.Attrs)
}

// Classify returns the descriptor flags for a pool. The reloc id is left at
// zero. Unsupported pools return flags of type Unsupported and a
// *ClassificationError.
func Classify(p *Pool) (Flags, error) {
	var f Flags
	switch {
	case p.Size == 0:
		return Flags{Type: Unused}, nil
	case p.Relative && p.ParamsOnly && !p.ReadWrite:
		f = Flags{Type: Reloc, Data: Param}
	case p.Relative && !p.WithParams && p.ReadWrite:
		f = Flags{Type: Reloc, Data: Activ}
	case p.Relative && p.WithParams && p.ReadWrite:
		f = Flags{Type: Reloc, Data: Mixed}
	case !p.Relative && p.WithParams && p.ReadWrite:
		f = Flags{Type: Copy, Data: Mixed}
	case !p.Relative && p.ParamsOnly && !p.ReadWrite:
		f = Flags{Type: Copy, Data: Param}
	case !p.Relative && !p.WithParams && p.ReadWrite:
		f = Flags{Type: Reset, Data: Activ}
	default:
		return Flags{Type: Unsupported}, &ClassificationError{Pool: p.Name, Attrs: p.attrs()}
	}
	if p.Cacheable {
		f.Attr |= Cached
	}
	if p.ReadWrite {
		f.Attr |= Write
	} else {
		f.Attr |= Read
	}
	return f, nil
}

// A Descriptor is the runtime description of a memory pool.
type Descriptor struct {
	Name    string
	Flags   Flags
	FOff    uint32 // offset of the payload in the parameter blob
	Dst     uint32 // destination address, COPY and RESET only
	Size    uint32
	Payload []byte // padded payload, empty unless the pool holds parameters
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%-16s : %-22s foff=%08x dst=%08x size=%d raw_data=%d",
		d.Name, d.Flags, d.FOff, d.Dst, d.Size, len(d.Payload))
}

// An Encoder builds descriptors and the parameter blob for a sequence of
// pools. The zero value is ready to use.
type Encoder struct {
	// ContinueOnError records unsupported pools instead of failing.
	ContinueOnError bool

	descs  []*Descriptor
	blob   []byte
	nextID uint8
	errs   []error
}

// Add classifies a pool and appends its descriptor. If the pool is not
// supported and ContinueOnError is not set, Add returns the classification
// error and the encoder is unchanged.
func (e *Encoder) Add(p *Pool) (*Descriptor, error) {
	f, err := Classify(p)
	if err != nil {
		logger.Logf(logger.Error, logTag, "%v", err)
		if !e.ContinueOnError {
			return nil, err
		}
		e.errs = append(e.errs, err)
	}
	d := &Descriptor{Name: p.Name, Flags: f, Size: p.Size}
	if f.Type == Reloc {
		f.ID = e.nextID
		d.Flags = f
		e.nextID++
	}
	if f.Type == Copy || f.Type == Reset {
		d.Dst = p.Addr
	}
	if f.Data.HasParams() {
		n := uint32(len(p.Payload))
		if n < p.Size {
			n = p.Size
		}
		d.Payload = make([]byte, vaddr.AlignUp(n, payloadAlign))
		copy(d.Payload, p.Payload)
		d.FOff = uint32(len(e.blob))
		e.blob = append(e.blob, d.Payload...)
	}
	e.descs = append(e.descs, d)
	logger.Logf(logger.Debug, logTag, "%s", d)
	return d, nil
}

// Descriptors returns the descriptors added so far, in order.
func (e *Encoder) Descriptors() []*Descriptor {
	return e.descs
}

// Blob returns the parameter blob.
func (e *Encoder) Blob() []byte {
	return e.blob
}

// Errors returns the classification errors recorded with ContinueOnError.
func (e *Encoder) Errors() []error {
	return e.errs
}
