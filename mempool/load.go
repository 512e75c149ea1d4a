package mempool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type poolFile struct {
	Pools []struct {
		Pool
		File string `json:"file"` // payload, relative to the pool list
	} `json:"pools"`
}

// Load reads a JSON pool list. Payload files are read relative to dir.
//
//	{"pools": [{"name": "weights", "size": 4096, "relative": true,
//	            "with_params": true, "params_only": true, "file": "weights.raw"}]}
func Load(r io.Reader, dir string) ([]*Pool, error) {
	var pf poolFile
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&pf); err != nil {
		return nil, fmt.Errorf("invalid pool list: %w", err)
	}
	pools := make([]*Pool, 0, len(pf.Pools))
	for i, e := range pf.Pools {
		p := e.Pool
		if p.Name == "" {
			return nil, fmt.Errorf("pool %d: no name", i)
		}
		if e.File != "" {
			name := e.File
			if !filepath.IsAbs(name) {
				name = filepath.Join(dir, name)
			}
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("pool %q: %w", p.Name, err)
			}
			p.Payload = data
		}
		pools = append(pools, &p)
	}
	return pools, nil
}

// LoadFile reads a JSON pool list from a file.
func LoadFile(name string) ([]*Pool, error) {
	fp, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return Load(bufio.NewReader(fp), filepath.Dir(name))
}

// DumpText writes the descriptors, in text format, to the writer.
func (e *Encoder) DumpText(w *bufio.Writer, prefix string) {
	for i, d := range e.descs {
		fmt.Fprintf(w, "%s%d: %s\n", prefix, i, d)
	}
	fmt.Fprintf(w, "%sparameter blob: %d bytes\n", prefix, len(e.blob))
	for _, err := range e.errs {
		fmt.Fprintf(w, "%serror: %v\n", prefix, err)
	}
}
