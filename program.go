package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"moria.us/npureloc/image"
	"moria.us/npureloc/logger"
)

// An output is a file written by the build command.
type output struct {
	name string
	size int
}

// createFile writes a file through a temporary file in the same directory,
// which replaces the named file once complete.
func createFile(name string, write func(w io.Writer) error) (err error) {
	fp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			fp.Close() // Double-close is OK
			os.Remove(fp.Name())
		}
	}()
	w := bufio.NewWriter(fp)
	if err = write(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = fp.Close(); err != nil {
		return err
	}
	return os.Rename(fp.Name(), name)
}

// writeFile writes data to the named file, as createFile does.
func writeFile(name string, data []byte) error {
	return createFile(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// paramsPath returns the name of the parameter file of a split image.
func paramsPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_params" + ext
}

// cPaths returns the names of the C source and header files for an image.
func cPaths(name string) (src, hdr string) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return stem + ".c", stem + ".h"
}

// writeImage writes the image to the named file, its parameters to a
// separate file if it was split, and the C files if genC is set. Every file
// is rendered before the first one is created, and the files already written
// are removed if a later one fails.
func writeImage(img *image.Image, name, cname string, genC bool) (outputs []output, err error) {
	type file struct {
		name string
		data []byte
	}
	files := []file{{name, img.Bytes()}}
	if params := img.Params(); len(params) != 0 {
		files = append(files, file{paramsPath(name), params})
	}
	if genC {
		src, hdr := cPaths(name)
		var sbuf, hbuf bytes.Buffer
		if err := image.WriteC(&sbuf, &hbuf, cname, img.Header); err != nil {
			return nil, err
		}
		files = append(files, file{hdr, hbuf.Bytes()}, file{src, sbuf.Bytes()})
	}

	defer func() {
		if err != nil {
			for _, o := range outputs {
				os.Remove(o.name)
			}
			outputs = nil
		}
	}()
	for _, f := range files {
		if err := writeFile(f.name, f.data); err != nil {
			return outputs, err
		}
		logger.Logf(logger.Debug, logTag, "creating %q (size=%d)", f.name, len(f.data))
		outputs = append(outputs, output{f.name, len(f.data)})
	}
	return outputs, nil
}
