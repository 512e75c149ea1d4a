package image

import (
	"fmt"
	"io"
	"os"
)

// maximum size of an image file
const maxImageSize = 1 << 28

// Open opens the named file with os.Open and reads the image.
func Open(name string) (*Header, error) {
	fp, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	st, err := fp.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < int64(HeaderSize) {
		return nil, fmt.Errorf("image is too short: %d bytes", size)
	}
	if size > maxImageSize {
		return nil, fmt.Errorf("image is too large: %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(fp, data); err != nil {
		return nil, err
	}
	return NewHeader(data)
}
