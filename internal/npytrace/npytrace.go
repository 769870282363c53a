// Package npytrace writes a 1-D float32 numpy array (*.npy, format version
// 1.0) incrementally. The shape field in the header is left-padded wide
// enough to be rewritten in place, so samples can be appended as they arrive
// and the file is a valid npy array after every Append.
package npytrace

import (
	"fmt"
	"io"

	"github.com/openecg/cardiod/internal/getbytes"
)

// npy headers are padded so the data section starts on a 64-byte boundary.
const headerUnits = 64

const preheaderSize = 10 // magic + version + 2-byte header length

// Writer appends float32 samples to a growable npy file.
type Writer struct {
	w        io.WriteSeeker
	shapePtr int64 // file offset of the shape count digits
	count    int64 // samples written so far
}

// NewWriter writes the npy header for an empty '<f4' array and returns a
// Writer positioned to append data.
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	header := []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 0x01, 0x00, 0, 0}
	header = append(header, []byte("{'descr': '<f4', 'fortran_order': False, 'shape': (")...)
	shapePtr := int64(len(header))
	header = append(header, []byte("0         ,), }")...)

	// Bytes 8-9 hold the header length (excluding the preheader),
	// little-endian, chosen so the total is a multiple of 64.
	nunits := (len(header) + headerUnits) / headerUnits
	headerSize := nunits*headerUnits - preheaderSize
	header[8] = byte(headerSize % 256)
	header[9] = byte(headerSize / 256)

	npad := headerSize + preheaderSize - (1 + len(header))
	for i := 0; i < npad; i++ {
		header = append(header, ' ')
	}
	header = append(header, '\n')

	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &Writer{w: w, shapePtr: shapePtr}, nil
}

// Append writes the samples and patches the header's shape count so the file
// remains a well-formed npy array.
func (t *Writer) Append(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	if _, err := t.w.Write(getbytes.FromSliceFloat32(samples)); err != nil {
		return err
	}
	t.count += int64(len(samples))

	if _, err := t.w.Seek(t.shapePtr, io.SeekStart); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "%-10d", t.count); err != nil {
		return err
	}
	_, err := t.w.Seek(0, io.SeekEnd)
	return err
}

// Count returns the number of samples written so far.
func (t *Writer) Count() int64 { return t.count }
