package getbytes

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Compare the unsafe views against encoding/binary little-endian output.

func TestFromSliceInt16(t *testing.T) {
	d := []int16{0, 1, -1, 32767, -32768}
	var expect bytes.Buffer
	binary.Write(&expect, binary.LittleEndian, d)
	if got := FromSliceInt16(d); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromSliceInt16(%v) = % x, want % x", d, got, expect.Bytes())
	}
	if got := FromSliceInt16(nil); len(got) != 0 {
		t.Errorf("FromSliceInt16(nil) should be empty, got % x", got)
	}
}

func TestFromSliceInt64(t *testing.T) {
	d := []int64{0, 1, -1, 1<<62 + 12345}
	var expect bytes.Buffer
	binary.Write(&expect, binary.LittleEndian, d)
	if got := FromSliceInt64(d); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromSliceInt64(%v) = % x, want % x", d, got, expect.Bytes())
	}
}

func TestFromSliceFloat32(t *testing.T) {
	d := []float32{0, 0.125, -2.5, 4.096}
	var expect bytes.Buffer
	binary.Write(&expect, binary.LittleEndian, d)
	if got := FromSliceFloat32(d); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromSliceFloat32(%v) = % x, want % x", d, got, expect.Bytes())
	}
}

func TestScalars(t *testing.T) {
	var expect bytes.Buffer
	binary.Write(&expect, binary.LittleEndian, int16(-1234))
	if got := FromInt16(-1234); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromInt16(-1234) = % x, want % x", got, expect.Bytes())
	}
	expect.Reset()
	binary.Write(&expect, binary.LittleEndian, int64(987654321))
	if got := FromInt64(987654321); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromInt64(987654321) = % x, want % x", got, expect.Bytes())
	}
	expect.Reset()
	binary.Write(&expect, binary.LittleEndian, float32(1.5))
	if got := FromFloat32(1.5); !bytes.Equal(got, expect.Bytes()) {
		t.Errorf("FromFloat32(1.5) = % x, want % x", got, expect.Bytes())
	}
}
