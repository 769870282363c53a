// Package getbytes converts the fixed-width integer and float values of the
// sample record format into []byte views without copying. The views use
// unsafe.Slice, so they share memory with the input and are valid only on
// little-endian hosts, which is what the record format requires anyway.
package getbytes

import (
	"unsafe"
)

// FromSliceInt16 converts a []int16 to []byte using unsafe
func FromSliceInt16(d []int16) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceInt64 converts a []int64 to []byte using unsafe
func FromSliceInt64(d []int64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceFloat32 converts a []float32 to []byte using unsafe
func FromSliceFloat32(d []float32) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromInt16 converts an int16 to []byte using unsafe
func FromInt16(d int16) []byte {
	return FromSliceInt16([]int16{d})
}

// FromInt64 converts an int64 to []byte using unsafe
func FromInt64(d int64) []byte {
	return FromSliceInt64([]int64{d})
}

// FromFloat32 converts a float32 to []byte using unsafe
func FromFloat32(d float32) []byte {
	return FromSliceFloat32([]float32{d})
}
