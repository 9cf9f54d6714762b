package resources

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// ElementType is the interpretation of the bytes held by HostData.
type ElementType uint8

const (
	ElementNone ElementType = iota
	ElementU16
	ElementU32
	ElementF32
	// ElementBytes is opaque data such as packed vertices or pixels.
	ElementBytes
)

func (t ElementType) Size() int {
	switch t {
	case ElementU16:
		return 2
	case ElementU32, ElementF32:
		return 4
	case ElementBytes:
		return 1
	}
	return 0
}

func (t ElementType) String() string {
	switch t {
	case ElementU16:
		return "u16"
	case ElementU32:
		return "u32"
	case ElementF32:
		return "f32"
	case ElementBytes:
		return "bytes"
	}
	return "none"
}

// HostData is CPU side buffer content tagged with its element type. Bytes
// are little endian, the layout the device reads.
type HostData struct {
	elem  ElementType
	bytes []byte
}

func U16Data(values []uint16) HostData {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return HostData{elem: ElementU16, bytes: b}
}

func U32Data(values []uint32) HostData {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return HostData{elem: ElementU32, bytes: b}
}

func F32Data(values []float32) HostData {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return HostData{elem: ElementF32, bytes: b}
}

// RawData wraps bytes without copying them.
func RawData(b []byte) HostData {
	return HostData{elem: ElementBytes, bytes: b}
}

func (h HostData) Type() ElementType { return h.elem }

func (h HostData) Bytes() []byte { return h.bytes }

func (h HostData) Size() uint64 { return uint64(len(h.bytes)) }

// Len is the number of elements.
func (h HostData) Len() int {
	if s := h.elem.Size(); s > 0 {
		return len(h.bytes) / s
	}
	return 0
}

func (h HostData) IsEmpty() bool { return len(h.bytes) == 0 }

// IndexType reports the index format matching the element type. Only u16
// and u32 data can feed an index buffer.
func (h HostData) IndexType() (gpu.IndexType, bool) {
	switch h.elem {
	case ElementU16:
		return gpu.IndexUint16, true
	case ElementU32:
		return gpu.IndexUint32, true
	}
	return 0, false
}

func (h HostData) U16() ([]uint16, bool) {
	if h.elem != ElementU16 {
		return nil, false
	}
	out := make([]uint16, h.Len())
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(h.bytes[2*i:])
	}
	return out, true
}

func (h HostData) U32() ([]uint32, bool) {
	if h.elem != ElementU32 {
		return nil, false
	}
	out := make([]uint32, h.Len())
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(h.bytes[4*i:])
	}
	return out, true
}

func (h HostData) F32() ([]float32, bool) {
	if h.elem != ElementF32 {
		return nil, false
	}
	out := make([]float32, h.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(h.bytes[4*i:]))
	}
	return out, true
}
