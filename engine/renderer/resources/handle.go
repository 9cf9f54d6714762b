package resources

import "fmt"

type Kind uint8

const (
	KindBuffer Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "buffer"
}

// handle addresses a registry slot. Generations start at 1, so the zero
// handle never resolves.
type handle struct {
	index      uint32
	generation uint32
}

func (h handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.generation)
}

// Resource is either a BufferHandle or an ImageHandle.
type Resource interface {
	Kind() Kind
	IsNull() bool
	slot() handle
}

// BufferHandle is a weak reference to a registry buffer. It must be
// resolved through the registry on every use; a handle whose resource was
// destroyed stops resolving instead of aliasing a newer resource.
type BufferHandle struct {
	h handle
}

func (b BufferHandle) Kind() Kind     { return KindBuffer }
func (b BufferHandle) IsNull() bool   { return b.h.generation == 0 }
func (b BufferHandle) String() string { return "buffer " + b.h.String() }
func (b BufferHandle) slot() handle   { return b.h }

// ImageHandle is the image counterpart of BufferHandle.
type ImageHandle struct {
	h handle
}

func (i ImageHandle) Kind() Kind     { return KindImage }
func (i ImageHandle) IsNull() bool   { return i.h.generation == 0 }
func (i ImageHandle) String() string { return "image " + i.h.String() }
func (i ImageHandle) slot() handle   { return i.h }
