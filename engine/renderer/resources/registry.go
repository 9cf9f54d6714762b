package resources

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type DescriptorKind uint8

const (
	DescriptorNone DescriptorKind = iota
	DescriptorUniform
	DescriptorStorage
)

type GpuBuffer struct {
	Buffer     gpu.Buffer
	Size       uint64
	Usage      gpu.BufferUsage
	Memory     gpu.MemoryFlags
	Descriptor DescriptorKind
	// Data is the host copy the buffer was created from, if any.
	Data HostData
}

// DescriptorType is how shaders bind the buffer, false when they cannot.
func (b *GpuBuffer) DescriptorType() (gpu.DescriptorType, bool) {
	switch b.Descriptor {
	case DescriptorUniform:
		return gpu.DescriptorUniformBuffer, true
	case DescriptorStorage:
		return gpu.DescriptorStorageBuffer, true
	}
	return 0, false
}

type GpuImage struct {
	Image   gpu.Image
	View    gpu.ImageView
	Sampler gpu.Sampler
	Desc    gpu.ImageDesc
	Range   gpu.SubresourceRange
	// Tracked state, the device is never queried for it.
	Layout gpu.ImageLayout
	Access gpu.Access
	Stage  gpu.PipelineStage
}

func (i *GpuImage) Extent() gpu.Extent {
	return gpu.Extent{Width: i.Desc.Width, Height: i.Desc.Height}
}

// ImageCreateInfo describes an image and its view. A nil Sampler creates
// the image without one.
type ImageCreateInfo struct {
	Desc    gpu.ImageDesc
	Sampler *gpu.SamplerDesc
}

type ResourceInfo struct {
	ID       uuid.UUID
	Tag      string
	Kind     Kind
	RefCount uint32
	Size     uint64
}

type entry struct {
	generation uint32
	live       bool
	refCount   uint32
	tag        string
	kind       Kind
	id         uuid.UUID
	buffer     *GpuBuffer
	image      *GpuImage
}

// Registry owns every durable buffer and image. A resource is destroyed
// exactly once, when its reference count drops to zero. The registry is
// only touched from the control thread.
type Registry struct {
	device   gpu.Device
	executor *commands.Executor

	entries []entry
	free    []uint32
	live    int
}

func NewRegistry(device gpu.Device, executor *commands.Executor) *Registry {
	return &Registry{
		device:   device,
		executor: executor,
	}
}

func (r *Registry) insert(kind Kind, tag string) (handle, *entry) {
	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.entries = append(r.entries, entry{})
		index = uint32(len(r.entries) - 1)
	}
	e := &r.entries[index]
	e.generation++
	e.live = true
	e.refCount = 1
	e.tag = tag
	e.kind = kind
	e.id = uuid.New()
	r.live++
	return handle{index: index, generation: e.generation}, e
}

func (r *Registry) lookup(h handle, kind Kind) *entry {
	if h.generation == 0 || int(h.index) >= len(r.entries) {
		return nil
	}
	e := &r.entries[h.index]
	if !e.live || e.generation != h.generation || e.kind != kind {
		return nil
	}
	return e
}

func (r *Registry) mustLookup(res Resource, op string) *entry {
	if res == nil || res.IsNull() {
		core.FatalIf(core.ErrInvalidHandle, "%s on null handle", op)
	}
	e := r.lookup(res.slot(), res.Kind())
	if e == nil {
		core.FatalIf(errors.Wrapf(core.ErrInvalidHandle, "%s", res), "%s on untracked resource", op)
	}
	return e
}

// CreateBuffer allocates a buffer with a reference count of one.
// Allocation failure is fatal.
func (r *Registry) CreateBuffer(usage gpu.BufferUsage, memory gpu.MemoryFlags, size uint64, tag string) BufferHandle {
	b, err := r.device.CreateBuffer(gpu.BufferDesc{Size: size, Usage: usage, Memory: memory})
	core.FatalIf(err, "failed to create buffer %q of %d bytes", tag, size)

	descriptor := DescriptorNone
	switch {
	case usage&gpu.BufferUsageStorage != 0:
		descriptor = DescriptorStorage
	case usage&gpu.BufferUsageUniform != 0:
		descriptor = DescriptorUniform
	}

	h, e := r.insert(KindBuffer, tag)
	e.buffer = &GpuBuffer{
		Buffer:     b,
		Size:       size,
		Usage:      usage,
		Memory:     memory,
		Descriptor: descriptor,
	}
	core.LogDebug("created buffer %q (%s, %d bytes)", tag, h, size)
	return BufferHandle{h: h}
}

// CreateBufferWithData creates a buffer sized for data and fills it. Host
// visible buffers are written through a mapping; device local buffers are
// filled by a staged copy that completes before returning.
func (r *Registry) CreateBufferWithData(usage gpu.BufferUsage, memory gpu.MemoryFlags, data HostData, tag string) BufferHandle {
	if data.IsEmpty() {
		core.Fatalf("buffer %q created with empty data", tag)
	}
	if memory.HostVisible() {
		h := r.CreateBuffer(usage, memory, data.Size(), tag)
		r.UploadToBuffer(h, data.Bytes())
		r.lookup(h.h, KindBuffer).buffer.Data = data
		return h
	}

	h := r.CreateBuffer(usage|gpu.BufferUsageTransferDst, memory, data.Size(), tag)
	staging := r.CreateBuffer(gpu.BufferUsageTransferSrc, gpu.MemoryHostShared, data.Size(), tag+"/staging")
	r.UploadToBuffer(staging, data.Bytes())

	dst := r.lookup(h.h, KindBuffer).buffer
	src := r.lookup(staging.h, KindBuffer).buffer
	r.executor.Run(func(cb gpu.CommandBuffer) {
		r.device.CmdCopyBuffer(cb, src.Buffer, dst.Buffer, data.Size())
	})
	r.Deref(staging)
	dst.Data = data
	return h
}

// CreateImage creates an image, a view over all of it and optionally a
// sampler. The tracked layout starts as undefined.
func (r *Registry) CreateImage(info ImageCreateInfo, tag string) ImageHandle {
	desc := info.Desc
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
		if desc.Cube {
			desc.ArrayLayers = 6
		}
	}

	img, err := r.device.CreateImage(desc)
	core.FatalIf(err, "failed to create image %q (%dx%d %s)", tag, desc.Width, desc.Height, desc.Format)

	rng := gpu.FullRange(desc)
	view, err := r.device.CreateImageView(gpu.ImageViewDesc{
		Image:  img,
		Format: desc.Format,
		Range:  rng,
		Cube:   desc.Cube,
	})
	core.FatalIf(err, "failed to create view for image %q", tag)

	var sampler gpu.Sampler
	if info.Sampler != nil {
		sampler, err = r.device.CreateSampler(*info.Sampler)
		core.FatalIf(err, "failed to create sampler for image %q", tag)
	}

	h, e := r.insert(KindImage, tag)
	e.image = &GpuImage{
		Image:   img,
		View:    view,
		Sampler: sampler,
		Desc:    desc,
		Range:   rng,
		Layout:  gpu.LayoutUndefined,
		Access:  gpu.AccessNone,
		Stage:   gpu.StageTopOfPipe,
	}
	core.LogDebug("created image %q (%s, %dx%d %s)", tag, h, desc.Width, desc.Height, desc.Format)
	return ImageHandle{h: h}
}

// Buffer resolves h. The returned value must not be kept past the caller's
// reference.
func (r *Registry) Buffer(h BufferHandle) (*GpuBuffer, bool) {
	e := r.lookup(h.h, KindBuffer)
	if e == nil {
		return nil, false
	}
	return e.buffer, true
}

func (r *Registry) Image(h ImageHandle) (*GpuImage, bool) {
	e := r.lookup(h.h, KindImage)
	if e == nil {
		return nil, false
	}
	return e.image, true
}

func (r *Registry) Contains(res Resource) bool {
	return res != nil && r.lookup(res.slot(), res.Kind()) != nil
}

func (r *Registry) RefCount(res Resource) (uint32, bool) {
	if res == nil {
		return 0, false
	}
	e := r.lookup(res.slot(), res.Kind())
	if e == nil {
		return 0, false
	}
	return e.refCount, true
}

// Tag is the debug name res was created with, empty when res is nil or
// stale.
func (r *Registry) Tag(res Resource) string {
	if res == nil {
		return ""
	}
	if e := r.lookup(res.slot(), res.Kind()); e != nil {
		return e.tag
	}
	return ""
}

// Count is the number of live resources.
func (r *Registry) Count() int {
	return r.live
}

// Ref adds an owner to res. Untracked or stale handles are fatal.
func (r *Registry) Ref(res Resource) {
	e := r.mustLookup(res, "ref")
	e.refCount++
}

// Deref drops an owner. The last Deref destroys the native objects
// immediately, so the caller must know the device no longer uses them.
// Dereferencing a destroyed resource is fatal.
func (r *Registry) Deref(res Resource) {
	e := r.mustLookup(res, "deref")
	e.refCount--
	if e.refCount > 0 {
		return
	}
	core.LogDebug("destroying %s %q (%s)", e.kind, e.tag, res.slot())
	r.destroy(res.slot().index)
}

func (r *Registry) destroy(index uint32) {
	e := &r.entries[index]
	switch e.kind {
	case KindBuffer:
		r.device.DestroyBuffer(e.buffer.Buffer)
	case KindImage:
		if e.image.Sampler != 0 {
			r.device.DestroySampler(e.image.Sampler)
		}
		r.device.DestroyImageView(e.image.View)
		r.device.DestroyImage(e.image.Image)
	}
	generation := e.generation
	*e = entry{generation: generation}
	r.free = append(r.free, index)
	r.live--
}

// LiveResources lists every tracked resource in slot order.
func (r *Registry) LiveResources() []ResourceInfo {
	out := make([]ResourceInfo, 0, r.live)
	for i := range r.entries {
		e := &r.entries[i]
		if !e.live {
			continue
		}
		info := ResourceInfo{ID: e.id, Tag: e.tag, Kind: e.kind, RefCount: e.refCount}
		switch e.kind {
		case KindBuffer:
			info.Size = e.buffer.Size
		case KindImage:
			bpp := e.image.Desc.Format.BytesPerPixel()
			info.Size = uint64(e.image.Desc.Width) * uint64(e.image.Desc.Height) * uint64(e.image.Desc.ArrayLayers) * uint64(bpp)
		}
		out = append(out, info)
	}
	return out
}

// DestroyAll destroys every resource regardless of its reference count.
// Only for shutdown, after the device is idle.
func (r *Registry) DestroyAll() {
	for _, info := range r.LiveResources() {
		core.LogWarn("leaked %s %q (id %s, refs %d, %d bytes)", info.Kind, info.Tag, info.ID, info.RefCount, info.Size)
	}
	for i := range r.entries {
		if r.entries[i].live {
			r.destroy(uint32(i))
		}
	}
	core.LogInfo("resource registry destroyed")
}
