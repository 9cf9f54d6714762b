package resources

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// UploadToBuffer copies data to the start of a host visible buffer through
// a temporary mapping. No fence is waited on: the caller guarantees the
// device is not reading the buffer.
func (r *Registry) UploadToBuffer(h BufferHandle, data []byte) {
	e := r.mustLookup(h, "upload")
	buf := e.buffer
	if uint64(len(data)) > buf.Size {
		core.Fatalf("upload of %d bytes into buffer %q of %d bytes", len(data), e.tag, buf.Size)
	}
	mem, err := r.device.MapBuffer(buf.Buffer)
	core.FatalIf(err, "failed to map buffer %q", e.tag)
	copy(mem, data)
	r.device.UnmapBuffer(buf.Buffer)
}

// FullCopy is the region covering mip 0 of every layer of an image.
func FullCopy(desc gpu.ImageDesc) gpu.BufferImageCopy {
	layers := desc.ArrayLayers
	if layers == 0 {
		layers = 1
	}
	depth := desc.Depth
	if depth == 0 {
		depth = 1
	}
	return gpu.BufferImageCopy{
		Aspect:     desc.Format.Aspect(),
		LayerCount: layers,
		Width:      desc.Width,
		Height:     desc.Height,
		Depth:      depth,
	}
}

// UploadToImage copies data into the image through a staging buffer and
// waits for the copy to finish. The image is left in the transfer
// destination layout; callers transition it to where they read it from.
func (r *Registry) UploadToImage(h ImageHandle, region gpu.BufferImageCopy, data []byte) {
	e := r.mustLookup(h, "upload")
	if len(data) == 0 {
		core.Fatalf("empty upload into image %q", e.tag)
	}
	tag := e.tag
	img := e.image

	staging := r.CreateBuffer(gpu.BufferUsageTransferSrc, gpu.MemoryHostShared, uint64(len(data)), tag+"/staging")
	r.UploadToBuffer(staging, data)
	src, _ := r.Buffer(staging)

	cb := r.executor.Begin()
	r.RecordTransition(cb, h, gpu.LayoutTransferDst, img.Access, gpu.AccessTransferWrite, img.Stage, gpu.StageTransfer)
	r.device.CmdCopyBufferToImage(cb, src.Buffer, img.Image, gpu.LayoutTransferDst, region)
	r.executor.SubmitAndWait()

	r.Deref(staging)
}

// RecordTransition records a layout barrier into cb and updates the tracked
// state. It records nothing and returns false when the image already is in
// layout.
func (r *Registry) RecordTransition(cb gpu.CommandBuffer, h ImageHandle, layout gpu.ImageLayout, srcAccess, dstAccess gpu.Access, srcStage, dstStage gpu.PipelineStage) bool {
	e := r.mustLookup(h, "transition")
	img := e.image
	if img.Layout == layout {
		return false
	}
	r.device.CmdImageBarrier(cb, gpu.ImageBarrier{
		Image:     img.Image,
		Range:     img.Range,
		OldLayout: img.Layout,
		NewLayout: layout,
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
		SrcStage:  srcStage,
		DstStage:  dstStage,
	})
	img.Layout = layout
	img.Access = dstAccess
	img.Stage = dstStage
	return true
}

// TransitionLayout moves the image to layout and waits for the barrier to
// execute. A no-op when the tracked layout already matches.
func (r *Registry) TransitionLayout(h ImageHandle, layout gpu.ImageLayout, srcAccess, dstAccess gpu.Access, srcStage, dstStage gpu.PipelineStage) {
	img, ok := r.Image(h)
	if !ok {
		r.mustLookup(h, "transition")
	}
	if img.Layout == layout {
		return
	}
	cb := r.executor.Begin()
	r.RecordTransition(cb, h, layout, srcAccess, dstAccess, srcStage, dstStage)
	r.executor.SubmitAndWait()
}

// SetImageState records a layout change performed implicitly by the
// device, such as a render pass final layout.
func (r *Registry) SetImageState(h ImageHandle, layout gpu.ImageLayout, access gpu.Access, stage gpu.PipelineStage) {
	e := r.mustLookup(h, "set state")
	e.image.Layout = layout
	e.image.Access = access
	e.image.Stage = stage
}
