// Package gputest provides an in-memory gpu.Device. It executes submitted
// command buffers immediately, keeps buffer and image contents in host
// memory and records everything the renderer core does so tests can assert
// on object lifetimes, barriers and presentation.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type Kind string

const (
	KindBuffer         Kind = "buffer"
	KindImage          Kind = "image"
	KindImageView      Kind = "image_view"
	KindSampler        Kind = "sampler"
	KindFence          Kind = "fence"
	KindSemaphore      Kind = "semaphore"
	KindCommandBuffer  Kind = "command_buffer"
	KindRenderPass     Kind = "render_pass"
	KindFramebuffer    Kind = "framebuffer"
	KindPipeline       Kind = "pipeline"
	KindSwapchain      Kind = "swapchain"
	KindSwapchainImage Kind = "swapchain_image"
	KindSetLayout      Kind = "descriptor_set_layout"
	KindDescriptorPool Kind = "descriptor_pool"
	KindDescriptorSet  Kind = "descriptor_set"
)

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type buffer struct {
	desc   gpu.BufferDesc
	data   []byte
	mapped bool
}

type image struct {
	desc gpu.ImageDesc
	data []byte
}

type commandBuffer struct {
	state    cbState
	ops      []func()
	commands []string
	sets     []gpu.DescriptorSet
}

type descriptorPool struct {
	desc gpu.DescriptorPoolDesc
	used map[gpu.DescriptorType]uint32
	sets []gpu.DescriptorSet
}

type descriptorSet struct {
	pool    gpu.DescriptorPool
	layout  gpu.DescriptorSetLayoutDesc
	images  map[uint32][]gpu.DescriptorImage
	buffers map[uint32][]gpu.DescriptorBuffer
}

type swapchain struct {
	desc   gpu.SwapchainDesc
	images []gpu.Image
	next   uint32
}

// Device is a fake gpu.Device. The zero value is not usable, see New.
type Device struct {
	mu sync.Mutex

	nextID  uint64
	live    map[Kind]map[uint64]struct{}
	buffers map[gpu.Buffer]*buffer
	images  map[gpu.Image]*image
	fences  map[gpu.Fence]bool
	cbs     map[gpu.CommandBuffer]*commandBuffer
	chains  map[gpu.Swapchain]*swapchain
	views   map[gpu.ImageView]gpu.Image

	setLayouts map[gpu.DescriptorSetLayout]gpu.DescriptorSetLayoutDesc
	pools      map[gpu.DescriptorPool]*descriptorPool
	sets       map[gpu.DescriptorSet]*descriptorSet

	// Surface is returned by SurfaceInfo.
	Surface gpu.SurfaceInfo
	// AcquireScript is consumed one status per AcquireNextImage call before
	// falling back to StatusSuccess.
	AcquireScript []gpu.Status
	// AcquireErr, when set, is returned by the next AcquireNextImage call.
	AcquireErr error
	// PresentScript is consumed one status per Present call.
	PresentScript []gpu.Status
	// PresentErr, when set, is returned by the next Present call.
	PresentErr error
	// FailNextAllocation makes the next buffer or image creation fail.
	FailNextAllocation error
	// FailNextSubmit makes the next Submit fail.
	FailNextSubmit error
	// HoldSubmits keeps submitted fences unsignaled until CompleteSubmits or
	// an unbounded wait.
	HoldSubmits bool

	pending map[gpu.Fence]bool
	// descriptor sets read by the work each pending fence guards
	inFlightSets map[gpu.Fence][]gpu.DescriptorSet

	barriers   []gpu.ImageBarrier
	commands   map[string]int
	submits    []gpu.SubmitInfo
	presented  []uint32
	acquired   []uint32
	created    map[Kind]int
	waitIdle   int
	violations []string
}

func New() *Device {
	return &Device{
		live:     make(map[Kind]map[uint64]struct{}),
		buffers:  make(map[gpu.Buffer]*buffer),
		images:   make(map[gpu.Image]*image),
		fences:   make(map[gpu.Fence]bool),
		cbs:      make(map[gpu.CommandBuffer]*commandBuffer),
		chains:   make(map[gpu.Swapchain]*swapchain),
		views:    make(map[gpu.ImageView]gpu.Image),
		pending:  make(map[gpu.Fence]bool),

		setLayouts:   make(map[gpu.DescriptorSetLayout]gpu.DescriptorSetLayoutDesc),
		pools:        make(map[gpu.DescriptorPool]*descriptorPool),
		sets:         make(map[gpu.DescriptorSet]*descriptorSet),
		inFlightSets: make(map[gpu.Fence][]gpu.DescriptorSet),

		commands: make(map[string]int),
		created:  make(map[Kind]int),
		Surface:  DefaultSurface(),
	}
}

// DefaultSurface supports the preferred sRGB format and FIFO presentation
// with three images at 800x600.
func DefaultSurface() gpu.SurfaceInfo {
	return gpu.SurfaceInfo{
		MinImageCount: 2,
		MaxImageCount: 3,
		CurrentExtent: gpu.Extent{Width: 800, Height: 600},
		MinExtent:     gpu.Extent{Width: 1, Height: 1},
		MaxExtent:     gpu.Extent{Width: 4096, Height: 4096},
		Formats: []gpu.SurfaceFormat{
			{Format: gpu.FormatBGRA8Unorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
			{Format: gpu.FormatBGRA8Srgb, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
		},
		PresentModes: []gpu.PresentMode{gpu.PresentModeMailbox, gpu.PresentModeFifo},
	}
}

func (d *Device) alloc(kind Kind) uint64 {
	d.nextID++
	if d.live[kind] == nil {
		d.live[kind] = make(map[uint64]struct{})
	}
	d.live[kind][d.nextID] = struct{}{}
	d.created[kind]++
	return d.nextID
}

func (d *Device) free(kind Kind, id uint64) bool {
	if id == 0 {
		return false
	}
	if _, ok := d.live[kind][id]; !ok {
		d.violate("destroying unknown or already destroyed %s %d", kind, id)
		return false
	}
	delete(d.live[kind], id)
	return true
}

func (d *Device) isLive(kind Kind, id uint64) bool {
	_, ok := d.live[kind][id]
	return ok
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

// Live returns the number of objects of kind that are currently alive.
func (d *Device) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live[kind])
}

// Created returns how many objects of kind were ever created.
func (d *Device) Created(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// LiveTotal counts every live object except command buffers, which are
// reclaimed with their pool.
func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for kind, m := range d.live {
		if kind == KindCommandBuffer || kind == KindDescriptorSet {
			continue
		}
		total += len(m)
	}
	return total
}

// Violations lists every misuse of the device observed so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *Device) Barriers() []gpu.ImageBarrier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.ImageBarrier(nil), d.barriers...)
}

// BarriersFor returns the barriers recorded for one image.
func (d *Device) BarriersFor(img gpu.Image) []gpu.ImageBarrier {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []gpu.ImageBarrier
	for _, b := range d.barriers {
		if b.Image == img {
			out = append(out, b)
		}
	}
	return out
}

// CommandCount returns how many times a Cmd* method was recorded, keyed by
// its name without the Cmd prefix (e.g. "DrawIndexed").
func (d *Device) CommandCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands[name]
}

// Commands returns the command names recorded into cb since its last reset.
func (d *Device) Commands(cb gpu.CommandBuffer) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cbs[cb]; ok {
		return append([]string(nil), c.commands...)
	}
	return nil
}

func (d *Device) Submits() []gpu.SubmitInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.SubmitInfo(nil), d.submits...)
}

func (d *Device) Presented() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.presented...)
}

func (d *Device) Acquired() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.acquired...)
}

func (d *Device) WaitIdleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdle
}

// BufferContents returns a copy of the bytes currently stored in b.
func (d *Device) BufferContents(b gpu.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[b]; ok {
		return append([]byte(nil), buf.data...)
	}
	return nil
}

// ImageContents returns the bytes last copied into img.
func (d *Device) ImageContents(img gpu.Image) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.images[img]; ok {
		return append([]byte(nil), i.data...)
	}
	return nil
}

func (d *Device) FenceSignaled(f gpu.Fence) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences[f]
}

// CompleteSubmits signals every fence held back by HoldSubmits.
func (d *Device) CompleteSubmits() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for f := range d.pending {
		d.fences[f] = true
	}
	d.pending = make(map[gpu.Fence]bool)
	d.inFlightSets = make(map[gpu.Fence][]gpu.DescriptorSet)
}

// SignalFence simulates the device completing work guarded by f.
func (d *Device) SignalFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fences[f] = true
	delete(d.pending, f)
	delete(d.inFlightSets, f)
}

// FencePending reports whether f guards held back work.
func (d *Device) FencePending(f gpu.Fence) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending[f]
}

// Allocator

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailNextAllocation; err != nil {
		d.FailNextAllocation = nil
		return 0, err
	}
	if desc.Size == 0 {
		return 0, errors.New("buffer size must be non zero")
	}
	b := gpu.Buffer(d.alloc(KindBuffer))
	d.buffers[b] = &buffer{desc: desc, data: make([]byte, desc.Size)}
	return b, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[b]; ok && buf.mapped {
		d.violate("destroying mapped buffer %d", b)
	}
	if d.free(KindBuffer, uint64(b)) {
		delete(d.buffers, b)
	}
}

func (d *Device) MapBuffer(b gpu.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return nil, errors.Newf("unknown buffer %d", b)
	}
	if !buf.desc.Memory.HostVisible() {
		return nil, errors.Newf("buffer %d is not host visible", b)
	}
	if buf.mapped {
		return nil, errors.Newf("buffer %d already mapped", b)
	}
	buf.mapped = true
	return buf.data, nil
}

func (d *Device) UnmapBuffer(b gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok || !buf.mapped {
		d.violate("unmapping buffer %d that is not mapped", b)
		return
	}
	buf.mapped = false
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailNextAllocation; err != nil {
		d.FailNextAllocation = nil
		return 0, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return 0, errors.New("image extent must be non zero")
	}
	img := gpu.Image(d.alloc(KindImage))
	d.images[img] = &image{desc: desc}
	return img, nil
}

func (d *Device) DestroyImage(img gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free(KindImage, uint64(img)) {
		delete(d.images, img)
	}
}

func (d *Device) CreateImageView(desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(KindImage, uint64(desc.Image)) && !d.isLive(KindSwapchainImage, uint64(desc.Image)) {
		return 0, errors.Newf("view of unknown image %d", desc.Image)
	}
	v := gpu.ImageView(d.alloc(KindImageView))
	d.views[v] = desc.Image
	return v, nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free(KindImageView, uint64(v)) {
		delete(d.views, v)
	}
}

// ViewImage returns the image v was created for.
func (d *Device) ViewImage(v gpu.ImageView) gpu.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.views[v]
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.Sampler(d.alloc(KindSampler)), nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(KindSampler, uint64(s))
}

// Sync

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := gpu.Fence(d.alloc(KindFence))
	d.fences[f] = signaled
	return f, nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[f] {
		d.violate("destroying fence %d with work still in flight", f)
	}
	if d.free(KindFence, uint64(f)) {
		delete(d.fences, f)
		delete(d.pending, f)
		delete(d.inFlightSets, f)
	}
}

func (d *Device) WaitFence(f gpu.Fence, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	signaled, ok := d.fences[f]
	if !ok {
		return false, errors.Newf("waiting on unknown fence %d", f)
	}
	if signaled {
		return true, nil
	}
	if d.pending[f] {
		if timeout != gpu.WaitForever {
			return false, nil
		}
		delete(d.pending, f)
		delete(d.inFlightSets, f)
		d.fences[f] = true
		return true, nil
	}
	if timeout == gpu.WaitForever {
		// nothing pending can signal it, a real device would hang here
		d.violate("waiting forever on fence %d that will never signal", f)
		return false, errors.Newf("deadlock waiting on fence %d", f)
	}
	return false, nil
}

func (d *Device) ResetFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[f]; !ok {
		return errors.Newf("resetting unknown fence %d", f)
	}
	d.fences[f] = false
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.Semaphore(d.alloc(KindSemaphore)), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(KindSemaphore, uint64(s))
}

// Submitter

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := gpu.CommandBuffer(d.alloc(KindCommandBuffer))
	d.cbs[cb] = &commandBuffer{}
	return cb, nil
}

func (d *Device) FreeCommandBuffer(cb gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free(KindCommandBuffer, uint64(cb)) {
		delete(d.cbs, cb)
	}
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, oneTimeSubmit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cbs[cb]
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	if c.state == cbRecording {
		d.violate("beginning command buffer %d while recording", cb)
		return errors.Newf("command buffer %d already recording", cb)
	}
	c.state = cbRecording
	c.ops = nil
	c.commands = nil
	c.sets = nil
	return nil
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cbs[cb]
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	if c.state != cbRecording {
		d.violate("ending command buffer %d that is not recording", cb)
		return errors.Newf("command buffer %d not recording", cb)
	}
	c.state = cbExecutable
	return nil
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cbs[cb]
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	c.state = cbInitial
	c.ops = nil
	return nil
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	if err := d.FailNextSubmit; err != nil {
		d.FailNextSubmit = nil
		d.mu.Unlock()
		return err
	}
	c, ok := d.cbs[info.CommandBuffer]
	if !ok {
		d.mu.Unlock()
		return errors.Newf("submitting unknown command buffer %d", info.CommandBuffer)
	}
	if c.state != cbExecutable {
		d.violate("submitting command buffer %d that is not executable", info.CommandBuffer)
		d.mu.Unlock()
		return errors.Newf("command buffer %d not executable", info.CommandBuffer)
	}
	if info.Fence != 0 {
		signaled, ok := d.fences[info.Fence]
		if !ok {
			d.mu.Unlock()
			return errors.Newf("submitting with unknown fence %d", info.Fence)
		}
		if signaled {
			d.violate("submitting with fence %d still signaled", info.Fence)
		}
	}
	d.submits = append(d.submits, info)
	ops := c.ops
	d.mu.Unlock()

	// the fake device completes work as soon as it is submitted
	for _, op := range ops {
		op()
	}

	d.mu.Lock()
	if info.Fence != 0 {
		if d.HoldSubmits {
			d.pending[info.Fence] = true
			d.inFlightSets[info.Fence] = append([]gpu.DescriptorSet(nil), c.sets...)
		} else {
			d.fences[info.Fence] = true
		}
	}
	d.mu.Unlock()
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdle++
	return nil
}

// Recorder

func (d *Device) record(cb gpu.CommandBuffer, name string, op func()) {
	c, ok := d.cbs[cb]
	if !ok || c.state != cbRecording {
		d.violate("recording %s into command buffer %d that is not recording", name, cb)
		return
	}
	d.commands[name]++
	c.commands = append(c.commands, name)
	if op != nil {
		c.ops = append(c.ops, op)
	}
}

func (d *Device) CmdImageBarrier(cb gpu.CommandBuffer, barrier gpu.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.barriers = append(d.barriers, barrier)
	d.record(cb, "ImageBarrier", nil)
}

func (d *Device) CmdCopyBuffer(cb gpu.CommandBuffer, src, dst gpu.Buffer, size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "CopyBuffer", func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		s, okS := d.buffers[src]
		t, okT := d.buffers[dst]
		if !okS || !okT {
			d.violate("copy between destroyed buffers %d -> %d", src, dst)
			return
		}
		copy(t.data[:size], s.data[:size])
	})
}

func (d *Device) CmdCopyBufferToImage(cb gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, region gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if layout != gpu.LayoutTransferDst && layout != gpu.LayoutGeneral {
		d.violate("copy into image %d in layout %s", dst, layout)
	}
	d.record(cb, "CopyBufferToImage", func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		s, okS := d.buffers[src]
		i, okI := d.images[dst]
		if !okS || !okI {
			d.violate("copy from buffer %d into destroyed image %d", src, dst)
			return
		}
		i.data = append([]byte(nil), s.data[region.BufferOffset:]...)
	})
}

func (d *Device) CmdBlitImage(cb gpu.CommandBuffer, src gpu.Image, srcLayout gpu.ImageLayout, srcExtent gpu.Extent, dst gpu.Image, dstLayout gpu.ImageLayout, dstExtent gpu.Extent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if srcLayout != gpu.LayoutTransferSrc || dstLayout != gpu.LayoutTransferDst {
		d.violate("blit %d -> %d with layouts %s -> %s", src, dst, srcLayout, dstLayout)
	}
	d.record(cb, "BlitImage", nil)
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(KindRenderPass, uint64(begin.RenderPass)) || !d.isLive(KindFramebuffer, uint64(begin.Framebuffer)) {
		d.violate("beginning render pass %d with framebuffer %d that are not alive", begin.RenderPass, begin.Framebuffer)
	}
	d.record(cb, "BeginRenderPass", nil)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "EndRenderPass", nil)
}

func (d *Device) CmdSetViewport(cb gpu.CommandBuffer, viewport gpu.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "SetViewport", nil)
}

func (d *Device) CmdSetScissor(cb gpu.CommandBuffer, scissor gpu.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "SetScissor", nil)
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "BindPipeline", nil)
}

func (d *Device) CmdPushConstants(cb gpu.CommandBuffer, p gpu.Pipeline, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "PushConstants", nil)
}

func (d *Device) CmdBindVertexBuffers(cb gpu.CommandBuffer, firstBinding uint32, buffers []gpu.Buffer, offsets []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		if !d.isLive(KindBuffer, uint64(b)) {
			d.violate("binding destroyed vertex buffer %d", b)
		}
	}
	d.record(cb, "BindVertexBuffers", nil)
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, p gpu.Pipeline, firstSet uint32, sets []gpu.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range sets {
		set, ok := d.sets[s]
		if !ok {
			d.violate("binding freed descriptor set %d", s)
			continue
		}
		for _, b := range set.layout.Bindings {
			if set.written(b.Binding) < max(b.Count, 1) {
				d.violate("binding descriptor set %d with binding %d not fully written", s, b.Binding)
			}
		}
	}
	d.record(cb, "BindDescriptorSets", nil)
	if c, ok := d.cbs[cb]; ok {
		c.sets = append(c.sets, sets...)
	}
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, b gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isLive(KindBuffer, uint64(b)) {
		d.violate("binding destroyed index buffer %d", b)
	}
	d.record(cb, "BindIndexBuffer", nil)
}

func (d *Device) CmdDraw(cb gpu.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "Draw", nil)
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "DrawIndexed", nil)
}

// Pipelines

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.RenderPass(d.alloc(KindRenderPass)), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(KindRenderPass, uint64(rp))
}

func (d *Device) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range desc.Attachments {
		if !d.isLive(KindImageView, uint64(v)) {
			return 0, errors.Newf("framebuffer attachment %d is not alive", v)
		}
	}
	return gpu.Framebuffer(d.alloc(KindFramebuffer)), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(KindFramebuffer, uint64(fb))
}

func (d *Device) CreateGraphicsPipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(desc.VertexCode) == 0 || len(desc.FragmentCode) == 0 {
		return 0, errors.New("pipeline needs vertex and fragment code")
	}
	for _, l := range desc.SetLayouts {
		if !d.isLive(KindSetLayout, uint64(l)) {
			return 0, errors.Newf("pipeline %s uses set layout %d that is not alive", desc.Name, l)
		}
	}
	return gpu.Pipeline(d.alloc(KindPipeline)), nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(KindPipeline, uint64(p))
}

// Descriptors

func (d *Device) CreateDescriptorSetLayout(desc gpu.DescriptorSetLayoutDesc) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[uint32]bool)
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return 0, errors.Newf("layout %s declares binding %d twice", desc.Name, b.Binding)
		}
		seen[b.Binding] = true
	}
	l := gpu.DescriptorSetLayout(d.alloc(KindSetLayout))
	d.setLayouts[l] = desc
	return l, nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free(KindSetLayout, uint64(l)) {
		delete(d.setLayouts, l)
	}
}

func (d *Device) CreateDescriptorPool(desc gpu.DescriptorPoolDesc) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.MaxSets == 0 {
		return 0, errors.New("descriptor pool needs at least one set")
	}
	p := gpu.DescriptorPool(d.alloc(KindDescriptorPool))
	d.pools[p] = &descriptorPool{desc: desc, used: make(map[gpu.DescriptorType]uint32)}
	return p, nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools[p]
	if !d.free(KindDescriptorPool, uint64(p)) || !ok {
		return
	}
	d.releaseSets(p, pool)
	delete(d.pools, p)
}

func (d *Device) ResetDescriptorPool(p gpu.DescriptorPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools[p]
	if !ok {
		return errors.Newf("resetting unknown descriptor pool %d", p)
	}
	d.releaseSets(p, pool)
	return nil
}

func (d *Device) releaseSets(p gpu.DescriptorPool, pool *descriptorPool) {
	for f, sets := range d.inFlightSets {
		for _, s := range sets {
			if set, ok := d.sets[s]; ok && set.pool == p {
				d.violate("releasing descriptor set %d still read by work guarded by fence %d", s, f)
			}
		}
	}
	for _, s := range pool.sets {
		d.free(KindDescriptorSet, uint64(s))
		delete(d.sets, s)
	}
	pool.sets = nil
	pool.used = make(map[gpu.DescriptorType]uint32)
}

func (d *Device) AllocateDescriptorSet(p gpu.DescriptorPool, l gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools[p]
	if !ok {
		return 0, errors.Newf("allocating from unknown descriptor pool %d", p)
	}
	layout, ok := d.setLayouts[l]
	if !ok {
		return 0, errors.Newf("allocating with unknown set layout %d", l)
	}
	if uint32(len(pool.sets)) >= pool.desc.MaxSets {
		return 0, errors.Newf("descriptor pool %d is out of sets", p)
	}
	need := make(map[gpu.DescriptorType]uint32)
	for _, b := range layout.Bindings {
		need[b.Type] += max(b.Count, 1)
	}
	for t, n := range need {
		var capacity uint32
		for _, size := range pool.desc.Sizes {
			if size.Type == t {
				capacity += size.Count
			}
		}
		if pool.used[t]+n > capacity {
			return 0, errors.Newf("descriptor pool %d is out of %s descriptors", p, t)
		}
	}
	for t, n := range need {
		pool.used[t] += n
	}
	s := gpu.DescriptorSet(d.alloc(KindDescriptorSet))
	d.sets[s] = &descriptorSet{
		pool:    p,
		layout:  layout,
		images:  make(map[uint32][]gpu.DescriptorImage),
		buffers: make(map[uint32][]gpu.DescriptorBuffer),
	}
	pool.sets = append(pool.sets, s)
	return s, nil
}

func (d *Device) UpdateDescriptorSet(s gpu.DescriptorSet, writes []gpu.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[s]
	if !ok {
		return errors.Newf("updating unknown descriptor set %d", s)
	}
	for _, w := range writes {
		var binding *gpu.DescriptorBinding
		for i := range set.layout.Bindings {
			if set.layout.Bindings[i].Binding == w.Binding {
				binding = &set.layout.Bindings[i]
			}
		}
		if binding == nil {
			return errors.Newf("set %d has no binding %d", s, w.Binding)
		}
		if binding.Type != w.Type {
			return errors.Newf("binding %d holds %s, not %s", w.Binding, binding.Type, w.Type)
		}
		if w.ArrayElement+uint32(w.Count()) > max(binding.Count, 1) {
			return errors.Newf("binding %d: write past %d descriptors", w.Binding, max(binding.Count, 1))
		}
		switch w.Type {
		case gpu.DescriptorCombinedImageSampler:
			for _, img := range w.Images {
				if !d.isLive(KindImageView, uint64(img.View)) || !d.isLive(KindSampler, uint64(img.Sampler)) {
					return errors.Newf("binding %d: view %d or sampler %d is not alive", w.Binding, img.View, img.Sampler)
				}
				if img.Layout != gpu.LayoutShaderReadOnly && img.Layout != gpu.LayoutGeneral {
					d.violate("binding %d samples view %d in layout %s", w.Binding, img.View, img.Layout)
				}
			}
			set.images[w.Binding] = splice(set.images[w.Binding], w.ArrayElement, w.Images)
		default:
			want := gpu.BufferUsageUniform
			if w.Type == gpu.DescriptorStorageBuffer {
				want = gpu.BufferUsageStorage
			}
			for _, b := range w.Buffers {
				buf, ok := d.buffers[b.Buffer]
				if !ok {
					return errors.Newf("binding %d: buffer %d is not alive", w.Binding, b.Buffer)
				}
				if buf.desc.Usage&want == 0 {
					d.violate("binding %d: buffer %d lacks %s usage", w.Binding, b.Buffer, w.Type)
				}
			}
			set.buffers[w.Binding] = splice(set.buffers[w.Binding], w.ArrayElement, w.Buffers)
		}
	}
	return nil
}

func (s *descriptorSet) written(binding uint32) uint32 {
	var n uint32
	for _, img := range s.images[binding] {
		if img.View != 0 {
			n++
		}
	}
	for _, b := range s.buffers[binding] {
		if b.Buffer != 0 {
			n++
		}
	}
	return n
}

func splice[T any](dst []T, at uint32, src []T) []T {
	if n := int(at) + len(src); n > len(dst) {
		dst = append(dst, make([]T, n-len(dst))...)
	}
	copy(dst[at:], src)
	return dst
}

// DescriptorImages returns what is written to a sampler binding of s.
func (d *Device) DescriptorImages(s gpu.DescriptorSet, binding uint32) []gpu.DescriptorImage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.sets[s]; ok {
		return append([]gpu.DescriptorImage(nil), set.images[binding]...)
	}
	return nil
}

// DescriptorBuffers returns what is written to a buffer binding of s.
func (d *Device) DescriptorBuffers(s gpu.DescriptorSet, binding uint32) []gpu.DescriptorBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.sets[s]; ok {
		return append([]gpu.DescriptorBuffer(nil), set.buffers[binding]...)
	}
	return nil
}

// BoundSets returns the descriptor sets bound into cb since it began
// recording.
func (d *Device) BoundSets(cb gpu.CommandBuffer) []gpu.DescriptorSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cbs[cb]; ok {
		return append([]gpu.DescriptorSet(nil), c.sets...)
	}
	return nil
}

// BufferUsage returns the usage b was created with.
func (d *Device) BufferUsage(b gpu.Buffer) gpu.BufferUsage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[b]; ok {
		return buf.desc.Usage
	}
	return 0
}

// Presenter

func (d *Device) SurfaceInfo() (gpu.SurfaceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Surface, nil
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Extent.IsZero() {
		return 0, errors.New("swapchain extent must be non zero")
	}
	if desc.Old != 0 && !d.isLive(KindSwapchain, uint64(desc.Old)) {
		d.violate("replacing swapchain %d that is not alive", desc.Old)
	}
	sc := gpu.Swapchain(d.alloc(KindSwapchain))
	chain := &swapchain{desc: desc}
	for i := uint32(0); i < desc.ImageCount; i++ {
		chain.images = append(chain.images, gpu.Image(d.alloc(KindSwapchainImage)))
	}
	d.chains[sc] = chain
	return sc, nil
}

func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chain, ok := d.chains[sc]
	if !d.free(KindSwapchain, uint64(sc)) || !ok {
		return
	}
	for _, img := range chain.images {
		d.free(KindSwapchainImage, uint64(img))
	}
	delete(d.chains, sc)
}

func (d *Device) SwapchainImages(sc gpu.Swapchain) ([]gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chain, ok := d.chains[sc]
	if !ok {
		return nil, errors.Newf("unknown swapchain %d", sc)
	}
	return append([]gpu.Image(nil), chain.images...), nil
}

// SwapchainDesc returns the descriptor sc was created with.
func (d *Device) SwapchainDesc(sc gpu.Swapchain) gpu.SwapchainDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	if chain, ok := d.chains[sc]; ok {
		return chain.desc
	}
	return gpu.SwapchainDesc{}
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout time.Duration, fence gpu.Fence) (uint32, gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.AcquireErr; err != nil {
		d.AcquireErr = nil
		return 0, gpu.StatusSuccess, err
	}
	chain, ok := d.chains[sc]
	if !ok {
		return 0, gpu.StatusSuccess, errors.Newf("acquire from unknown swapchain %d", sc)
	}
	status := gpu.StatusSuccess
	if len(d.AcquireScript) > 0 {
		status = d.AcquireScript[0]
		d.AcquireScript = d.AcquireScript[1:]
	}
	if status == gpu.StatusOutOfDate || status == gpu.StatusTimeout {
		return 0, status, nil
	}
	if fence != 0 {
		if d.fences[fence] {
			d.violate("acquire with fence %d still signaled", fence)
		}
		d.fences[fence] = true
	}
	idx := chain.next
	chain.next = (chain.next + 1) % uint32(len(chain.images))
	d.acquired = append(d.acquired, idx)
	return idx, status, nil
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait []gpu.Semaphore) (gpu.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.PresentErr; err != nil {
		d.PresentErr = nil
		return gpu.StatusSuccess, err
	}
	chain, ok := d.chains[sc]
	if !ok {
		return gpu.StatusSuccess, errors.Newf("present to unknown swapchain %d", sc)
	}
	if int(imageIndex) >= len(chain.images) {
		d.violate("presenting image %d of %d", imageIndex, len(chain.images))
	}
	status := gpu.StatusSuccess
	if len(d.PresentScript) > 0 {
		status = d.PresentScript[0]
		d.PresentScript = d.PresentScript[1:]
	}
	d.presented = append(d.presented, imageIndex)
	return status, nil
}

func (d *Device) DepthFormat() gpu.Format {
	return gpu.FormatD32Sfloat
}

// Destroy reports every object still alive as a violation.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kind, m := range d.live {
		if kind == KindCommandBuffer || kind == KindSwapchainImage || kind == KindDescriptorSet {
			continue
		}
		for id := range m {
			d.violate("%s %d alive at device destruction", kind, id)
		}
	}
}

var _ gpu.Device = (*Device)(nil)
