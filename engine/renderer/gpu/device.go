package gpu

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// WaitForever disables the timeout of a blocking device wait.
const WaitForever time.Duration = math.MaxInt64

var (
	// ErrDeviceLost is returned once the logical device is unusable.
	ErrDeviceLost = errors.New("device lost")
	// ErrSurfaceLost is returned when the presentation surface is gone.
	ErrSurfaceLost = errors.New("surface lost")
)

// Allocator owns device memory backed objects.
type Allocator interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)
	// MapBuffer exposes the whole buffer to the CPU. Only valid for host
	// visible memory; the slice is invalid after UnmapBuffer.
	MapBuffer(b Buffer) ([]byte, error)
	UnmapBuffer(b Buffer)
	CreateImage(desc ImageDesc) (Image, error)
	DestroyImage(img Image)
	CreateImageView(desc ImageViewDesc) (ImageView, error)
	DestroyImageView(v ImageView)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)
}

// Sync creates and waits on synchronization primitives.
type Sync interface {
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitFence blocks until the fence is signaled or the timeout expires.
	// It reports false on timeout.
	WaitFence(f Fence, timeout time.Duration) (bool, error)
	ResetFence(f Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)
}

// Submitter manages command buffers of the graphics queue.
type Submitter interface {
	// AllocateCommandBuffer allocates a primary command buffer from a pool
	// that allows resetting individual buffers.
	AllocateCommandBuffer() (CommandBuffer, error)
	FreeCommandBuffer(cb CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, oneTimeSubmit bool) error
	EndCommandBuffer(cb CommandBuffer) error
	ResetCommandBuffer(cb CommandBuffer) error
	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Recorder records commands into a command buffer in the recording state.
type Recorder interface {
	CmdImageBarrier(cb CommandBuffer, barrier ImageBarrier)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, size uint64)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout ImageLayout, region BufferImageCopy)
	// CmdBlitImage scales the first color mip of src over the whole of dst
	// with linear filtering.
	CmdBlitImage(cb CommandBuffer, src Image, srcLayout ImageLayout, srcExtent Extent, dst Image, dstLayout ImageLayout, dstExtent Extent)
	CmdBeginRenderPass(cb CommandBuffer, begin RenderPassBegin)
	CmdEndRenderPass(cb CommandBuffer)
	CmdSetViewport(cb CommandBuffer, viewport Viewport)
	CmdSetScissor(cb CommandBuffer, scissor Rect)
	CmdBindPipeline(cb CommandBuffer, p Pipeline)
	CmdPushConstants(cb CommandBuffer, p Pipeline, offset uint32, data []byte)
	CmdBindVertexBuffers(cb CommandBuffer, firstBinding uint32, buffers []Buffer, offsets []uint64)
	// CmdBindDescriptorSets binds sets starting at firstSet of the pipeline
	// layout.
	CmdBindDescriptorSets(cb CommandBuffer, p Pipeline, firstSet uint32, sets []DescriptorSet)
	CmdBindIndexBuffer(cb CommandBuffer, b Buffer, offset uint64, indexType IndexType)
	CmdDraw(cb CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// Pipelines creates render passes, framebuffers and graphics pipelines.
type Pipelines interface {
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)
	CreateGraphicsPipeline(desc PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)
}

// Descriptors manages the resource bindings shaders read through.
type Descriptors interface {
	CreateDescriptorSetLayout(desc DescriptorSetLayoutDesc) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	CreateDescriptorPool(desc DescriptorPoolDesc) (DescriptorPool, error)
	// DestroyDescriptorPool frees every set allocated from the pool.
	DestroyDescriptorPool(p DescriptorPool)
	// ResetDescriptorPool returns every set of the pool to it. The sets must
	// not be in use by pending command buffers.
	ResetDescriptorPool(p DescriptorPool) error
	AllocateDescriptorSet(p DescriptorPool, l DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite) error
}

// Presenter drives the presentation surface. Acquire and present report
// staleness through Status; ErrSurfaceLost and ErrDeviceLost are the only
// errors that mean presentation cannot continue.
type Presenter interface {
	SurfaceInfo() (SurfaceInfo, error)
	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	DestroySwapchain(sc Swapchain)
	// SwapchainImages returns the presentable images. They are owned by the
	// swapchain and must not be destroyed individually.
	SwapchainImages(sc Swapchain) ([]Image, error)
	// AcquireNextImage signals fence once the returned image can be written.
	AcquireNextImage(sc Swapchain, timeout time.Duration, fence Fence) (uint32, Status, error)
	Present(sc Swapchain, imageIndex uint32, wait []Semaphore) (Status, error)
}

// Device is the graphics device the renderer core runs on.
type Device interface {
	Allocator
	Sync
	Submitter
	Recorder
	Pipelines
	Descriptors
	Presenter
	// DepthFormat is the best depth attachment format the device supports.
	DepthFormat() Format
	Destroy()
}
