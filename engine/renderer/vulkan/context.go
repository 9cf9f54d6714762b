package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// objectTable hands out the opaque ids the engine sees for native objects.
type objectTable[K ~uint64, V any] struct {
	mu      sync.RWMutex
	next    uint64
	objects map[K]V
}

func newObjectTable[K ~uint64, V any]() *objectTable[K, V] {
	return &objectTable[K, V]{objects: make(map[K]V)}
}

func (t *objectTable[K, V]) add(v V) K {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := K(t.next)
	t.objects[id] = v
	return id
}

func (t *objectTable[K, V]) get(id K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.objects[id]
	return v, ok
}

func (t *objectTable[K, V]) remove(id K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.objects[id]
	delete(t.objects, id)
	return v, ok
}

func (t *objectTable[K, V]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}

var _ gpu.Device = (*Device)(nil)

// Device is the goki/vulkan implementation of gpu.Device. It owns the
// instance, the surface and the logical device, and maps engine handles to
// native objects.
type Device struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	// only set when validation is enabled
	debugCallback vk.DebugReportCallback

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	GraphicsQueue       vk.Queue
	PresentQueue        vk.Queue
	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	depthFormat gpu.Format
	locks       *VulkanLockPool

	buffers        *objectTable[gpu.Buffer, *VulkanBuffer]
	images         *objectTable[gpu.Image, *VulkanImage]
	views          *objectTable[gpu.ImageView, vk.ImageView]
	samplers       *objectTable[gpu.Sampler, vk.Sampler]
	fences         *objectTable[gpu.Fence, *VulkanFence]
	semaphores     *objectTable[gpu.Semaphore, vk.Semaphore]
	commandBuffers *objectTable[gpu.CommandBuffer, *VulkanCommandBuffer]
	renderPasses   *objectTable[gpu.RenderPass, *VulkanRenderpass]
	framebuffers   *objectTable[gpu.Framebuffer, *VulkanFramebuffer]
	pipelines      *objectTable[gpu.Pipeline, *VulkanPipeline]
	swapchains     *objectTable[gpu.Swapchain, *VulkanSwapchain]

	setLayouts      *objectTable[gpu.DescriptorSetLayout, *VulkanDescriptorSetLayout]
	descriptorPools *objectTable[gpu.DescriptorPool, *VulkanDescriptorPool]
	descriptorSets  *objectTable[gpu.DescriptorSet, *VulkanDescriptorSet]
}

func newDevice() *Device {
	return &Device{
		locks:          NewVulkanLockPool(),
		buffers:        newObjectTable[gpu.Buffer, *VulkanBuffer](),
		images:         newObjectTable[gpu.Image, *VulkanImage](),
		views:          newObjectTable[gpu.ImageView, vk.ImageView](),
		samplers:       newObjectTable[gpu.Sampler, vk.Sampler](),
		fences:         newObjectTable[gpu.Fence, *VulkanFence](),
		semaphores:     newObjectTable[gpu.Semaphore, vk.Semaphore](),
		commandBuffers: newObjectTable[gpu.CommandBuffer, *VulkanCommandBuffer](),
		renderPasses:   newObjectTable[gpu.RenderPass, *VulkanRenderpass](),
		framebuffers:   newObjectTable[gpu.Framebuffer, *VulkanFramebuffer](),
		pipelines:      newObjectTable[gpu.Pipeline, *VulkanPipeline](),
		swapchains:     newObjectTable[gpu.Swapchain, *VulkanSwapchain](),

		setLayouts:      newObjectTable[gpu.DescriptorSetLayout, *VulkanDescriptorSetLayout](),
		descriptorPools: newObjectTable[gpu.DescriptorPool, *VulkanDescriptorPool](),
		descriptorSets:  newObjectTable[gpu.DescriptorSet, *VulkanDescriptorSet](),
	}
}

func (d *Device) DepthFormat() gpu.Format {
	return d.depthFormat
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		memoryType := d.Memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, errors.Newf("no memory type matches filter %#x with properties %#x", typeFilter, uint32(propertyFlags))
}

// The lookups below are used while recording, where an unknown handle is a
// programming error.

func (d *Device) commandBuffer(cb gpu.CommandBuffer) *VulkanCommandBuffer {
	v, ok := d.commandBuffers.get(cb)
	if !ok {
		core.Fatalf("unknown command buffer %d", cb)
	}
	return v
}

func (d *Device) buffer(b gpu.Buffer) *VulkanBuffer {
	v, ok := d.buffers.get(b)
	if !ok {
		core.Fatalf("unknown buffer %d", b)
	}
	return v
}

func (d *Device) image(img gpu.Image) *VulkanImage {
	v, ok := d.images.get(img)
	if !ok {
		core.Fatalf("unknown image %d", img)
	}
	return v
}

func (d *Device) pipeline(p gpu.Pipeline) *VulkanPipeline {
	v, ok := d.pipelines.get(p)
	if !ok {
		core.Fatalf("unknown pipeline %d", p)
	}
	return v
}

// liveObjects is reported at shutdown.
func (d *Device) liveObjects() map[string]int {
	counts := map[string]int{
		"buffer":          d.buffers.len(),
		"image":           d.images.len(),
		"image view":      d.views.len(),
		"sampler":         d.samplers.len(),
		"fence":           d.fences.len(),
		"semaphore":       d.semaphores.len(),
		"command buffer":  d.commandBuffers.len(),
		"render pass":     d.renderPasses.len(),
		"framebuffer":     d.framebuffers.len(),
		"pipeline":        d.pipelines.len(),
		"swapchain":       d.swapchains.len(),
		"set layout":      d.setLayouts.len(),
		"descriptor pool": d.descriptorPools.len(),
	}
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	return counts
}
