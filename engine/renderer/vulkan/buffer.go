package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	// non-nil while mapped
	mapped unsafe.Pointer
}

// allocateMemory allocates and returns memory satisfying requirements.
// Each resource gets its own allocation.
func (d *Device) allocateMemory(requirements vk.MemoryRequirements, flags gpu.MemoryFlags) (vk.DeviceMemory, error) {
	requirements.Deref()
	index, err := d.FindMemoryIndex(requirements.MemoryTypeBits, toVkMemory(flags))
	if err != nil {
		return nil, err
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: index,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.Allocator, &memory); res != vk.Success {
		return nil, resultError(res, "vkAllocateMemory")
	}
	return memory, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return 0, errors.New("buffer size must be non zero")
	}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(d.LogicalDevice, &createInfo, d.Allocator, &handle); res != vk.Success {
		return 0, resultError(res, "vkCreateBuffer")
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, handle, &requirements)
	memory, err := d.allocateMemory(requirements, desc.Memory)
	if err != nil {
		vk.DestroyBuffer(d.LogicalDevice, handle, d.Allocator)
		return 0, errors.Wrapf(err, "allocating %d bytes for buffer", desc.Size)
	}
	if res := vk.BindBufferMemory(d.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(d.LogicalDevice, memory, d.Allocator)
		vk.DestroyBuffer(d.LogicalDevice, handle, d.Allocator)
		return 0, resultError(res, "vkBindBufferMemory")
	}

	return d.buffers.add(&VulkanBuffer{Handle: handle, Memory: memory, Size: desc.Size}), nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	buffer, ok := d.buffers.remove(b)
	if !ok {
		core.LogWarn("destroying unknown buffer %d", b)
		return
	}
	if buffer.mapped != nil {
		vk.UnmapMemory(d.LogicalDevice, buffer.Memory)
	}
	vk.DestroyBuffer(d.LogicalDevice, buffer.Handle, d.Allocator)
	vk.FreeMemory(d.LogicalDevice, buffer.Memory, d.Allocator)
}

func (d *Device) MapBuffer(b gpu.Buffer) ([]byte, error) {
	buffer, ok := d.buffers.get(b)
	if !ok {
		return nil, errors.Newf("unknown buffer %d", b)
	}
	if buffer.mapped == nil {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(d.LogicalDevice, buffer.Memory, 0, vk.DeviceSize(buffer.Size), 0, &ptr); res != vk.Success {
			return nil, resultError(res, "vkMapMemory")
		}
		buffer.mapped = ptr
	}
	return unsafe.Slice((*byte)(buffer.mapped), buffer.Size), nil
}

func (d *Device) UnmapBuffer(b gpu.Buffer) {
	buffer, ok := d.buffers.get(b)
	if !ok || buffer.mapped == nil {
		return
	}
	vk.UnmapMemory(d.LogicalDevice, buffer.Memory)
	buffer.mapped = nil
}
