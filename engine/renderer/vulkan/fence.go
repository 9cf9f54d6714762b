package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: signaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var handle vk.Fence
	if res := vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.Allocator, &handle); res != vk.Success {
		return 0, resultError(res, "vkCreateFence")
	}
	fence.Handle = handle
	return d.fences.add(fence), nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	fence, ok := d.fences.remove(f)
	if !ok {
		core.LogWarn("destroying unknown fence %d", f)
		return
	}
	if fence.Handle != nil {
		vk.DestroyFence(d.LogicalDevice, fence.Handle, d.Allocator)
		fence.Handle = nil
	}
	fence.IsSignaled = false
}

func (d *Device) WaitFence(f gpu.Fence, timeout time.Duration) (bool, error) {
	fence, ok := d.fences.get(f)
	if !ok {
		return false, errors.Newf("unknown fence %d", f)
	}
	// If already signaled, do not wait.
	if fence.IsSignaled {
		return true, nil
	}
	result := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{fence.Handle}, vk.True, timeoutNanos(timeout))
	switch result {
	case vk.Success:
		fence.IsSignaled = true
		return true, nil
	case vk.Timeout:
		return false, nil
	}
	return false, resultError(result, "vkWaitForFences")
}

func (d *Device) ResetFence(f gpu.Fence) error {
	fence, ok := d.fences.get(f)
	if !ok {
		return errors.Newf("unknown fence %d", f)
	}
	if !fence.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{fence.Handle}); res != vk.Success {
		return resultError(res, "vkResetFences")
	}
	fence.IsSignaled = false
	return nil
}

// fenceHandle returns the native fence that a queue operation will signal.
func (d *Device) fenceHandle(f gpu.Fence) (*VulkanFence, error) {
	if f == 0 {
		return nil, nil
	}
	fence, ok := d.fences.get(f)
	if !ok {
		return nil, errors.Newf("unknown fence %d", f)
	}
	if fence.IsSignaled {
		return nil, errors.Newf("fence %d is still signaled", f)
	}
	return fence, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.Allocator, &semaphore); res != vk.Success {
		return 0, resultError(res, "vkCreateSemaphore")
	}
	return d.semaphores.add(semaphore), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	semaphore, ok := d.semaphores.remove(s)
	if !ok {
		core.LogWarn("destroying unknown semaphore %d", s)
		return
	}
	vk.DestroySemaphore(d.LogicalDevice, semaphore, d.Allocator)
}

func (d *Device) semaphoreHandles(list []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(list))
	for _, s := range list {
		semaphore, ok := d.semaphores.get(s)
		if !ok {
			return nil, errors.Newf("unknown semaphore %d", s)
		}
		out = append(out, semaphore)
	}
	return out, nil
}
