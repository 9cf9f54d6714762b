package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat gpu.SurfaceFormat
	Extent      gpu.Extent
	// Images are registered in the image table but owned by the swapchain.
	Images []gpu.Image
}

func (d *Device) SurfaceInfo() (gpu.SurfaceInfo, error) {
	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.Surface, &capabilities); res != vk.Success {
		return gpu.SurfaceInfo{}, resultError(res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR")
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	info := gpu.SurfaceInfo{
		MinImageCount: capabilities.MinImageCount,
		MaxImageCount: capabilities.MaxImageCount,
		CurrentExtent: fromVkExtent(capabilities.CurrentExtent),
		MinExtent:     fromVkExtent(capabilities.MinImageExtent),
		MaxExtent:     fromVkExtent(capabilities.MaxImageExtent),
	}

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(d.PhysicalDevice, d.Surface, &formatCount, nil); res != vk.Success {
		return gpu.SurfaceInfo{}, resultError(res, "vkGetPhysicalDeviceSurfaceFormatsKHR")
	}
	if formatCount != 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(d.PhysicalDevice, d.Surface, &formatCount, formats); res != vk.Success {
			return gpu.SurfaceInfo{}, resultError(res, "vkGetPhysicalDeviceSurfaceFormatsKHR")
		}
		for _, f := range formats {
			f.Deref()
			format, ok := fromVkFormat(f.Format)
			if !ok {
				continue
			}
			colorSpace, ok := fromVkColorSpace(f.ColorSpace)
			if !ok {
				continue
			}
			info.Formats = append(info.Formats, gpu.SurfaceFormat{Format: format, ColorSpace: colorSpace})
		}
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(d.PhysicalDevice, d.Surface, &presentModeCount, nil); res != vk.Success {
		return gpu.SurfaceInfo{}, resultError(res, "vkGetPhysicalDeviceSurfacePresentModesKHR")
	}
	if presentModeCount != 0 {
		modes := make([]vk.PresentMode, presentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(d.PhysicalDevice, d.Surface, &presentModeCount, modes); res != vk.Success {
			return gpu.SurfaceInfo{}, resultError(res, "vkGetPhysicalDeviceSurfacePresentModesKHR")
		}
		for _, m := range modes {
			if mode, ok := fromVkPresentMode(m); ok {
				info.PresentModes = append(info.PresentModes, mode)
			}
		}
	}

	return info, nil
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.PhysicalDevice, d.Surface, &capabilities); res != vk.Success {
		return 0, resultError(res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR")
	}
	capabilities.Deref()

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.Surface,
		MinImageCount:    desc.ImageCount,
		ImageFormat:      toVkFormat(desc.Format.Format),
		ImageColorSpace:  toVkColorSpace(desc.Format.ColorSpace),
		ImageExtent:      toVkExtent(desc.Extent),
		ImageArrayLayers: 1,
		// Transfer destination allows compositing with a blit.
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
	}

	// Setup the queue family indices
	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{d.GraphicsQueueIndex, d.PresentQueueIndex}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = toVkPresentMode(desc.PresentMode)
	swapchainCreateInfo.Clipped = vk.True
	if desc.Old != 0 {
		old, ok := d.swapchains.get(desc.Old)
		if !ok {
			return 0, errors.Newf("unknown old swapchain %d", desc.Old)
		}
		swapchainCreateInfo.OldSwapchain = old.Handle
	}

	var swapchainHandle vk.Swapchain
	if err := d.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.Allocator, &swapchainHandle); res != vk.Success {
			return resultError(res, "vkCreateSwapchainKHR")
		}
		return nil
	}); err != nil {
		return 0, err
	}

	swapchain := &VulkanSwapchain{
		Handle:      swapchainHandle,
		ImageFormat: desc.Format,
		Extent:      desc.Extent,
	}

	var imageCount uint32
	if res := vk.GetSwapchainImages(d.LogicalDevice, swapchainHandle, &imageCount, nil); res != vk.Success {
		vk.DestroySwapchain(d.LogicalDevice, swapchainHandle, d.Allocator)
		return 0, resultError(res, "vkGetSwapchainImagesKHR")
	}
	images := make([]vk.Image, imageCount)
	if res := vk.GetSwapchainImages(d.LogicalDevice, swapchainHandle, &imageCount, images); res != vk.Success {
		vk.DestroySwapchain(d.LogicalDevice, swapchainHandle, d.Allocator)
		return 0, resultError(res, "vkGetSwapchainImagesKHR")
	}

	id := d.swapchains.add(swapchain)
	swapchain.Images = make([]gpu.Image, 0, imageCount)
	for _, img := range images[:imageCount] {
		swapchain.Images = append(swapchain.Images, d.images.add(&VulkanImage{
			Handle:    img,
			Width:     desc.Extent.Width,
			Height:    desc.Extent.Height,
			Format:    desc.Format.Format,
			swapchain: id,
		}))
	}

	core.LogInfo("Swapchain created: %d images %dx%d %s %s", imageCount,
		desc.Extent.Width, desc.Extent.Height, desc.Format.Format, desc.PresentMode)
	return id, nil
}

// DestroySwapchain destroys the swapchain and forgets its images. Views
// created over those images must already be destroyed.
func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	swapchain, ok := d.swapchains.remove(sc)
	if !ok {
		core.LogWarn("destroying unknown swapchain %d", sc)
		return
	}
	for _, img := range swapchain.Images {
		d.images.remove(img)
	}
	swapchain.Images = nil
	_ = d.locks.SafeCall(SwapchainManagement, func() error {
		vk.DestroySwapchain(d.LogicalDevice, swapchain.Handle, d.Allocator)
		return nil
	})
	swapchain.Handle = nil
}

func (d *Device) SwapchainImages(sc gpu.Swapchain) ([]gpu.Image, error) {
	swapchain, ok := d.swapchains.get(sc)
	if !ok {
		return nil, errors.Newf("unknown swapchain %d", sc)
	}
	out := make([]gpu.Image, len(swapchain.Images))
	copy(out, swapchain.Images)
	return out, nil
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout time.Duration, f gpu.Fence) (uint32, gpu.Status, error) {
	swapchain, ok := d.swapchains.get(sc)
	if !ok {
		return 0, gpu.StatusSuccess, errors.Newf("unknown swapchain %d", sc)
	}
	fence, err := d.fenceHandle(f)
	if err != nil {
		return 0, gpu.StatusSuccess, err
	}
	var vkFence vk.Fence
	if fence != nil {
		vkFence = fence.Handle
	}

	var imageIndex uint32
	result := vk.AcquireNextImage(d.LogicalDevice, swapchain.Handle, timeoutNanos(timeout), vk.NullSemaphore, vkFence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		status := gpu.StatusSuccess
		if result == vk.Suboptimal {
			status = gpu.StatusSuboptimal
		}
		return imageIndex, status, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.StatusOutOfDate, nil
	case vk.Timeout, vk.NotReady:
		return 0, gpu.StatusTimeout, nil
	default:
		return 0, gpu.StatusSuccess, resultError(result, "vkAcquireNextImageKHR")
	}
}

func (d *Device) Present(sc gpu.Swapchain, imageIndex uint32, wait []gpu.Semaphore) (gpu.Status, error) {
	swapchain, ok := d.swapchains.get(sc)
	if !ok {
		return gpu.StatusSuccess, errors.Newf("unknown swapchain %d", sc)
	}
	waitSemaphores, err := d.semaphoreHandles(wait)
	if err != nil {
		return gpu.StatusSuccess, err
	}

	// Return the image to the swapchain for presentation.
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitSemaphores)),
		PWaitSemaphores:    waitSemaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{swapchain.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	var result vk.Result
	_ = d.locks.SafeQueueCall(d.PresentQueueIndex, func() error {
		result = vk.QueuePresent(d.PresentQueue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return gpu.StatusSuccess, nil
	case vk.Suboptimal:
		return gpu.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.StatusOutOfDate, nil
	default:
		return gpu.StatusSuccess, resultError(result, "vkQueuePresentKHR")
	}
}
