package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	Width  uint32
	Height uint32
	Format gpu.Format
	// Swapchain images belong to their swapchain.
	swapchain gpu.Swapchain
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, errors.Newf("image size must be non zero, got %dx%d", desc.Width, desc.Height)
	}
	imageType := vk.ImageType2d
	depth := desc.Depth
	if depth == 0 {
		depth = 1
	}
	if depth > 1 {
		imageType = vk.ImageType3d
	}
	full := gpu.FullRange(desc)

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  depth,
		},
		MipLevels:     full.MipCount,
		ArrayLayers:   full.LayerCount,
		Format:        toVkFormat(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         toVkImageUsage(desc.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if desc.Cube {
		createInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	var handle vk.Image
	if res := vk.CreateImage(d.LogicalDevice, &createInfo, d.Allocator, &handle); res != vk.Success {
		return 0, resultError(res, "vkCreateImage")
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, handle, &requirements)
	memory, err := d.allocateMemory(requirements, desc.Memory)
	if err != nil {
		vk.DestroyImage(d.LogicalDevice, handle, d.Allocator)
		return 0, errors.Wrapf(err, "allocating memory for %dx%d image", desc.Width, desc.Height)
	}
	if res := vk.BindImageMemory(d.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(d.LogicalDevice, memory, d.Allocator)
		vk.DestroyImage(d.LogicalDevice, handle, d.Allocator)
		return 0, resultError(res, "vkBindImageMemory")
	}

	return d.images.add(&VulkanImage{
		Handle: handle,
		Memory: memory,
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
	}), nil
}

func (d *Device) DestroyImage(img gpu.Image) {
	image, ok := d.images.get(img)
	if !ok {
		core.LogWarn("destroying unknown image %d", img)
		return
	}
	if image.swapchain != 0 {
		core.LogError("image %d belongs to swapchain %d and cannot be destroyed", img, image.swapchain)
		return
	}
	d.images.remove(img)
	vk.DestroyImage(d.LogicalDevice, image.Handle, d.Allocator)
	vk.FreeMemory(d.LogicalDevice, image.Memory, d.Allocator)
}

func (d *Device) CreateImageView(desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	image, ok := d.images.get(desc.Image)
	if !ok {
		return 0, errors.Newf("unknown image %d", desc.Image)
	}
	viewType := vk.ImageViewType2d
	switch {
	case desc.Cube:
		viewType = vk.ImageViewTypeCube
	case desc.Range.LayerCount > 1:
		viewType = vk.ImageViewType2dArray
	}
	format := desc.Format
	if format == gpu.FormatUndefined {
		format = image.Format
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: viewType,
		Format:   toVkFormat(format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     toVkAspect(desc.Range.Aspect),
			BaseMipLevel:   desc.Range.BaseMip,
			LevelCount:     desc.Range.MipCount,
			BaseArrayLayer: desc.Range.BaseLayer,
			LayerCount:     desc.Range.LayerCount,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.LogicalDevice, &viewInfo, d.Allocator, &view); res != vk.Success {
		return 0, resultError(res, "vkCreateImageView")
	}
	return d.views.add(view), nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) {
	view, ok := d.views.remove(v)
	if !ok {
		core.LogWarn("destroying unknown image view %d", v)
		return
	}
	vk.DestroyImageView(d.LogicalDevice, view, d.Allocator)
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	address := toVkAddressMode(desc.AddressMode)
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               toVkFilter(desc.MagFilter),
		MinFilter:               toVkFilter(desc.MinFilter),
		AddressModeU:            address,
		AddressModeV:            address,
		AddressModeW:            address,
		AnisotropyEnable:        vk.False,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MaxLod:                  vk.LodClampNone,
	}
	if desc.MaxAnisotropy > 0 && d.Features.SamplerAnisotropy == vk.True {
		limits := d.Properties.Limits
		limits.Deref()
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = min(desc.MaxAnisotropy, limits.MaxSamplerAnisotropy)
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(d.LogicalDevice, &samplerInfo, d.Allocator, &sampler); res != vk.Success {
		return 0, resultError(res, "vkCreateSampler")
	}
	return d.samplers.add(sampler), nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	sampler, ok := d.samplers.remove(s)
	if !ok {
		core.LogWarn("destroying unknown sampler %d", s)
		return
	}
	vk.DestroySampler(d.LogicalDevice, sampler, d.Allocator)
}
