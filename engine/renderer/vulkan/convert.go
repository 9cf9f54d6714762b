package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:       vk.FormatUndefined,
	gpu.FormatRGBA8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatRGBA8Srgb:       vk.FormatR8g8b8a8Srgb,
	gpu.FormatBGRA8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatBGRA8Srgb:       vk.FormatB8g8r8a8Srgb,
	gpu.FormatRGBA16Sfloat:    vk.FormatR16g16b16a16Sfloat,
	gpu.FormatRGBA32Sfloat:    vk.FormatR32g32b32a32Sfloat,
	gpu.FormatR32Sfloat:       vk.FormatR32Sfloat,
	gpu.FormatRG32Sfloat:      vk.FormatR32g32Sfloat,
	gpu.FormatRGB32Sfloat:     vk.FormatR32g32b32Sfloat,
	gpu.FormatD32Sfloat:       vk.FormatD32Sfloat,
	gpu.FormatD32SfloatS8Uint: vk.FormatD32SfloatS8Uint,
	gpu.FormatD24UnormS8Uint:  vk.FormatD24UnormS8Uint,
}

func toVkFormat(f gpu.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromVkFormat reports false for formats the engine has no name for.
func fromVkFormat(f vk.Format) (gpu.Format, bool) {
	for k, v := range formats {
		if v == f && k != gpu.FormatUndefined {
			return k, true
		}
	}
	return gpu.FormatUndefined, false
}

func toVkColorSpace(c gpu.ColorSpace) vk.ColorSpace {
	return vk.ColorSpaceSrgbNonlinear
}

func fromVkColorSpace(c vk.ColorSpace) (gpu.ColorSpace, bool) {
	if c == vk.ColorSpaceSrgbNonlinear {
		return gpu.ColorSpaceSRGBNonlinear, true
	}
	return 0, false
}

func toVkPresentMode(p gpu.PresentMode) vk.PresentMode {
	switch p {
	case gpu.PresentModeImmediate:
		return vk.PresentModeImmediate
	case gpu.PresentModeMailbox:
		return vk.PresentModeMailbox
	case gpu.PresentModeFifoRelaxed:
		return vk.PresentModeFifoRelaxed
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(p vk.PresentMode) (gpu.PresentMode, bool) {
	switch p {
	case vk.PresentModeImmediate:
		return gpu.PresentModeImmediate, true
	case vk.PresentModeMailbox:
		return gpu.PresentModeMailbox, true
	case vk.PresentModeFifo:
		return gpu.PresentModeFifo, true
	case vk.PresentModeFifoRelaxed:
		return gpu.PresentModeFifoRelaxed, true
	}
	return 0, false
}

func toVkLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// Access, stage, aspect, image usage and memory bits share their values
// with Vulkan; buffer usage does not.
func toVkAccess(a gpu.Access) vk.AccessFlags {
	return vk.AccessFlags(a)
}

func toVkSrcStage(s gpu.PipelineStage) vk.PipelineStageFlags {
	if s == gpu.StageNone {
		return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return vk.PipelineStageFlags(s)
}

func toVkDstStage(s gpu.PipelineStage) vk.PipelineStageFlags {
	if s == gpu.StageNone {
		return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return vk.PipelineStageFlags(s)
}

func toVkAspect(a gpu.Aspect) vk.ImageAspectFlags {
	return vk.ImageAspectFlags(a)
}

func toVkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	return vk.ImageUsageFlags(u)
}

func toVkMemory(m gpu.MemoryFlags) vk.MemoryPropertyFlags {
	return vk.MemoryPropertyFlags(m)
}

func toVkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&gpu.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&gpu.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(out)
}

func toVkFilter(f gpu.Filter) vk.Filter {
	if f == gpu.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func toVkAddressMode(m gpu.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gpu.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case gpu.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	}
	return vk.SamplerAddressModeRepeat
}

func toVkLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gpu.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpClear
}

func toVkIndexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func toVkExtent(e gpu.Extent) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func fromVkExtent(e vk.Extent2D) gpu.Extent {
	return gpu.Extent{Width: e.Width, Height: e.Height}
}

func toVkRect(r gpu.Rect) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: toVkExtent(r.Extent),
	}
}

func toVkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	}
	return vk.DescriptorTypeCombinedImageSampler
}

func toVkShaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&gpu.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(out)
}
