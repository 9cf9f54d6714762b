package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanRenderpass struct {
	Handle   vk.RenderPass
	HasDepth bool
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	attachmentDescriptions := []vk.AttachmentDescription{{
		Format:         toVkFormat(desc.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         toVkLoadOp(desc.ColorLoad),
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  toVkLayout(desc.ColorInitialLayout),
		FinalLayout:    toVkLayout(desc.ColorFinalLayout),
	}}

	subpass.ColorAttachmentCount = 1
	subpass.PColorAttachments = []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)

	if desc.HasDepth() {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         toVkFormat(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  toVkLayout(desc.DepthInitialLayout),
			FinalLayout:    toVkLayout(desc.DepthFinalLayout),
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: access,
	}

	dependencies := []vk.SubpassDependency{dependency}
	if desc.ColorFinalLayout == gpu.LayoutShaderReadOnly {
		// make the final layout transition visible to later sampling
		dependencies = append(dependencies, vk.SubpassDependency{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		})
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(d.LogicalDevice, &renderpassCreateInfo, d.Allocator, &handle); res != vk.Success {
		return 0, resultError(res, "vkCreateRenderPass")
	}
	return d.renderPasses.add(&VulkanRenderpass{Handle: handle, HasDepth: desc.HasDepth()}), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	v, ok := d.renderPasses.remove(rp)
	if !ok {
		core.LogWarn("destroying unknown render pass %d", rp)
		return
	}
	if v.Handle != nil {
		vk.DestroyRenderPass(d.LogicalDevice, v.Handle, d.Allocator)
		v.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer vk.Framebuffer, begin gpu.RenderPassBegin) {
	clearValues := make([]vk.ClearValue, 1, 2)
	clearValues[0].SetColor(begin.ClearColor[:])
	if vr.HasDepth {
		var depth vk.ClearValue
		depth.SetDepthStencil(begin.ClearDepth, begin.ClearStencil)
		clearValues = append(clearValues, depth)
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      vr.Handle,
		Framebuffer:     frameBuffer,
		RenderArea:      toVkRect(begin.Area),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}
