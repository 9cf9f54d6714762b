package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
}

func (d *Device) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	renderpass, ok := d.renderPasses.get(desc.RenderPass)
	if !ok {
		return 0, errors.Newf("unknown render pass %d", desc.RenderPass)
	}
	outFramebuffer := &VulkanFramebuffer{
		Attachments: make([]vk.ImageView, len(desc.Attachments)),
		Renderpass:  renderpass,
	}
	for i, a := range desc.Attachments {
		view, ok := d.views.get(a)
		if !ok {
			return 0, errors.Newf("unknown image view %d", a)
		}
		outFramebuffer.Attachments[i] = view
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(d.LogicalDevice, &framebufferCreateInfo, d.Allocator, &handle); res != vk.Success {
		return 0, resultError(res, "vkCreateFramebuffer")
	}
	outFramebuffer.Handle = handle
	return d.framebuffers.add(outFramebuffer), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	vfb, ok := d.framebuffers.remove(fb)
	if !ok {
		core.LogWarn("destroying unknown framebuffer %d", fb)
		return
	}
	vk.DestroyFramebuffer(d.LogicalDevice, vfb.Handle, d.Allocator)
	vfb.Attachments = nil
	vfb.Handle = nil
	vfb.Renderpass = nil
}
