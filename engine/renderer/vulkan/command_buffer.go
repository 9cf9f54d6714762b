package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.GraphicsCommandPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError(vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers")
	})
	if err != nil {
		return 0, err
	}
	return d.commandBuffers.add(&VulkanCommandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
	}), nil
}

func (d *Device) FreeCommandBuffer(cb gpu.CommandBuffer) {
	v, ok := d.commandBuffers.remove(cb)
	if !ok {
		core.LogWarn("freeing unknown command buffer %d", cb)
		return
	}
	_ = d.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(d.LogicalDevice, d.GraphicsCommandPool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, oneTimeSubmit bool) error {
	v, ok := d.commandBuffers.get(cb)
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return resultError(res, "vkBeginCommandBuffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	v, ok := d.commandBuffers.get(cb)
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError(res, "vkEndCommandBuffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	v, ok := d.commandBuffers.get(cb)
	if !ok {
		return errors.Newf("unknown command buffer %d", cb)
	}
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return resultError(res, "vkResetCommandBuffer")
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	v, ok := d.commandBuffers.get(info.CommandBuffer)
	if !ok {
		return errors.Newf("unknown command buffer %d", info.CommandBuffer)
	}
	if v.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return errors.Newf("command buffer %d is not executable", info.CommandBuffer)
	}
	wait, err := d.semaphoreHandles(info.Wait)
	if err != nil {
		return err
	}
	signal, err := d.semaphoreHandles(info.Signal)
	if err != nil {
		return err
	}
	fence, err := d.fenceHandle(info.Fence)
	if err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{v.Handle},
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if len(wait) > 0 {
		stages := make([]vk.PipelineStageFlags, len(wait))
		for i := range stages {
			stage := gpu.StageColorAttachmentOutput
			if i < len(info.WaitStages) {
				stage = info.WaitStages[i]
			}
			stages[i] = toVkDstStage(stage)
		}
		submitInfo.PWaitDstStageMask = stages
	}

	vkFence := vk.NullFence
	if fence != nil {
		vkFence = fence.Handle
	}
	err = d.locks.SafeQueueCall(d.GraphicsQueueIndex, func() error {
		return resultError(vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vkFence), "vkQueueSubmit")
	})
	if err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}

func (d *Device) CmdImageBarrier(cb gpu.CommandBuffer, barrier gpu.ImageBarrier) {
	v := d.commandBuffer(cb)
	image := d.image(barrier.Image)
	imageBarrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       toVkAccess(barrier.SrcAccess),
		DstAccessMask:       toVkAccess(barrier.DstAccess),
		OldLayout:           toVkLayout(barrier.OldLayout),
		NewLayout:           toVkLayout(barrier.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     toVkAspect(barrier.Range.Aspect),
			BaseMipLevel:   barrier.Range.BaseMip,
			LevelCount:     barrier.Range.MipCount,
			BaseArrayLayer: barrier.Range.BaseLayer,
			LayerCount:     barrier.Range.LayerCount,
		},
	}
	vk.CmdPipelineBarrier(v.Handle,
		toVkSrcStage(barrier.SrcStage), toVkDstStage(barrier.DstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{imageBarrier})
}

func (d *Device) CmdCopyBuffer(cb gpu.CommandBuffer, src, dst gpu.Buffer, size uint64) {
	v := d.commandBuffer(cb)
	region := vk.BufferCopy{Size: vk.DeviceSize(size)}
	vk.CmdCopyBuffer(v.Handle, d.buffer(src).Handle, d.buffer(dst).Handle, 1, []vk.BufferCopy{region})
}

func (d *Device) CmdCopyBufferToImage(cb gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, region gpu.BufferImageCopy) {
	v := d.commandBuffer(cb)
	copyRegion := vk.BufferImageCopy{
		BufferOffset: vk.DeviceSize(region.BufferOffset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     toVkAspect(region.Aspect),
			MipLevel:       region.MipLevel,
			BaseArrayLayer: region.BaseLayer,
			LayerCount:     region.LayerCount,
		},
		ImageOffset: vk.Offset3D{X: region.OffsetX, Y: region.OffsetY, Z: region.OffsetZ},
		ImageExtent: vk.Extent3D{Width: region.Width, Height: region.Height, Depth: max(region.Depth, 1)},
	}
	vk.CmdCopyBufferToImage(v.Handle, d.buffer(src).Handle, d.image(dst).Handle, toVkLayout(layout), 1, []vk.BufferImageCopy{copyRegion})
}

func (d *Device) CmdBlitImage(cb gpu.CommandBuffer, src gpu.Image, srcLayout gpu.ImageLayout, srcExtent gpu.Extent, dst gpu.Image, dstLayout gpu.ImageLayout, dstExtent gpu.Extent) {
	v := d.commandBuffer(cb)
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	blit := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets: [2]vk.Offset3D{
			{},
			{X: int32(srcExtent.Width), Y: int32(srcExtent.Height), Z: 1},
		},
		DstSubresource: layers,
		DstOffsets: [2]vk.Offset3D{
			{},
			{X: int32(dstExtent.Width), Y: int32(dstExtent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(v.Handle,
		d.image(src).Handle, toVkLayout(srcLayout),
		d.image(dst).Handle, toVkLayout(dstLayout),
		1, []vk.ImageBlit{blit}, vk.FilterLinear)
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	v := d.commandBuffer(cb)
	rp, ok := d.renderPasses.get(begin.RenderPass)
	if !ok {
		core.Fatalf("unknown render pass %d", begin.RenderPass)
	}
	fb, ok := d.framebuffers.get(begin.Framebuffer)
	if !ok {
		core.Fatalf("unknown framebuffer %d", begin.Framebuffer)
	}
	rp.RenderpassBegin(v, fb.Handle, begin)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	v := d.commandBuffer(cb)
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (d *Device) CmdSetViewport(cb gpu.CommandBuffer, viewport gpu.Viewport) {
	v := d.commandBuffer(cb)
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (d *Device) CmdSetScissor(cb gpu.CommandBuffer, scissor gpu.Rect) {
	v := d.commandBuffer(cb)
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{toVkRect(scissor)})
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	v := d.commandBuffer(cb)
	d.pipeline(p).Bind(v, vk.PipelineBindPointGraphics)
}

func (d *Device) CmdPushConstants(cb gpu.CommandBuffer, p gpu.Pipeline, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	v := d.commandBuffer(cb)
	pipeline := d.pipeline(p)
	vk.CmdPushConstants(v.Handle, pipeline.PipelineLayout, pipeline.PushConstantStages,
		offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *Device) CmdBindVertexBuffers(cb gpu.CommandBuffer, firstBinding uint32, buffers []gpu.Buffer, offsets []uint64) {
	v := d.commandBuffer(cb)
	handles := make([]vk.Buffer, len(buffers))
	deviceOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = d.buffer(b).Handle
		if i < len(offsets) {
			deviceOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(v.Handle, firstBinding, uint32(len(handles)), handles, deviceOffsets)
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, b gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	v := d.commandBuffer(cb)
	vk.CmdBindIndexBuffer(v.Handle, d.buffer(b).Handle, vk.DeviceSize(offset), toVkIndexType(indexType))
}

func (d *Device) CmdDraw(cb gpu.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	v := d.commandBuffer(cb)
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	v := d.commandBuffer(cb)
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
