package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

/**
 * @brief A descriptor set layout and the bindings it was created with.
 */
type VulkanDescriptorSetLayout struct {
	Handle   vk.DescriptorSetLayout
	Bindings []gpu.DescriptorBinding
}

/**
 * @brief A descriptor pool and the ids of the sets allocated from it.
 */
type VulkanDescriptorPool struct {
	Handle vk.DescriptorPool
	Sets   []gpu.DescriptorSet
}

/**
 * @brief A descriptor set allocated from a pool.
 */
type VulkanDescriptorSet struct {
	Handle vk.DescriptorSet
	Pool   gpu.DescriptorPool
	Layout *VulkanDescriptorSetLayout
}

func (d *Device) CreateDescriptorSetLayout(desc gpu.DescriptorSetLayoutDesc) (gpu.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, b := range desc.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      toVkShaderStages(b.Stages),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	out := &VulkanDescriptorSetLayout{Bindings: append([]gpu.DescriptorBinding(nil), desc.Bindings...)}
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.DescriptorSetLayout
		result := vk.CreateDescriptorSetLayout(d.LogicalDevice, &createInfo, d.Allocator, &layout)
		if !VulkanResultIsSuccess(result) {
			return resultError(result, "vkCreateDescriptorSetLayout")
		}
		out.Handle = layout
		return nil
	}); err != nil {
		return 0, errors.Wrapf(err, "descriptor set layout %s", desc.Name)
	}
	core.LogDebug("Descriptor set layout %s created with %d bindings", desc.Name, len(bindings))
	return d.setLayouts.add(out), nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	layout, ok := d.setLayouts.remove(l)
	if !ok {
		core.LogWarn("destroying unknown descriptor set layout %d", l)
		return
	}
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyDescriptorSetLayout(d.LogicalDevice, layout.Handle, d.Allocator)
		return nil
	})
}

func (d *Device) CreateDescriptorPool(desc gpu.DescriptorPoolDesc) (gpu.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(desc.Sizes))
	for i, s := range desc.Sizes {
		sizes[i] = vk.DescriptorPoolSize{
			Type:            toVkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}

	out := &VulkanDescriptorPool{}
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		var pool vk.DescriptorPool
		result := vk.CreateDescriptorPool(d.LogicalDevice, &createInfo, d.Allocator, &pool)
		if !VulkanResultIsSuccess(result) {
			return resultError(result, "vkCreateDescriptorPool")
		}
		out.Handle = pool
		return nil
	}); err != nil {
		return 0, err
	}
	return d.descriptorPools.add(out), nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	pool, ok := d.descriptorPools.remove(p)
	if !ok {
		core.LogWarn("destroying unknown descriptor pool %d", p)
		return
	}
	d.forgetSets(pool)
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyDescriptorPool(d.LogicalDevice, pool.Handle, d.Allocator)
		return nil
	})
}

func (d *Device) ResetDescriptorPool(p gpu.DescriptorPool) error {
	pool, ok := d.descriptorPools.get(p)
	if !ok {
		return errors.Newf("unknown descriptor pool %d", p)
	}
	d.forgetSets(pool)
	return d.locks.SafeCall(PipelineManagement, func() error {
		result := vk.ResetDescriptorPool(d.LogicalDevice, pool.Handle, 0)
		if !VulkanResultIsSuccess(result) {
			return resultError(result, "vkResetDescriptorPool")
		}
		return nil
	})
}

func (d *Device) forgetSets(pool *VulkanDescriptorPool) {
	for _, s := range pool.Sets {
		d.descriptorSets.remove(s)
	}
	pool.Sets = pool.Sets[:0]
}

func (d *Device) AllocateDescriptorSet(p gpu.DescriptorPool, l gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	pool, ok := d.descriptorPools.get(p)
	if !ok {
		return 0, errors.Newf("unknown descriptor pool %d", p)
	}
	layout, ok := d.setLayouts.get(l)
	if !ok {
		return 0, errors.Newf("unknown descriptor set layout %d", l)
	}
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}

	var set vk.DescriptorSet
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		result := vk.AllocateDescriptorSets(d.LogicalDevice, &allocateInfo, &set)
		if !VulkanResultIsSuccess(result) {
			return resultError(result, "vkAllocateDescriptorSets")
		}
		return nil
	}); err != nil {
		return 0, err
	}
	id := d.descriptorSets.add(&VulkanDescriptorSet{Handle: set, Pool: p, Layout: layout})
	pool.Sets = append(pool.Sets, id)
	return id, nil
}

func (d *Device) UpdateDescriptorSet(s gpu.DescriptorSet, writes []gpu.DescriptorWrite) error {
	set, ok := d.descriptorSets.get(s)
	if !ok {
		return errors.Newf("unknown descriptor set %d", s)
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if w.Count() == 0 {
			continue
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  toVkDescriptorType(w.Type),
			DescriptorCount: uint32(w.Count()),
		}
		switch w.Type {
		case gpu.DescriptorCombinedImageSampler:
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, img := range w.Images {
				view, ok := d.views.get(img.View)
				if !ok {
					return errors.Newf("binding %d: unknown image view %d", w.Binding, img.View)
				}
				sampler, ok := d.samplers.get(img.Sampler)
				if !ok {
					return errors.Newf("binding %d: unknown sampler %d", w.Binding, img.Sampler)
				}
				infos[i] = vk.DescriptorImageInfo{
					Sampler:     sampler,
					ImageView:   view,
					ImageLayout: toVkLayout(img.Layout),
				}
			}
			write.PImageInfo = infos
		default:
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for i, b := range w.Buffers {
				buffer, ok := d.buffers.get(b.Buffer)
				if !ok {
					return errors.Newf("binding %d: unknown buffer %d", w.Binding, b.Buffer)
				}
				rng := vk.DeviceSize(vk.WholeSize)
				if b.Range > 0 {
					rng = vk.DeviceSize(b.Range)
				}
				infos[i] = vk.DescriptorBufferInfo{
					Buffer: buffer.Handle,
					Offset: vk.DeviceSize(b.Offset),
					Range:  rng,
				}
			}
			write.PBufferInfo = infos
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) == 0 {
		return nil
	}
	vk.UpdateDescriptorSets(d.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
	return nil
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, p gpu.Pipeline, firstSet uint32, sets []gpu.DescriptorSet) {
	if len(sets) == 0 {
		return
	}
	v := d.commandBuffer(cb)
	pipeline := d.pipeline(p)
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		set, ok := d.descriptorSets.get(s)
		if !ok {
			core.Fatalf("unknown descriptor set %d", s)
		}
		handles[i] = set.Handle
	}
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointGraphics, pipeline.PipelineLayout,
		firstSet, uint32(len(handles)), handles, 0, nil)
}
