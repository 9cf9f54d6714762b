package renderer

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

// Bindings of the scene descriptor set.
const (
	SCENE_BINDING_UNIFORMS   uint32 = 0
	SCENE_BINDING_IRRADIANCE uint32 = 1
	SCENE_BINDING_PREFILTER  uint32 = 2
	SCENE_BINDING_BRDF_LUT   uint32 = 3
	SCENE_BINDING_MATERIAL   uint32 = 4
	SCENE_BINDING_FACTORS    uint32 = 5
)

// Albedo, normal, metallic roughness and occlusion.
const sceneMaterialTextures = 4

// Smallest per slot pool, in sets.
const sceneMinPoolSets = 16

// view, projection and camera position padded to a vec4
const sceneUniformFloats = 16 + 16 + 4

func sceneSetLayoutDesc() gpu.DescriptorSetLayoutDesc {
	both := gpu.ShaderStageVertex | gpu.ShaderStageFragment
	return gpu.DescriptorSetLayoutDesc{
		Name: "scene",
		Bindings: []gpu.DescriptorBinding{
			{Binding: SCENE_BINDING_UNIFORMS, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: both},
			{Binding: SCENE_BINDING_IRRADIANCE, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: SCENE_BINDING_PREFILTER, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: SCENE_BINDING_BRDF_LUT, Type: gpu.DescriptorCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: SCENE_BINDING_MATERIAL, Type: gpu.DescriptorCombinedImageSampler, Count: sceneMaterialTextures, Stages: gpu.ShaderStageFragment},
			{Binding: SCENE_BINDING_FACTORS, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: gpu.ShaderStageFragment},
		},
	}
}

// sceneBindings owns the scene descriptor set layout, one descriptor pool
// per frame slot and the fallbacks bound in place of missing inputs.
type sceneBindings struct {
	device   gpu.Device
	registry *resources.Registry

	layout  gpu.DescriptorSetLayout
	sampler gpu.Sampler
	pools   []slotPool

	white    resources.ImageHandle
	neutral  resources.ImageHandle
	material resources.BufferHandle

	warnedMaterial bool
}

type slotPool struct {
	pool     gpu.DescriptorPool
	capacity uint32
}

func newSceneBindings(device gpu.Device, registry *resources.Registry) (*sceneBindings, error) {
	b := &sceneBindings{device: device, registry: registry}
	var err error
	if b.layout, err = device.CreateDescriptorSetLayout(sceneSetLayoutDesc()); err != nil {
		return nil, err
	}
	if b.sampler, err = device.CreateSampler(gpu.SamplerDesc{
		MagFilter:   gpu.FilterLinear,
		MinFilter:   gpu.FilterLinear,
		AddressMode: gpu.AddressRepeat,
	}); err != nil {
		device.DestroyDescriptorSetLayout(b.layout)
		return nil, err
	}

	b.white = b.fallbackImage(gpu.ImageDesc{Width: 1, Height: 1}, 0xff, "scene/fallback-white")
	b.neutral = b.fallbackImage(gpu.ImageDesc{Width: 1, Height: 1, Cube: true}, 0x40, "scene/fallback-environment")
	// base color, metallic, roughness
	b.material = registry.CreateBufferWithData(gpu.BufferUsageUniform, gpu.MemoryHostShared,
		resources.F32Data([]float32{1, 1, 1, 1, 0, 1, 0, 0}), "scene/default-material")
	return b, nil
}

// fallbackImage creates a one texel image (six for cubes) filled with v and
// leaves it shader readable.
func (b *sceneBindings) fallbackImage(desc gpu.ImageDesc, v byte, tag string) resources.ImageHandle {
	desc.Format = gpu.FormatRGBA8Unorm
	desc.Usage = gpu.ImageUsageSampled | gpu.ImageUsageTransferDst
	h := b.registry.CreateImage(resources.ImageCreateInfo{Desc: desc}, tag)
	img, _ := b.registry.Image(h)

	data := make([]byte, 4*img.Desc.ArrayLayers)
	for i := range data {
		data[i] = v
	}
	b.registry.UploadToImage(h, resources.FullCopy(img.Desc), data)
	b.registry.TransitionLayout(h, gpu.LayoutShaderReadOnly,
		gpu.AccessTransferWrite, gpu.AccessShaderRead,
		gpu.StageTransfer, gpu.StageFragmentShader)
	return h
}

// slotPool returns a pool of slot with room for sets descriptor sets. The
// caller has waited for the slot's previous submission, so every set
// allocated from it is free to go.
func (b *sceneBindings) slotPool(slot uint32, sets int) gpu.DescriptorPool {
	for int(slot) >= len(b.pools) {
		b.pools = append(b.pools, slotPool{})
	}
	p := &b.pools[slot]
	need := uint32(max(sets, 1))
	if p.pool != 0 && p.capacity >= need {
		core.FatalIf(b.device.ResetDescriptorPool(p.pool), "failed to reset scene descriptor pool %d", slot)
		return p.pool
	}
	if p.pool != 0 {
		b.device.DestroyDescriptorPool(p.pool)
	}

	capacity := uint32(sceneMinPoolSets)
	for capacity < need {
		capacity *= 2
	}
	pool, err := b.device.CreateDescriptorPool(gpu.DescriptorPoolDesc{
		MaxSets: capacity,
		Sizes: []gpu.DescriptorPoolSize{
			{Type: gpu.DescriptorUniformBuffer, Count: 2 * capacity},
			{Type: gpu.DescriptorCombinedImageSampler, Count: (3 + sceneMaterialTextures) * capacity},
		},
	})
	core.FatalIf(err, "failed to create scene descriptor pool for slot %d", slot)
	core.LogDebug("scene descriptor pool for slot %d holds %d sets", slot, capacity)
	*p = slotPool{pool: pool, capacity: capacity}
	return pool
}

func (b *sceneBindings) sampled(h resources.ImageHandle, fallback resources.ImageHandle) gpu.DescriptorImage {
	img, ok := b.registry.Image(h)
	if h.IsNull() || !ok {
		img, _ = b.registry.Image(fallback)
	}
	sampler := img.Sampler
	if sampler == 0 {
		sampler = b.sampler
	}
	return gpu.DescriptorImage{View: img.View, Sampler: sampler, Layout: gpu.LayoutShaderReadOnly}
}

func (b *sceneBindings) uniforms(info *metadata.SceneRenderInfo, arena *frame.Arena) gpu.DescriptorWrite {
	data := make([]float32, 0, sceneUniformFloats)
	data = append(data, info.View[:]...)
	data = append(data, info.Projection[:]...)
	data = append(data, info.CameraPosition[:]...)
	data = append(data, 1)
	h := arena.CreateAndUploadTransient(gpu.BufferUsageUniform, gpu.MemoryHostShared,
		resources.F32Data(data), "scene/uniforms")
	return b.bufferWrite(SCENE_BINDING_UNIFORMS, h)
}

func (b *sceneBindings) bufferWrite(binding uint32, h resources.BufferHandle) gpu.DescriptorWrite {
	buf, ok := b.registry.Buffer(h)
	if !ok {
		core.Fatalf("scene buffer %s for binding %d vanished", h, binding)
	}
	t, ok := buf.DescriptorType()
	if !ok {
		core.Fatalf("buffer %q cannot be bound to binding %d", b.registry.Tag(h), binding)
	}
	return gpu.DescriptorWrite{
		Binding: binding,
		Type:    t,
		Buffers: []gpu.DescriptorBuffer{{Buffer: buf.Buffer, Range: buf.Size}},
	}
}

// materialBuffer resolves the factors of mesh. Anything but a live uniform
// buffer falls back to the defaults.
func (b *sceneBindings) materialBuffer(mesh *metadata.MeshDraw, arena *frame.Arena) resources.BufferHandle {
	if mesh.Material.IsNull() {
		return b.material
	}
	buf, ok := b.registry.Buffer(mesh.Material)
	if !ok {
		core.LogDebug("mesh material %s is stale, using defaults", mesh.Material)
		return b.material
	}
	if t, ok := buf.DescriptorType(); !ok || t != gpu.DescriptorUniformBuffer {
		if !b.warnedMaterial {
			core.LogWarn("material buffer %q is not a uniform buffer, using defaults", b.registry.Tag(mesh.Material))
			b.warnedMaterial = true
		}
		return b.material
	}
	arena.AddBufferRef(mesh.Material)
	return mesh.Material
}

// allocate writes one set for a draw. scene holds the writes shared by every
// draw of the frame.
func (b *sceneBindings) allocate(pool gpu.DescriptorPool, scene []gpu.DescriptorWrite, mesh *metadata.MeshDraw, arena *frame.Arena) gpu.DescriptorSet {
	set, err := b.device.AllocateDescriptorSet(pool, b.layout)
	core.FatalIf(err, "failed to allocate scene descriptor set")

	textures := make([]gpu.DescriptorImage, sceneMaterialTextures)
	for i := range textures {
		var h resources.ImageHandle
		if i < len(mesh.Textures) {
			h = mesh.Textures[i]
		}
		textures[i] = b.sampled(h, b.white)
	}
	if len(mesh.Textures) > sceneMaterialTextures {
		core.LogDebug("mesh has %d textures, binding the first %d", len(mesh.Textures), sceneMaterialTextures)
	}

	writes := append(scene[:len(scene):len(scene)],
		gpu.DescriptorWrite{Binding: SCENE_BINDING_MATERIAL, Type: gpu.DescriptorCombinedImageSampler, Images: textures},
		b.bufferWrite(SCENE_BINDING_FACTORS, b.materialBuffer(mesh, arena)),
	)
	core.FatalIf(b.device.UpdateDescriptorSet(set, writes), "failed to write scene descriptor set")
	return set
}

func (b *sceneBindings) iblWrites(ibl metadata.IBLTextures) []gpu.DescriptorWrite {
	image := func(binding uint32, h, fallback resources.ImageHandle) gpu.DescriptorWrite {
		return gpu.DescriptorWrite{
			Binding: binding,
			Type:    gpu.DescriptorCombinedImageSampler,
			Images:  []gpu.DescriptorImage{b.sampled(h, fallback)},
		}
	}
	return []gpu.DescriptorWrite{
		image(SCENE_BINDING_IRRADIANCE, ibl.Irradiance, b.neutral),
		image(SCENE_BINDING_PREFILTER, ibl.Prefilter, b.neutral),
		image(SCENE_BINDING_BRDF_LUT, ibl.BRDFLut, b.white),
	}
}

// destroy releases everything. The device must be idle.
func (b *sceneBindings) destroy() {
	for _, p := range b.pools {
		if p.pool != 0 {
			b.device.DestroyDescriptorPool(p.pool)
		}
	}
	b.pools = nil
	for _, h := range []resources.Resource{b.white, b.neutral, b.material} {
		if b.registry.Contains(h) {
			b.registry.Deref(h)
		}
	}
	b.device.DestroySampler(b.sampler)
	b.device.DestroyDescriptorSetLayout(b.layout)
}
