package renderer

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

// Vertex layout of scene meshes: position, normal, uv.
const sceneVertexStride uint32 = 32

type sceneRenderer struct {
	device   gpu.Device
	registry *resources.Registry
	pipeline gpu.Pipeline
	bindings *sceneBindings

	// filled by prepare, consumed by record within the same frame
	instances resources.BufferHandle
	draws     []resolvedDraw
	warned    bool
}

type resolvedDraw struct {
	vertex     gpu.Buffer
	index      gpu.Buffer
	indexType  gpu.IndexType
	indexCount uint32
	vertCount  uint32
	instance   uint32
	set        gpu.DescriptorSet
}

func newSceneRenderer(deps RendererDeps) (*Renderer, error) {
	s := &sceneRenderer{
		device:   deps.Device,
		registry: deps.Registry,
	}
	if deps.Shaders.IsEmpty() {
		core.LogWarn("scene renderer has no shaders, meshes will not be drawn")
	} else {
		bindings, err := newSceneBindings(deps.Device, deps.Registry)
		if err != nil {
			return nil, err
		}
		p, err := deps.Device.CreateGraphicsPipeline(scenePipelineDesc(deps, bindings.layout))
		if err != nil {
			bindings.destroy()
			return nil, err
		}
		s.pipeline = p
		s.bindings = bindings
	}
	return &Renderer{
		Name:    RendererScene.String(),
		Prepare: s.prepare,
		Record:  s.record,
		Destroy: s.destroy,
	}, nil
}

func scenePipelineDesc(deps RendererDeps, layout gpu.DescriptorSetLayout) gpu.PipelineDesc {
	desc := gpu.PipelineDesc{
		Name:         "scene",
		VertexCode:   deps.Shaders.Vertex,
		FragmentCode: deps.Shaders.Fragment,
		RenderPass:   deps.RenderPass,
		Bindings: []gpu.VertexBinding{
			{Binding: 0, Stride: sceneVertexStride},
			{Binding: 1, Stride: metadata.InstanceStride, PerInstance: true},
		},
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Binding: 0, Format: gpu.FormatRGB32Sfloat, Offset: 0},
			{Location: 1, Binding: 0, Format: gpu.FormatRGB32Sfloat, Offset: 12},
			{Location: 2, Binding: 0, Format: gpu.FormatRG32Sfloat, Offset: 24},
		},
		SetLayouts:       []gpu.DescriptorSetLayout{layout},
		PushConstantSize: 64,
		DepthTest:        true,
		DepthWrite:       true,
		CullBackFaces:    true,
	}
	// model matrix columns
	for i := uint32(0); i < 4; i++ {
		desc.Attributes = append(desc.Attributes, gpu.VertexAttribute{
			Location: 3 + i,
			Binding:  1,
			Format:   gpu.FormatRGBA32Sfloat,
			Offset:   16 * i,
		})
	}
	return desc
}

func (s *sceneRenderer) prepare(cb gpu.CommandBuffer, ctx *metadata.RenderContext, info *metadata.SceneRenderInfo, arena *frame.Arena) {
	s.draws = s.draws[:0]
	s.instances = resources.BufferHandle{}
	if info == nil {
		return
	}

	sampled := func(h resources.ImageHandle) {
		if !s.registry.Contains(h) {
			return
		}
		s.registry.RecordTransition(cb, h, gpu.LayoutShaderReadOnly,
			gpu.AccessTransferWrite, gpu.AccessShaderRead,
			gpu.StageTransfer, gpu.StageFragmentShader)
		arena.AddImageRef(h)
	}
	for _, h := range info.IBL.Handles() {
		sampled(h)
	}

	models := make([]float32, 0, 16*len(info.Meshes))
	meshes := make([]*metadata.MeshDraw, 0, len(info.Meshes))
	for i := range info.Meshes {
		mesh := &info.Meshes[i]
		vb, ok := s.registry.Buffer(mesh.VertexBuffer)
		if !ok {
			core.LogDebug("skipping mesh with stale vertex buffer %s", mesh.VertexBuffer)
			continue
		}
		draw := resolvedDraw{
			vertex:    vb.Buffer,
			vertCount: mesh.VertexCount,
			instance:  uint32(len(models) / 16),
		}
		arena.AddBufferRef(mesh.VertexBuffer)

		if !mesh.IndexBuffer.IsNull() {
			ib, ok := s.registry.Buffer(mesh.IndexBuffer)
			if !ok {
				core.LogDebug("skipping mesh with stale index buffer %s", mesh.IndexBuffer)
				continue
			}
			draw.index = ib.Buffer
			draw.indexCount = mesh.IndexCount
			draw.indexType = gpu.IndexUint32
			if t, ok := ib.Data.IndexType(); ok {
				draw.indexType = t
			}
			arena.AddBufferRef(mesh.IndexBuffer)
		}
		for _, tex := range mesh.Textures {
			sampled(tex)
		}
		models = append(models, mesh.Model[:]...)
		s.draws = append(s.draws, draw)
		meshes = append(meshes, mesh)
	}

	if len(models) == 0 {
		return
	}
	s.instances = arena.CreateAndUploadTransient(gpu.BufferUsageVertex, gpu.MemoryHostShared,
		resources.F32Data(models), "scene/instances")

	if s.bindings == nil {
		return
	}
	pool := s.bindings.slotPool(ctx.Slot, len(s.draws))
	shared := append([]gpu.DescriptorWrite{s.bindings.uniforms(info, arena)}, s.bindings.iblWrites(info.IBL)...)
	for i, mesh := range meshes {
		s.draws[i].set = s.bindings.allocate(pool, shared, mesh, arena)
	}
}

func (s *sceneRenderer) record(cb gpu.CommandBuffer, ctx *metadata.RenderContext, info *metadata.SceneRenderInfo, arena *frame.Arena) {
	if len(s.draws) == 0 {
		return
	}
	if s.pipeline == 0 {
		if !s.warned {
			core.LogWarn("scene renderer skipping %d draws without a pipeline", len(s.draws))
			s.warned = true
		}
		return
	}
	instances, ok := s.registry.Buffer(s.instances)
	if !ok {
		core.Fatalf("scene instance buffer %s vanished during recording", s.instances)
	}

	s.device.CmdBindPipeline(cb, s.pipeline)
	s.device.CmdSetViewport(cb, gpu.FullViewport(ctx.Extent()))
	s.device.CmdSetScissor(cb, ctx.Area)
	s.device.CmdPushConstants(cb, s.pipeline, 0, resources.F32Data(info.ViewProjection[:]).Bytes())

	for _, d := range s.draws {
		s.device.CmdBindDescriptorSets(cb, s.pipeline, 0, []gpu.DescriptorSet{d.set})
		s.device.CmdBindVertexBuffers(cb, 0, []gpu.Buffer{d.vertex, instances.Buffer}, []uint64{0, 0})
		if d.index != 0 {
			s.device.CmdBindIndexBuffer(cb, d.index, 0, d.indexType)
			s.device.CmdDrawIndexed(cb, d.indexCount, 1, 0, 0, d.instance)
		} else {
			s.device.CmdDraw(cb, d.vertCount, 1, 0, d.instance)
		}
	}
}

func (s *sceneRenderer) destroy() {
	if s.pipeline != 0 {
		s.device.DestroyPipeline(s.pipeline)
		s.pipeline = 0
	}
	if s.bindings != nil {
		s.bindings.destroy()
		s.bindings = nil
	}
}
