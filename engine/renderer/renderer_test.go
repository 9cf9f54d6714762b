package renderer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/spaghettifunk/kiln/engine/renderer/swapchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWindow struct {
	width, height int
	polls         int
	resized       bool
}

func (w *testWindow) FramebufferSize() (int, int) { return w.width, w.height }

func (w *testWindow) WaitEvents() {}

func (w *testWindow) PollEvents() { w.polls++ }

func (w *testWindow) ConsumeResize() bool {
	r := w.resized
	w.resized = false
	return r
}

type harness struct {
	dev     *gputest.Device
	exec    *commands.Executor
	reg     *resources.Registry
	sc      *swapchain.Controller
	win     *testWindow
	manager *Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{dev: gputest.New(), win: &testWindow{width: 800, height: 600}}
	h.exec = commands.New(h.dev)
	h.reg = resources.NewRegistry(h.dev, h.exec)
	h.sc = swapchain.New(h.dev, h.win, swapchain.DefaultConfig())
	if len(cfg.Renderers) == 0 {
		cfg.Renderers = []RendererKind{RendererScene}
	}
	m, err := NewManager(h.dev, h.reg, h.sc, h.win, cfg)
	require.NoError(t, err)
	h.manager = m
	return h
}

// shutdown follows the engine teardown order and returns the number of
// registry resources that were still alive before DestroyAll.
func (h *harness) shutdown(t *testing.T) int {
	t.Helper()
	require.NoError(t, h.dev.WaitIdle())
	h.manager.Destroy()
	h.sc.Destroy()
	h.exec.Destroy()
	leaked := h.reg.Count()
	h.reg.DestroyAll()
	return leaked
}

func fakeShaders() ShaderCode {
	return ShaderCode{Vertex: []uint32{0x07230203, 1}, Fragment: []uint32{0x07230203, 2}}
}

func quad(t *testing.T, reg *resources.Registry) (vb, ib resources.BufferHandle, tex resources.ImageHandle) {
	t.Helper()
	vb = reg.CreateBufferWithData(gpu.BufferUsageVertex, gpu.MemoryDeviceLocal, resources.F32Data(make([]float32, 4*8)), "quad/vertices")
	ib = reg.CreateBufferWithData(gpu.BufferUsageIndex, gpu.MemoryDeviceLocal, resources.U16Data([]uint16{0, 1, 2, 2, 3, 0}), "quad/indices")
	tex = reg.CreateImage(resources.ImageCreateInfo{
		Desc:    gpu.ImageDesc{Width: 2, Height: 2, Format: gpu.FormatRGBA8Srgb, Usage: gpu.ImageUsageSampled | gpu.ImageUsageTransferDst},
		Sampler: &gpu.SamplerDesc{},
	}, "quad/albedo")
	img, _ := reg.Image(tex)
	reg.UploadToImage(tex, resources.FullCopy(img.Desc), make([]byte, 16))
	return vb, ib, tex
}

func TestFrameWithoutGUIComposites(t *testing.T) {
	h := newHarness(t, Config{ClearColor: [4]float32{0.1, 0.2, 0.3, 1}})

	for i := 0; i < 4; i++ {
		require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	}

	assert.Equal(t, []uint32{0, 1, 2, 0}, h.dev.Presented())
	assert.Equal(t, 4, h.dev.CommandCount("BlitImage"))
	assert.Equal(t, 4, h.dev.CommandCount("BeginRenderPass"))
	assert.Equal(t, uint64(4), h.manager.FrameNumber())
	assert.Equal(t, 4, h.win.polls)
	for _, s := range h.dev.Submits() {
		assert.Len(t, s.Signal, 1)
		assert.Empty(t, s.Wait, "acquisition is fence based")
		assert.NotZero(t, s.Fence)
	}

	assert.Zero(t, h.shutdown(t), "the manager releases its render targets")
	assert.Zero(t, h.dev.LiveTotal())
	assert.Empty(t, h.dev.Violations())
}

func TestSceneRendererDrawsAndReleasesTransients(t *testing.T) {
	h := newHarness(t, Config{Shaders: fakeShaders()})
	vb, ib, tex := quad(t, h.reg)

	info := &metadata.SceneRenderInfo{
		Meshes: []metadata.MeshDraw{
			{VertexBuffer: vb, VertexCount: 4, IndexBuffer: ib, IndexCount: 6, Model: mgl32.Ident4(), Textures: []resources.ImageHandle{tex}},
			{VertexBuffer: vb, VertexCount: 4, Model: mgl32.Translate3D(1, 0, 0)},
		},
		ViewProjection: mgl32.Ident4(),
	}
	require.NoError(t, h.manager.DrawFrame(info))

	assert.Equal(t, 1, h.dev.CommandCount("DrawIndexed"))
	assert.Equal(t, 1, h.dev.CommandCount("Draw"))
	assert.Equal(t, 1, h.dev.CommandCount("PushConstants"))
	assert.Equal(t, 2, h.dev.CommandCount("BindDescriptorSets"))
	img, _ := h.reg.Image(tex)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout)

	// slot 0 co-owns the mesh buffers (once per draw), the texture, the
	// instance buffer and the scene uniforms
	assert.Equal(t, 6, h.manager.Arena().Pending(0))
	count, _ := h.reg.RefCount(vb)
	assert.Equal(t, uint32(3), count)

	// the scene drops its references while slot 0 is still in flight
	h.reg.Deref(vb)
	h.reg.Deref(ib)
	h.reg.Deref(tex)
	assert.True(t, h.reg.Contains(vb))

	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	assert.True(t, h.reg.Contains(tex))
	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	assert.False(t, h.reg.Contains(vb), "released when slot 0 came around again")
	assert.False(t, h.reg.Contains(ib))
	assert.False(t, h.reg.Contains(tex))

	assert.Zero(t, h.shutdown(t))
	assert.Zero(t, h.dev.LiveTotal())
	assert.Empty(t, h.dev.Violations())
}

func TestStaleMeshHandlesAreSkipped(t *testing.T) {
	h := newHarness(t, Config{Shaders: fakeShaders()})
	vb := h.reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 64, "gone")
	h.reg.Deref(vb)

	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{
		Meshes: []metadata.MeshDraw{{VertexBuffer: vb, VertexCount: 3, Model: mgl32.Ident4()}},
	}))
	assert.Zero(t, h.dev.CommandCount("Draw"))
	assert.Empty(t, h.dev.Violations())
}

func TestFrameStateOrdering(t *testing.T) {
	h := newHarness(t, Config{})

	err := h.manager.Render(nil)
	assert.True(t, errors.Is(err, core.ErrFrameState))
	err = h.manager.Finalize()
	assert.True(t, errors.Is(err, core.ErrFrameState))

	require.NoError(t, h.manager.BeginFrame())
	assert.True(t, errors.Is(h.manager.BeginFrame(), core.ErrFrameState))
	require.NoError(t, h.manager.Render(nil))
	require.NoError(t, h.manager.Finalize())
}

func TestWindowResizeRecreatesNextFrame(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.manager.DrawFrame(nil))

	h.win.resized = true
	h.win.width, h.win.height = 1024, 768
	h.dev.Surface.CurrentExtent = gpu.Extent{Width: 1024, Height: 768}
	require.NoError(t, h.manager.DrawFrame(nil))
	assert.Zero(t, h.sc.Recreations(), "recreation waits for the next acquire")

	require.NoError(t, h.manager.DrawFrame(nil))
	assert.Equal(t, 1, h.sc.Recreations())
	assert.Equal(t, gpu.Extent{Width: 1024, Height: 768}, h.sc.Extent())

	slot := h.manager.slots[h.manager.current]
	assert.Equal(t, gpu.Extent{Width: 1024, Height: 768}, slot.extent)
	assert.Empty(t, h.dev.Violations())
}

func TestImageCountChangeResizesSlots(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.manager.DrawFrame(nil))

	h.dev.Surface.MinImageCount = 1
	h.dev.Surface.MaxImageCount = 2
	h.sc.RequestRecreate()
	require.NoError(t, h.manager.DrawFrame(nil))

	assert.Len(t, h.manager.slots, 2)
	assert.Equal(t, 2, h.manager.Arena().SlotCount())
	h.shutdown(t)
	assert.Zero(t, h.dev.LiveTotal())
	assert.Empty(t, h.dev.Violations())
}

func TestCustomGUIOverlayAndViewportResize(t *testing.T) {
	viewport := gpu.Extent{Width: 320, Height: 240}
	var overlays []resources.ImageHandle
	var reg *resources.Registry
	var layouts []gpu.ImageLayout
	preFrames := 0

	gui := &GUI{
		PreFrame:            func() { preFrames++ },
		DesiredRenderExtent: func() (gpu.Extent, bool) { return viewport, true },
		RecordOverlay: func(cb gpu.CommandBuffer, fb gpu.Framebuffer, extent gpu.Extent, scene resources.ImageHandle) {
			overlays = append(overlays, scene)
			img, _ := reg.Image(scene)
			layouts = append(layouts, img.Layout)
		},
	}
	h := newHarness(t, Config{GUI: GUICustom, GUIHooks: gui})
	reg = h.reg

	require.NoError(t, h.manager.DrawFrame(nil))
	first := overlays[0]
	img, _ := h.reg.Image(first)
	assert.Equal(t, viewport, img.Extent())
	assert.Equal(t, gpu.LayoutShaderReadOnly, layouts[0])
	assert.Zero(t, h.dev.CommandCount("BlitImage"))
	barriers := h.dev.BarriersFor(img.Image)
	require.Len(t, barriers, 1, "the render pass leaves the target shader readable")
	assert.Equal(t, gpu.LayoutColorAttachment, barriers[0].NewLayout)

	// visit every slot, then shrink the viewport
	require.NoError(t, h.manager.DrawFrame(nil))
	require.NoError(t, h.manager.DrawFrame(nil))
	viewport = gpu.Extent{Width: 100, Height: 50}
	require.NoError(t, h.manager.DrawFrame(nil))

	assert.False(t, h.reg.Contains(first), "old target released when its slot is reused")
	img, _ = h.reg.Image(overlays[3])
	assert.Equal(t, viewport, img.Extent())
	assert.Equal(t, 4, preFrames)
	assert.Empty(t, h.dev.Violations())
}

func TestCustomGUIRequiresOverlay(t *testing.T) {
	dev := gputest.New()
	exec := commands.New(dev)
	reg := resources.NewRegistry(dev, exec)
	win := &testWindow{width: 64, height: 64}
	sc := swapchain.New(dev, win, swapchain.DefaultConfig())

	_, err := NewManager(dev, reg, sc, win, Config{Renderers: []RendererKind{RendererClear}, GUI: GUICustom})
	assert.Error(t, err)
	_, err = NewManager(dev, reg, sc, win, Config{})
	assert.Error(t, err, "no renderers")
}

func TestAcquireTimeoutSkipsFrame(t *testing.T) {
	h := newHarness(t, Config{AcquireTimeout: time.Millisecond})
	h.dev.AcquireScript = []gpu.Status{gpu.StatusTimeout}

	require.NoError(t, h.manager.DrawFrame(nil))
	assert.Empty(t, h.dev.Submits())
	assert.Zero(t, h.manager.FrameNumber())

	require.NoError(t, h.manager.DrawFrame(nil))
	assert.Len(t, h.dev.Submits(), 1)
}

func TestBusySlotIsNotReused(t *testing.T) {
	h := newHarness(t, Config{AcquireTimeout: time.Millisecond})
	h.dev.HoldSubmits = true

	for i := 0; i < h.sc.ImageCount(); i++ {
		require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	}
	slot0 := h.sc.Image(0).InFlight
	require.True(t, h.dev.FencePending(slot0))

	// image 0 comes back from the presentation engine while its last
	// submission is still running
	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	assert.Len(t, h.dev.Submits(), 3)
	assert.Equal(t, 3, h.dev.CommandCount("BeginRenderPass"), "slot 0 was not recorded again")
	assert.Equal(t, uint64(3), h.manager.FrameNumber())
	assert.True(t, h.dev.FencePending(slot0))

	h.dev.SignalFence(slot0)
	require.NoError(t, h.manager.DrawFrame(&metadata.SceneRenderInfo{}))
	assert.Len(t, h.dev.Submits(), 4)
	assert.Equal(t, []uint32{0, 1, 2, 0}, h.dev.Presented())

	h.dev.CompleteSubmits()
	h.shutdown(t)
	assert.Empty(t, h.dev.Violations())
}

// lastFrame is the command buffer of the most recent frame submission.
func lastFrame(t *testing.T, dev *gputest.Device) gpu.CommandBuffer {
	t.Helper()
	submits := dev.Submits()
	require.NotEmpty(t, submits)
	return submits[len(submits)-1].CommandBuffer
}

func TestSceneRendererBindsDescriptors(t *testing.T) {
	h := newHarness(t, Config{Shaders: fakeShaders()})
	vb, ib, tex := quad(t, h.reg)
	irradiance := h.reg.CreateImage(resources.ImageCreateInfo{
		Desc:    gpu.ImageDesc{Width: 8, Height: 8, Format: gpu.FormatRGBA16Sfloat, Usage: gpu.ImageUsageSampled, Cube: true},
		Sampler: &gpu.SamplerDesc{AddressMode: gpu.AddressClampToEdge},
	}, "ibl/irradiance")
	brdf := h.reg.CreateImage(resources.ImageCreateInfo{
		Desc: gpu.ImageDesc{Width: 16, Height: 16, Format: gpu.FormatRG32Sfloat, Usage: gpu.ImageUsageSampled},
	}, "ibl/brdf")
	factors := h.reg.CreateBufferWithData(gpu.BufferUsageUniform, gpu.MemoryHostShared,
		resources.F32Data([]float32{0.5, 0.5, 0.5, 1, 1, 0.2, 0, 0}), "material/gold")
	storage := h.reg.CreateBuffer(gpu.BufferUsageStorage, gpu.MemoryHostShared, 32, "material/storage")

	info := &metadata.SceneRenderInfo{
		Meshes: []metadata.MeshDraw{
			{VertexBuffer: vb, VertexCount: 4, IndexBuffer: ib, IndexCount: 6, Model: mgl32.Ident4(), Textures: []resources.ImageHandle{tex}, Material: factors},
			{VertexBuffer: vb, VertexCount: 4, Model: mgl32.Ident4(), Material: storage},
		},
		View:           mgl32.Translate3D(0, 0, -5),
		Projection:     mgl32.Perspective(1, 4.0/3.0, 0.1, 100),
		ViewProjection: mgl32.Ident4(),
		CameraPosition: mgl32.Vec3{0, 0, 5},
		IBL:            metadata.IBLTextures{Irradiance: irradiance, BRDFLut: brdf},
	}
	require.NoError(t, h.manager.DrawFrame(info))

	sets := h.dev.BoundSets(lastFrame(t, h.dev))
	require.Len(t, sets, 2, "one set per draw")
	texImg, _ := h.reg.Image(tex)
	irrImg, _ := h.reg.Image(irradiance)
	brdfImg, _ := h.reg.Image(brdf)
	factorsBuf, _ := h.reg.Buffer(factors)
	storageBuf, _ := h.reg.Buffer(storage)

	materials := h.dev.DescriptorImages(sets[0], SCENE_BINDING_MATERIAL)
	require.Len(t, materials, sceneMaterialTextures)
	assert.Equal(t, texImg.Image, h.dev.ViewImage(materials[0].View))
	assert.Equal(t, texImg.Sampler, materials[0].Sampler)
	for _, m := range materials[1:] {
		assert.NotEqual(t, texImg.Image, h.dev.ViewImage(m.View), "missing textures sample the fallback")
		assert.Equal(t, gpu.LayoutShaderReadOnly, m.Layout)
	}

	irr := h.dev.DescriptorImages(sets[0], SCENE_BINDING_IRRADIANCE)
	require.Len(t, irr, 1)
	assert.Equal(t, irrImg.Image, h.dev.ViewImage(irr[0].View))
	assert.Equal(t, irrImg.Sampler, irr[0].Sampler)
	lut := h.dev.DescriptorImages(sets[1], SCENE_BINDING_BRDF_LUT)
	require.Len(t, lut, 1)
	assert.Equal(t, brdfImg.Image, h.dev.ViewImage(lut[0].View))
	assert.NotZero(t, lut[0].Sampler, "images without a sampler get the scene sampler")
	prefilter := h.dev.DescriptorImages(sets[0], SCENE_BINDING_PREFILTER)
	require.Len(t, prefilter, 1)
	assert.NotEqual(t, irrImg.Image, h.dev.ViewImage(prefilter[0].View))

	uniforms := h.dev.DescriptorBuffers(sets[0], SCENE_BINDING_UNIFORMS)
	require.Len(t, uniforms, 1)
	assert.Equal(t, uniforms, h.dev.DescriptorBuffers(sets[1], SCENE_BINDING_UNIFORMS), "scene uniforms are shared")
	assert.NotZero(t, h.dev.BufferUsage(uniforms[0].Buffer)&gpu.BufferUsageUniform)
	want := resources.F32Data(append(append([]float32{}, info.View[:]...), info.Projection[:]...)).Bytes()
	assert.Equal(t, want, h.dev.BufferContents(uniforms[0].Buffer)[:len(want)])

	first := h.dev.DescriptorBuffers(sets[0], SCENE_BINDING_FACTORS)
	require.Len(t, first, 1)
	assert.Equal(t, factorsBuf.Buffer, first[0].Buffer)
	second := h.dev.DescriptorBuffers(sets[1], SCENE_BINDING_FACTORS)
	require.Len(t, second, 1)
	assert.NotEqual(t, storageBuf.Buffer, second[0].Buffer, "storage buffers cannot back the uniform material block")
	assert.Equal(t, gpu.LayoutShaderReadOnly, irrImg.Layout)

	for _, res := range []resources.Resource{vb, ib, tex, irradiance, brdf, factors, storage} {
		h.reg.Deref(res)
	}
	assert.Zero(t, h.shutdown(t))
	assert.Zero(t, h.dev.LiveTotal())
	assert.Zero(t, h.dev.Live(gputest.KindDescriptorSet))
	assert.Empty(t, h.dev.Violations())
}

func TestSceneDescriptorPoolsFollowSlots(t *testing.T) {
	h := newHarness(t, Config{Shaders: fakeShaders(), AcquireTimeout: time.Millisecond})
	vb, ib, tex := quad(t, h.reg)
	h.dev.HoldSubmits = true

	mesh := metadata.MeshDraw{VertexBuffer: vb, VertexCount: 4, Model: mgl32.Ident4()}
	info := &metadata.SceneRenderInfo{Meshes: []metadata.MeshDraw{mesh}, ViewProjection: mgl32.Ident4()}
	for i := 0; i < h.sc.ImageCount(); i++ {
		require.NoError(t, h.manager.DrawFrame(info))
	}
	assert.Equal(t, h.sc.ImageCount(), h.dev.Created(gputest.KindDescriptorPool))

	// slot 0 is still in flight, its sets must survive the skipped frame
	require.NoError(t, h.manager.DrawFrame(info))
	assert.Equal(t, 3, h.dev.CommandCount("BindDescriptorSets"))
	assert.Equal(t, 3, h.dev.Live(gputest.KindDescriptorSet))

	h.dev.SignalFence(h.sc.Image(0).InFlight)
	require.NoError(t, h.manager.DrawFrame(info))
	assert.Equal(t, 4, h.dev.CommandCount("BindDescriptorSets"))
	assert.Equal(t, 3, h.dev.Live(gputest.KindDescriptorSet), "slot 0 reset its pool before allocating")
	assert.Equal(t, h.sc.ImageCount(), h.dev.Created(gputest.KindDescriptorPool))

	// more draws than the pool holds replace it
	h.dev.CompleteSubmits()
	big := &metadata.SceneRenderInfo{ViewProjection: mgl32.Ident4()}
	for i := 0; i < 2*sceneMinPoolSets; i++ {
		big.Meshes = append(big.Meshes, mesh)
	}
	require.NoError(t, h.manager.DrawFrame(big))
	assert.Equal(t, h.sc.ImageCount()+1, h.dev.Created(gputest.KindDescriptorPool))
	assert.Equal(t, h.sc.ImageCount(), h.dev.Live(gputest.KindDescriptorPool))

	h.dev.CompleteSubmits()
	h.reg.Deref(vb)
	h.reg.Deref(ib)
	h.reg.Deref(tex)
	assert.Zero(t, h.shutdown(t))
	assert.Empty(t, h.dev.Violations())
}

func TestRendererKindTable(t *testing.T) {
	for _, name := range []string{"clear", "scene"} {
		k, err := ParseRendererKind(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.String())
	}
	_, err := ParseRendererKind("raytracer")
	assert.Error(t, err)

	k, err := ParseGUIKind("")
	require.NoError(t, err)
	assert.Equal(t, GUINone, k)
}
