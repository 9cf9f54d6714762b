package renderer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/spaghettifunk/kiln/engine/renderer/swapchain"
)

// ColorTargetFormat is the format of the offscreen scene color targets.
const ColorTargetFormat = gpu.FormatRGBA16Sfloat

// Window is the part of the platform the frame loop drives.
type Window interface {
	PollEvents()
	// ConsumeResize reports and clears the framebuffer resized flag.
	ConsumeResize() bool
}

type Config struct {
	Renderers  []RendererKind
	GUI        GUIKind
	GUIHooks   *GUI
	ClearColor [4]float32
	// Zero blocks until an image is available.
	AcquireTimeout time.Duration
	Shaders        ShaderCode
}

type frameState int

const (
	FRAME_STATE_IDLE frameState = iota
	FRAME_STATE_BEGUN
	FRAME_STATE_RENDERED
)

// per swapchain slot recording state
type slotState struct {
	commandBuffer gpu.CommandBuffer
	color         resources.ImageHandle
	depth         resources.ImageHandle
	framebuffer   gpu.Framebuffer
	extent        gpu.Extent
}

// Manager drives the frame loop: BeginFrame acquires a swapchain slot,
// Render records the renderers into the slot's offscreen targets and
// Finalize composites them, submits and presents.
type Manager struct {
	device    gpu.Device
	registry  *resources.Registry
	swapchain *swapchain.Controller
	arena     *frame.Arena
	window    Window
	config    Config

	renderPass gpu.RenderPass
	renderers  []*Renderer
	gui        *GUI
	slots      []slotState

	state       frameState
	current     uint32
	frameNumber uint64
}

func NewManager(device gpu.Device, registry *resources.Registry, sc *swapchain.Controller, window Window, config Config) (*Manager, error) {
	gui, err := resolveGUI(config.GUI, config.GUIHooks)
	if err != nil {
		return nil, err
	}
	if len(config.Renderers) == 0 {
		return nil, errors.New("at least one renderer kind is required")
	}

	m := &Manager{
		device:    device,
		registry:  registry,
		swapchain: sc,
		arena:     frame.NewArena(registry, sc.ImageCount()),
		window:    window,
		config:    config,
		gui:       gui,
	}

	m.renderPass, err = device.CreateRenderPass(gpu.RenderPassDesc{
		ColorFormat:        ColorTargetFormat,
		ColorLoad:          gpu.LoadOpClear,
		ColorInitialLayout: gpu.LayoutColorAttachment,
		ColorFinalLayout:   gpu.LayoutShaderReadOnly,
		DepthFormat:        device.DepthFormat(),
		DepthInitialLayout: gpu.LayoutDepthStencilAttachment,
		DepthFinalLayout:   gpu.LayoutDepthStencilAttachment,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating scene render pass")
	}

	deps := RendererDeps{
		Device:      device,
		Registry:    registry,
		RenderPass:  m.renderPass,
		ColorFormat: ColorTargetFormat,
		DepthFormat: device.DepthFormat(),
		Shaders:     config.Shaders,
	}
	for _, kind := range config.Renderers {
		r, err := createRenderer(kind, deps)
		if err != nil {
			m.Destroy()
			return nil, err
		}
		m.renderers = append(m.renderers, r)
	}

	m.resizeSlots(sc.ImageCount())
	sc.OnRecreate(m.onSwapchainRecreated)
	core.LogInfo("render manager created with %d renderer(s), gui %s", len(m.renderers), config.GUI)
	return m, nil
}

func (m *Manager) resizeSlots(count int) {
	for i := count; i < len(m.slots); i++ {
		m.releaseTargets(&m.slots[i])
		m.device.FreeCommandBuffer(m.slots[i].commandBuffer)
	}
	if count <= len(m.slots) {
		m.slots = m.slots[:count]
		return
	}
	for i := len(m.slots); i < count; i++ {
		cb, err := m.device.AllocateCommandBuffer()
		core.FatalIf(err, "failed to allocate frame command buffer %d", i)
		m.slots = append(m.slots, slotState{commandBuffer: cb})
	}
}

// the swapchain waited for the device to go idle before calling this
func (m *Manager) onSwapchainRecreated(imageCount int, extent gpu.Extent) {
	if imageCount != len(m.slots) {
		core.LogDebug("frame slots %d -> %d", len(m.slots), imageCount)
		m.arena.Resize(imageCount)
		m.resizeSlots(imageCount)
	}
}

func (m *Manager) Arena() *frame.Arena {
	return m.arena
}

func (m *Manager) FrameNumber() uint64 {
	return m.frameNumber
}

// BeginFrame polls events and acquires the next slot. On return the slot's
// previous submission has completed and its command buffer is reset. With
// an acquire timeout configured, a core.ErrTimeout means the frame should
// be skipped.
func (m *Manager) BeginFrame() error {
	if m.state != FRAME_STATE_IDLE {
		return errors.Wrap(core.ErrFrameState, "BeginFrame called twice")
	}
	m.window.PollEvents()
	if m.gui != nil && m.gui.PreFrame != nil {
		m.gui.PreFrame()
	}

	var idx uint32
	if m.config.AcquireTimeout > 0 {
		var err error
		idx, err = m.swapchain.AcquireTimeout(m.config.AcquireTimeout)
		if err != nil {
			return err
		}
	} else {
		idx = m.swapchain.Acquire()
	}

	slot := &m.slots[idx]
	core.FatalIf(m.device.ResetFence(m.swapchain.Image(idx).InFlight), "failed to reset in-flight fence %d", idx)
	core.FatalIf(m.device.ResetCommandBuffer(slot.commandBuffer), "failed to reset frame command buffer %d", idx)
	m.current = idx
	m.state = FRAME_STATE_BEGUN
	return nil
}

func (m *Manager) renderExtent() gpu.Extent {
	extent := m.swapchain.Extent()
	if m.gui != nil && m.gui.DesiredRenderExtent != nil {
		if e, ok := m.gui.DesiredRenderExtent(); ok {
			extent = e
		}
	}
	if extent.Width == 0 {
		extent.Width = 1
	}
	if extent.Height == 0 {
		extent.Height = 1
	}
	return extent
}

// ensureTargets recreates the slot's color and depth targets when the
// render extent changed. The slot fence was waited on, so the old targets
// are no longer in use by the device.
func (m *Manager) ensureTargets(slot *slotState, extent gpu.Extent) {
	if !slot.color.IsNull() && slot.extent == extent {
		return
	}
	m.releaseTargets(slot)

	slot.color = m.registry.CreateImage(resources.ImageCreateInfo{
		Desc: gpu.ImageDesc{
			Width:  extent.Width,
			Height: extent.Height,
			Format: ColorTargetFormat,
			Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc,
			Memory: gpu.MemoryDeviceLocal,
		},
		Sampler: &gpu.SamplerDesc{MagFilter: gpu.FilterLinear, MinFilter: gpu.FilterLinear, AddressMode: gpu.AddressClampToEdge},
	}, "render target/color")
	slot.depth = m.registry.CreateImage(resources.ImageCreateInfo{
		Desc: gpu.ImageDesc{
			Width:  extent.Width,
			Height: extent.Height,
			Format: m.device.DepthFormat(),
			Usage:  gpu.ImageUsageDepthStencilAttachment,
			Memory: gpu.MemoryDeviceLocal,
		},
	}, "render target/depth")

	color, _ := m.registry.Image(slot.color)
	depth, _ := m.registry.Image(slot.depth)
	fb, err := m.device.CreateFramebuffer(gpu.FramebufferDesc{
		RenderPass:  m.renderPass,
		Attachments: []gpu.ImageView{color.View, depth.View},
		Extent:      extent,
	})
	core.FatalIf(err, "failed to create scene framebuffer")
	slot.framebuffer = fb
	slot.extent = extent
	core.LogDebug("render targets resized to %dx%d", extent.Width, extent.Height)
}

func (m *Manager) releaseTargets(slot *slotState) {
	if slot.framebuffer != 0 {
		m.device.DestroyFramebuffer(slot.framebuffer)
		slot.framebuffer = 0
	}
	if !slot.color.IsNull() {
		m.registry.Deref(slot.color)
		slot.color = resources.ImageHandle{}
	}
	if !slot.depth.IsNull() {
		m.registry.Deref(slot.depth)
		slot.depth = resources.ImageHandle{}
	}
	slot.extent = gpu.Extent{}
}

// Render records every renderer into the acquired slot. The color target
// ends up shader readable for the overlay.
func (m *Manager) Render(info *metadata.SceneRenderInfo) error {
	if m.state != FRAME_STATE_BEGUN {
		return errors.Wrap(core.ErrFrameState, "Render called outside of a begun frame")
	}
	m.arena.SwitchToFrame(int(m.current))

	slot := &m.slots[m.current]
	cb := slot.commandBuffer
	core.FatalIf(m.device.BeginCommandBuffer(cb, true), "failed to begin frame command buffer")

	m.ensureTargets(slot, m.renderExtent())
	ctx := &metadata.RenderContext{
		ColorTarget: slot.color,
		DepthTarget: slot.depth,
		RenderPass:  m.renderPass,
		Framebuffer: slot.framebuffer,
		Area:        gpu.Rect{Extent: slot.extent},
		ClearColor:  m.config.ClearColor,
		Slot:        m.current,
		FrameNumber: m.frameNumber,
	}

	color, _ := m.registry.Image(slot.color)
	depth, _ := m.registry.Image(slot.depth)
	m.registry.RecordTransition(cb, slot.color, gpu.LayoutColorAttachment,
		color.Access, gpu.AccessColorAttachmentRead|gpu.AccessColorAttachmentWrite,
		color.Stage, gpu.StageColorAttachmentOutput)
	m.registry.RecordTransition(cb, slot.depth, gpu.LayoutDepthStencilAttachment,
		depth.Access, gpu.AccessDepthStencilRead|gpu.AccessDepthStencilWrite,
		depth.Stage, gpu.StageEarlyFragmentTests|gpu.StageLateFragmentTests)

	for _, r := range m.renderers {
		if r.Prepare != nil {
			r.Prepare(cb, ctx, info, m.arena)
		}
	}

	m.device.CmdBeginRenderPass(cb, gpu.RenderPassBegin{
		RenderPass:  m.renderPass,
		Framebuffer: slot.framebuffer,
		Area:        ctx.Area,
		ClearColor:  ctx.ClearColor,
		ClearDepth:  1,
	})
	for _, r := range m.renderers {
		if r.Record != nil {
			r.Record(cb, ctx, info, m.arena)
		}
	}
	m.device.CmdEndRenderPass(cb)
	// the pass leaves the color target shader readable
	m.registry.SetImageState(slot.color, gpu.LayoutShaderReadOnly, gpu.AccessShaderRead, gpu.StageFragmentShader)

	m.state = FRAME_STATE_RENDERED
	return nil
}

// Finalize records the overlay (or the plain composite without a GUI),
// submits the slot and presents it. A pending window resize schedules a
// swapchain recreation for the next frame.
func (m *Manager) Finalize() error {
	if m.state != FRAME_STATE_RENDERED {
		return errors.Wrap(core.ErrFrameState, "Finalize called before Render")
	}
	slot := &m.slots[m.current]
	cb := slot.commandBuffer
	image := m.swapchain.Image(m.current)
	extent := m.swapchain.Extent()

	if m.gui != nil {
		m.device.CmdBeginRenderPass(cb, gpu.RenderPassBegin{
			RenderPass:  m.swapchain.RenderPass(),
			Framebuffer: image.Framebuffer,
			Area:        gpu.Rect{Extent: extent},
			ClearColor:  [4]float32{0, 0, 0, 1},
		})
		m.gui.RecordOverlay(cb, image.Framebuffer, extent, slot.color)
		m.device.CmdEndRenderPass(cb)
	} else {
		m.recordComposite(cb, slot, image, extent)
	}

	core.FatalIf(m.device.EndCommandBuffer(cb), "failed to end frame command buffer")
	core.FatalIf(m.device.Submit(gpu.SubmitInfo{
		CommandBuffer: cb,
		Signal:        []gpu.Semaphore{image.RenderFinished},
		Fence:         image.InFlight,
	}), "failed to submit frame %d", m.frameNumber)

	m.swapchain.Present(m.current)
	if m.window.ConsumeResize() {
		m.swapchain.RequestRecreate()
	}

	m.frameNumber++
	m.state = FRAME_STATE_IDLE
	return nil
}

// swapchain images are not registry resources, their barriers are raw
func (m *Manager) recordComposite(cb gpu.CommandBuffer, slot *slotState, image swapchain.Image, extent gpu.Extent) {
	m.registry.RecordTransition(cb, slot.color, gpu.LayoutTransferSrc,
		gpu.AccessShaderRead, gpu.AccessTransferRead,
		gpu.StageFragmentShader, gpu.StageTransfer)

	colorRange := gpu.SubresourceRange{Aspect: gpu.AspectColor, MipCount: 1, LayerCount: 1}
	m.device.CmdImageBarrier(cb, gpu.ImageBarrier{
		Image:     image.Image,
		Range:     colorRange,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutTransferDst,
		DstAccess: gpu.AccessTransferWrite,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageTransfer,
	})
	color, _ := m.registry.Image(slot.color)
	m.device.CmdBlitImage(cb, color.Image, gpu.LayoutTransferSrc, slot.extent, image.Image, gpu.LayoutTransferDst, extent)
	m.device.CmdImageBarrier(cb, gpu.ImageBarrier{
		Image:     image.Image,
		Range:     colorRange,
		OldLayout: gpu.LayoutTransferDst,
		NewLayout: gpu.LayoutPresentSrc,
		SrcAccess: gpu.AccessTransferWrite,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageBottomOfPipe,
	})
}

// DrawFrame runs one complete frame. A timed out acquisition skips the
// frame without error.
func (m *Manager) DrawFrame(info *metadata.SceneRenderInfo) error {
	if err := m.BeginFrame(); err != nil {
		if errors.Is(err, core.ErrTimeout) {
			core.LogDebug("frame %d skipped: %v", m.frameNumber, err)
			return nil
		}
		core.LogError("frame failed: %v", err)
		return err
	}
	if err := m.Render(info); err != nil {
		core.LogError("frame failed: %v", err)
		return err
	}
	if err := m.Finalize(); err != nil {
		core.LogError("Finalize failed: %v", err)
		return err
	}
	return nil
}

// Destroy tears down the arena, renderers and render targets. The device
// must be idle.
func (m *Manager) Destroy() {
	m.arena.CleanupAll()
	for _, r := range m.renderers {
		if r.Destroy != nil {
			r.Destroy()
		}
	}
	m.renderers = nil
	if m.gui != nil && m.gui.Destroy != nil {
		m.gui.Destroy()
	}
	m.resizeSlots(0)
	if m.renderPass != 0 {
		m.device.DestroyRenderPass(m.renderPass)
		m.renderPass = 0
	}
	core.LogInfo("render manager destroyed")
}
