package swapchain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/core"
	kmath "github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

// Window is the part of the platform window the controller needs.
type Window interface {
	FramebufferSize() (int, int)
	// WaitEvents blocks until the platform delivers an event.
	WaitEvents()
}

type Config struct {
	Format      gpu.Format
	ColorSpace  gpu.ColorSpace
	PresentMode gpu.PresentMode
	// MaxAcquireAttempts bounds the recreations one Acquire may perform.
	// Each recreation is followed by another acquire.
	MaxAcquireAttempts int
}

func DefaultConfig() Config {
	return Config{
		Format:             gpu.FormatBGRA8Srgb,
		ColorSpace:         gpu.ColorSpaceSRGBNonlinear,
		PresentMode:        gpu.PresentModeFifo,
		MaxAcquireAttempts: 3,
	}
}

type State int

const (
	SWAPCHAIN_STATE_VALID State = iota
	SWAPCHAIN_STATE_OUT_OF_DATE
	SWAPCHAIN_STATE_LOST
)

func (s State) String() string {
	switch s {
	case SWAPCHAIN_STATE_VALID:
		return "valid"
	case SWAPCHAIN_STATE_OUT_OF_DATE:
		return "out_of_date"
	}
	return "lost"
}

type acquireStage int

const (
	ACQUIRE_NONE acquireStage = iota
	ACQUIRE_FENCE
	ACQUIRE_IN_FLIGHT
)

// Image is one presentable image with the objects bound to its slot.
// RenderFinished and InFlight survive recreation; the rest is rebuilt.
type Image struct {
	Index          uint32
	Image          gpu.Image
	View           gpu.ImageView
	Framebuffer    gpu.Framebuffer
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
}

// Controller owns the swapchain, its images and their synchronization
// objects, and the render pass that draws the final overlay into them.
// Images are acquired through a fence: Acquire returns only once the
// image is writable and its previous submission has completed.
type Controller struct {
	device gpu.Device
	window Window
	config Config

	handle       gpu.Swapchain
	format       gpu.SurfaceFormat
	presentMode  gpu.PresentMode
	extent       gpu.Extent
	renderPass   gpu.RenderPass
	images       []Image
	acquireFence gpu.Fence

	state State
	// an image acquired by a timed out AcquireTimeout
	pending      acquireStage
	pendingIndex uint32

	recreatePending bool
	recreating      bool
	recreations     int
	listeners       []func(imageCount int, extent gpu.Extent)
}

// New creates the swapchain for the current window size. A surface that
// lacks the configured format or present mode is fatal.
func New(device gpu.Device, window Window, config Config) *Controller {
	if config.MaxAcquireAttempts < 1 {
		config.MaxAcquireAttempts = DefaultConfig().MaxAcquireAttempts
	}
	if !config.PresentMode.IsFIFO() {
		core.Fatalf("present mode %s is not FIFO class", config.PresentMode)
	}
	c := &Controller{
		device: device,
		window: window,
		config: config,
	}

	fence, err := device.CreateFence(false)
	core.FatalIf(err, "failed to create acquire fence")
	c.acquireFence = fence

	c.renderPass, err = device.CreateRenderPass(gpu.RenderPassDesc{
		ColorFormat:        config.Format,
		ColorLoad:          gpu.LoadOpClear,
		ColorInitialLayout: gpu.LayoutUndefined,
		ColorFinalLayout:   gpu.LayoutPresentSrc,
	})
	core.FatalIf(err, "failed to create presentation render pass")

	width, height := c.waitForFramebuffer()
	c.build(width, height, 0)
	core.LogInfo("swapchain created: %d images, %dx%d, %s, %s", len(c.images), c.extent.Width, c.extent.Height, c.format.Format, c.presentMode)
	return c
}

func (c *Controller) waitForFramebuffer() (uint32, uint32) {
	w, h := c.window.FramebufferSize()
	for w <= 0 || h <= 0 {
		c.window.WaitEvents()
		w, h = c.window.FramebufferSize()
	}
	return uint32(w), uint32(h)
}

func (c *Controller) build(width, height uint32, old gpu.Swapchain) {
	info, err := c.device.SurfaceInfo()
	core.FatalIf(err, "failed to query surface")

	c.format = gpu.SurfaceFormat{}
	found := false
	for _, f := range info.Formats {
		if f.Format == c.config.Format && f.ColorSpace == c.config.ColorSpace {
			c.format = f
			found = true
			break
		}
	}
	if !found {
		core.Fatalf("surface does not support %s / %s", c.config.Format, c.config.ColorSpace)
	}
	found = false
	for _, m := range info.PresentModes {
		if m == c.config.PresentMode {
			found = true
			break
		}
	}
	if !found {
		core.Fatalf("surface does not support present mode %s", c.config.PresentMode)
	}
	c.presentMode = c.config.PresentMode

	extent := gpu.Extent{Width: width, Height: height}
	if info.CurrentExtent.Width != gpu.ExtentUndefined {
		extent = info.CurrentExtent
	}
	extent.Width = kmath.Clamp(extent.Width, info.MinExtent.Width, info.MaxExtent.Width)
	extent.Height = kmath.Clamp(extent.Height, info.MinExtent.Height, info.MaxExtent.Height)
	c.extent = extent

	imageCount := info.MinImageCount + 1
	if info.MaxImageCount > 0 && imageCount > info.MaxImageCount {
		imageCount = info.MaxImageCount
	}

	handle, err := c.device.CreateSwapchain(gpu.SwapchainDesc{
		ImageCount:  imageCount,
		Format:      c.format,
		PresentMode: c.presentMode,
		Extent:      extent,
		Old:         old,
	})
	core.FatalIf(err, "failed to create swapchain")
	if old != 0 {
		c.device.DestroySwapchain(old)
	}
	c.handle = handle

	natives, err := c.device.SwapchainImages(handle)
	core.FatalIf(err, "failed to get swapchain images")
	c.resizeSyncObjects(len(natives))

	for i, native := range natives {
		img := &c.images[i]
		img.Index = uint32(i)
		img.Image = native
		img.View, err = c.device.CreateImageView(gpu.ImageViewDesc{
			Image:  native,
			Format: c.format.Format,
			Range:  gpu.SubresourceRange{Aspect: gpu.AspectColor, MipCount: 1, LayerCount: 1},
		})
		core.FatalIf(err, "failed to create swapchain image view %d", i)
		img.Framebuffer, err = c.device.CreateFramebuffer(gpu.FramebufferDesc{
			RenderPass:  c.renderPass,
			Attachments: []gpu.ImageView{img.View},
			Extent:      extent,
		})
		core.FatalIf(err, "failed to create swapchain framebuffer %d", i)
	}
	c.state = SWAPCHAIN_STATE_VALID
}

// resizeSyncObjects keeps existing semaphores and fences and only creates
// or destroys the difference. Fences start signaled so the first wait on a
// slot returns immediately.
func (c *Controller) resizeSyncObjects(count int) {
	for i := count; i < len(c.images); i++ {
		c.device.DestroySemaphore(c.images[i].RenderFinished)
		c.device.DestroyFence(c.images[i].InFlight)
	}
	if count <= len(c.images) {
		c.images = c.images[:count]
		return
	}
	for i := len(c.images); i < count; i++ {
		sem, err := c.device.CreateSemaphore()
		core.FatalIf(err, "failed to create render finished semaphore")
		fence, err := c.device.CreateFence(true)
		core.FatalIf(err, "failed to create in-flight fence")
		c.images = append(c.images, Image{Index: uint32(i), RenderFinished: sem, InFlight: fence})
	}
}

func (c *Controller) destroyDerived() {
	for i := range c.images {
		img := &c.images[i]
		if img.Framebuffer != 0 {
			c.device.DestroyFramebuffer(img.Framebuffer)
			img.Framebuffer = 0
		}
		if img.View != 0 {
			c.device.DestroyImageView(img.View)
			img.View = 0
		}
		// owned by the swapchain
		img.Image = 0
	}
}

// Acquire blocks until a presentable image is ready for recording and
// returns its index. Out of date swapchains are recreated transparently.
func (c *Controller) Acquire() uint32 {
	idx, err := c.acquire(gpu.WaitForever)
	// an unbounded acquire cannot time out
	core.FatalIf(err, "acquire")
	return idx
}

// AcquireTimeout is Acquire where every wait is bounded by timeout: the
// presentation engine, the acquire fence and the image's in-flight fence.
// It returns core.ErrTimeout when one of them did not finish in time. An
// image acquired before the timeout stays reserved and is returned by the
// next Acquire or AcquireTimeout call.
func (c *Controller) AcquireTimeout(timeout time.Duration) (uint32, error) {
	return c.acquire(timeout)
}

func (c *Controller) acquire(timeout time.Duration) (uint32, error) {
	if c.pending != ACQUIRE_NONE {
		return c.finishAcquire(timeout)
	}
	if c.recreatePending {
		c.Recreate()
	}
	// every recreation is followed by one more acquire, so a single out of
	// date result is always recoverable
	for recreations := 0; ; recreations++ {
		idx, status, err := c.device.AcquireNextImage(c.handle, timeout, c.acquireFence)
		if err != nil {
			c.lost(err, "acquire")
		}
		switch status {
		case gpu.StatusOutOfDate:
			if recreations >= c.config.MaxAcquireAttempts {
				core.FatalIf(errors.Mark(errors.Newf("acquire reported out of date %d times", recreations+1), core.ErrSwapchainOutOfDate),
					"swapchain still out of date after %d recreations", recreations)
			}
			core.LogDebug("swapchain out of date on acquire, recreating")
			c.state = SWAPCHAIN_STATE_OUT_OF_DATE
			c.Recreate()
			continue
		case gpu.StatusTimeout:
			return 0, errors.Wrapf(core.ErrTimeout, "swapchain acquire after %s", timeout)
		case gpu.StatusSuboptimal:
			c.recreatePending = true
		}

		if int(idx) >= len(c.images) {
			core.Fatalf("acquired image %d of %d", idx, len(c.images))
		}
		c.pending = ACQUIRE_FENCE
		c.pendingIndex = idx
		return c.finishAcquire(timeout)
	}
}

// finishAcquire waits for an acquired image to become writable: first the
// acquire fence, signaled once the presentation engine releases the image,
// then the fence of the image's previous submission.
func (c *Controller) finishAcquire(timeout time.Duration) (uint32, error) {
	idx := c.pendingIndex
	if c.pending == ACQUIRE_FENCE {
		if !c.waitFence(c.acquireFence, "acquire", timeout) {
			return 0, errors.Wrapf(core.ErrTimeout, "acquire fence of image %d after %s", idx, timeout)
		}
		core.FatalIf(c.device.ResetFence(c.acquireFence), "failed to reset acquire fence")
		c.pending = ACQUIRE_IN_FLIGHT
	}
	if !c.waitFence(c.images[idx].InFlight, "in-flight", timeout) {
		return 0, errors.Wrapf(core.ErrTimeout, "in-flight fence of image %d after %s", idx, timeout)
	}
	c.pending = ACQUIRE_NONE
	return idx, nil
}

// waitFence reports whether f signaled within timeout. An unbounded wait
// that returns without a signal is fatal.
func (c *Controller) waitFence(f gpu.Fence, what string, timeout time.Duration) bool {
	ok, err := c.device.WaitFence(f, timeout)
	if err != nil {
		c.lost(err, what+" fence wait")
	}
	if !ok && timeout == gpu.WaitForever {
		core.Fatalf("%s fence wait returned without signal", what)
	}
	return ok
}

func (c *Controller) lost(err error, op string) {
	c.state = SWAPCHAIN_STATE_LOST
	core.FatalIf(errors.Mark(err, core.ErrSwapchainLost), "swapchain %s", op)
}

// Present queues image idx for presentation once its render finished
// semaphore signals. Staleness schedules a recreation for the next
// Acquire instead of failing the frame.
func (c *Controller) Present(idx uint32) {
	if int(idx) >= len(c.images) {
		core.Fatalf("presenting image %d of %d", idx, len(c.images))
	}
	status, err := c.device.Present(c.handle, idx, []gpu.Semaphore{c.images[idx].RenderFinished})
	if err != nil {
		c.lost(err, "present")
	}
	switch status {
	case gpu.StatusOutOfDate:
		c.state = SWAPCHAIN_STATE_OUT_OF_DATE
		c.recreatePending = true
	case gpu.StatusSuboptimal:
		c.recreatePending = true
	}
}

// RequestRecreate schedules a recreation before the next acquire, e.g.
// after the window was resized.
func (c *Controller) RequestRecreate() {
	c.recreatePending = true
}

func (c *Controller) RecreatePending() bool {
	return c.recreatePending
}

// Recreate rebuilds the swapchain and everything sized by it. It blocks
// while the window is minimized and waits for the device to go idle.
// Calling it during a recreation does nothing.
func (c *Controller) Recreate() {
	if c.recreating {
		return
	}
	c.recreating = true
	defer func() { c.recreating = false }()

	if c.pending == ACQUIRE_FENCE {
		// the presentation engine still owns the fence
		c.waitFence(c.acquireFence, "acquire", gpu.WaitForever)
		core.FatalIf(c.device.ResetFence(c.acquireFence), "failed to reset acquire fence")
	}
	c.pending = ACQUIRE_NONE

	width, height := c.waitForFramebuffer()
	core.FatalIf(c.device.WaitIdle(), "failed to wait for device idle")

	c.destroyDerived()
	c.build(width, height, c.handle)
	c.recreatePending = false
	c.recreations++
	core.LogInfo("swapchain recreated: %d images, %dx%d", len(c.images), c.extent.Width, c.extent.Height)

	for _, fn := range c.listeners {
		fn(len(c.images), c.extent)
	}
}

// OnRecreate registers fn to run after every recreation.
func (c *Controller) OnRecreate(fn func(imageCount int, extent gpu.Extent)) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) Recreations() int { return c.recreations }

func (c *Controller) State() State { return c.state }

func (c *Controller) Extent() gpu.Extent { return c.extent }

func (c *Controller) Format() gpu.SurfaceFormat { return c.format }

func (c *Controller) RenderPass() gpu.RenderPass { return c.renderPass }

func (c *Controller) ImageCount() int { return len(c.images) }

func (c *Controller) Image(idx uint32) Image {
	return c.images[idx]
}

// Destroy releases everything the controller created. The device must be
// idle.
func (c *Controller) Destroy() {
	c.destroyDerived()
	if c.handle != 0 {
		c.device.DestroySwapchain(c.handle)
		c.handle = 0
	}
	c.resizeSyncObjects(0)
	if c.acquireFence != 0 {
		c.device.DestroyFence(c.acquireFence)
		c.acquireFence = 0
	}
	if c.renderPass != 0 {
		c.device.DestroyRenderPass(c.renderPass)
		c.renderPass = 0
	}
	core.LogInfo("swapchain destroyed")
}
