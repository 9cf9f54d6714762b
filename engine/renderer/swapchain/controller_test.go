package swapchain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	width, height int
	waits         int
	// sizes handed out one per WaitEvents call
	onWait [][2]int
}

func (w *fakeWindow) FramebufferSize() (int, int) { return w.width, w.height }

func (w *fakeWindow) WaitEvents() {
	w.waits++
	if len(w.onWait) > 0 {
		w.width, w.height = w.onWait[0][0], w.onWait[0][1]
		w.onWait = w.onWait[1:]
	}
}

func newTestController(t *testing.T) (*Controller, *gputest.Device, *fakeWindow) {
	t.Helper()
	dev := gputest.New()
	win := &fakeWindow{width: 800, height: 600}
	return New(dev, win, DefaultConfig()), dev, win
}

func TestNewPicksImageCountAndExtent(t *testing.T) {
	c, dev, _ := newTestController(t)

	assert.Equal(t, 3, c.ImageCount(), "min image count + 1, clamped to max")
	assert.Equal(t, gpu.Extent{Width: 800, Height: 600}, c.Extent())
	assert.Equal(t, gpu.FormatBGRA8Srgb, c.Format().Format)
	assert.Equal(t, SWAPCHAIN_STATE_VALID, c.State())
	assert.Equal(t, 3, dev.Live(gputest.KindFramebuffer))
	assert.Equal(t, 3, dev.Live(gputest.KindImageView))
	assert.Equal(t, 3, dev.Live(gputest.KindSemaphore))
	// in-flight fences plus the acquire fence
	assert.Equal(t, 4, dev.Live(gputest.KindFence))

	c.Destroy()
	assert.Zero(t, dev.LiveTotal())
	assert.Empty(t, dev.Violations())
}

func TestMissingFormatOrPresentModeIsFatal(t *testing.T) {
	dev := gputest.New()
	dev.Surface.Formats = []gpu.SurfaceFormat{{Format: gpu.FormatRGBA8Unorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear}}
	assert.Panics(t, func() { New(dev, &fakeWindow{width: 10, height: 10}, DefaultConfig()) })

	dev = gputest.New()
	dev.Surface.PresentModes = []gpu.PresentMode{gpu.PresentModeMailbox}
	assert.Panics(t, func() { New(dev, &fakeWindow{width: 10, height: 10}, DefaultConfig()) })

	cfg := DefaultConfig()
	cfg.PresentMode = gpu.PresentModeMailbox
	assert.Panics(t, func() { New(gputest.New(), &fakeWindow{width: 10, height: 10}, cfg) })
}

func TestAcquireRecreatesOnOutOfDate(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.AcquireScript = []gpu.Status{gpu.StatusOutOfDate}

	idx := c.Acquire()

	assert.Less(t, int(idx), c.ImageCount())
	assert.Equal(t, 1, c.Recreations(), "exactly one recreation")
	assert.Equal(t, 2, dev.Created(gputest.KindSwapchain))
	assert.Equal(t, 1, dev.Live(gputest.KindSwapchain))
	assert.Equal(t, SWAPCHAIN_STATE_VALID, c.State())
	assert.False(t, dev.FenceSignaled(c.acquireFence), "acquire fence is reset after use")
	assert.Empty(t, dev.Violations())
}

func TestRecreateRoundTripDoesNotLeak(t *testing.T) {
	c, dev, _ := newTestController(t)
	before := dev.LiveTotal()
	semaphores := make([]gpu.Semaphore, c.ImageCount())
	fences := make([]gpu.Fence, c.ImageCount())
	for i := range semaphores {
		semaphores[i] = c.Image(uint32(i)).RenderFinished
		fences[i] = c.Image(uint32(i)).InFlight
	}

	var notified []int
	c.OnRecreate(func(count int, extent gpu.Extent) { notified = append(notified, count) })

	c.Recreate()
	idx := c.Acquire()

	assert.Less(t, int(idx), c.ImageCount())
	assert.Equal(t, before, dev.LiveTotal())
	assert.Equal(t, []int{3}, notified)
	assert.Equal(t, 1, dev.WaitIdleCount())
	for i := range semaphores {
		assert.Equal(t, semaphores[i], c.Image(uint32(i)).RenderFinished, "semaphores survive recreation")
		assert.Equal(t, fences[i], c.Image(uint32(i)).InFlight, "fences survive recreation")
	}
	assert.Empty(t, dev.Violations())
}

func TestRecreateFollowsImageCountChanges(t *testing.T) {
	c, dev, _ := newTestController(t)

	dev.Surface.MinImageCount = 1
	dev.Surface.MaxImageCount = 2
	c.Recreate()
	assert.Equal(t, 2, c.ImageCount())
	assert.Equal(t, 2, dev.Live(gputest.KindSemaphore))

	dev.Surface.MinImageCount = 3
	dev.Surface.MaxImageCount = 0
	c.Recreate()
	assert.Equal(t, 4, c.ImageCount())
	assert.Equal(t, 4, dev.Live(gputest.KindSemaphore))
	assert.Equal(t, 5, dev.Live(gputest.KindFence))
	assert.Empty(t, dev.Violations())
}

func TestRecreateWaitsWhileMinimized(t *testing.T) {
	c, dev, win := newTestController(t)
	dev.Surface.CurrentExtent = gpu.Extent{Width: gpu.ExtentUndefined, Height: gpu.ExtentUndefined}

	win.width, win.height = 0, 0
	win.onWait = [][2]int{{0, 0}, {1024, 768}}
	c.Recreate()

	assert.Equal(t, 2, win.waits)
	assert.Equal(t, gpu.Extent{Width: 1024, Height: 768}, c.Extent())
}

func TestExtentClampedToSurfaceLimits(t *testing.T) {
	dev := gputest.New()
	dev.Surface.CurrentExtent = gpu.Extent{Width: gpu.ExtentUndefined, Height: gpu.ExtentUndefined}
	dev.Surface.MaxExtent = gpu.Extent{Width: 640, Height: 480}
	c := New(dev, &fakeWindow{width: 2000, height: 100}, DefaultConfig())
	assert.Equal(t, gpu.Extent{Width: 640, Height: 100}, c.Extent())
}

func TestPresentStalenessSchedulesRecreation(t *testing.T) {
	c, dev, _ := newTestController(t)

	for _, status := range []gpu.Status{gpu.StatusSuboptimal, gpu.StatusOutOfDate} {
		dev.PresentScript = []gpu.Status{status}
		idx := c.Acquire()
		c.Present(idx)
		assert.True(t, c.RecreatePending(), status.String())

		recreations := c.Recreations()
		c.Acquire()
		assert.Equal(t, recreations+1, c.Recreations())
		assert.False(t, c.RecreatePending())
	}
}

func TestSuboptimalAcquireStillReturnsImage(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.AcquireScript = []gpu.Status{gpu.StatusSuboptimal}

	idx := c.Acquire()
	assert.Equal(t, uint32(0), idx)
	assert.Zero(t, c.Recreations())
	assert.True(t, c.RecreatePending())
}

func TestAcquireTimeout(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.AcquireScript = []gpu.Status{gpu.StatusTimeout}

	_, err := c.AcquireTimeout(time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTimeout))

	idx, err := c.AcquireTimeout(time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, int(idx), c.ImageCount())
}

func TestAcquireGivesUpAfterMaxAttempts(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.AcquireScript = []gpu.Status{gpu.StatusOutOfDate, gpu.StatusOutOfDate, gpu.StatusOutOfDate, gpu.StatusOutOfDate}

	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*core.FatalError)
		require.True(t, ok)
		assert.True(t, errors.Is(fe, core.ErrSwapchainOutOfDate))
		assert.Equal(t, 3, c.Recreations())
	}()
	c.Acquire()
}

func TestSingleAttemptStillRetriesAfterRecreate(t *testing.T) {
	dev := gputest.New()
	cfg := DefaultConfig()
	cfg.MaxAcquireAttempts = 1
	c := New(dev, &fakeWindow{width: 800, height: 600}, cfg)
	dev.AcquireScript = []gpu.Status{gpu.StatusOutOfDate}

	var idx uint32
	require.NotPanics(t, func() { idx = c.Acquire() })
	assert.Less(t, int(idx), c.ImageCount())
	assert.Equal(t, 1, c.Recreations())

	dev.AcquireScript = []gpu.Status{gpu.StatusOutOfDate, gpu.StatusOutOfDate}
	assert.Panics(t, func() { c.Acquire() })
}

// submitWithFence puts held back work on the in-flight fence of image idx.
func submitWithFence(t *testing.T, dev *gputest.Device, fence gpu.Fence) {
	t.Helper()
	cb, err := dev.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, dev.ResetFence(fence))
	require.NoError(t, dev.BeginCommandBuffer(cb, true))
	require.NoError(t, dev.EndCommandBuffer(cb))
	require.NoError(t, dev.Submit(gpu.SubmitInfo{CommandBuffer: cb, Fence: fence}))
}

func TestAcquireTimeoutBoundsInFlightWait(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.HoldSubmits = true
	// the fake hands out images in order, image 0 comes next
	inFlight := c.Image(0).InFlight
	submitWithFence(t, dev, inFlight)
	require.True(t, dev.FencePending(inFlight))

	_, err := c.AcquireTimeout(time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTimeout))
	assert.Len(t, dev.Acquired(), 1)

	// still busy: no second image is taken from the presentation engine
	_, err = c.AcquireTimeout(time.Millisecond)
	assert.True(t, errors.Is(err, core.ErrTimeout))
	assert.Len(t, dev.Acquired(), 1)

	dev.SignalFence(inFlight)
	idx, err := c.AcquireTimeout(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Len(t, dev.Acquired(), 1)
	assert.Empty(t, dev.Violations())
}

func TestRecreateDropsReservedImage(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.HoldSubmits = true
	inFlight := c.Image(0).InFlight
	submitWithFence(t, dev, inFlight)

	_, err := c.AcquireTimeout(time.Millisecond)
	require.Error(t, err)
	dev.CompleteSubmits()
	c.Recreate()

	idx, err := c.AcquireTimeout(time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, int(idx), c.ImageCount())
	assert.Len(t, dev.Acquired(), 2)
}

func TestSurfaceLostIsFatal(t *testing.T) {
	c, dev, _ := newTestController(t)
	dev.AcquireErr = gpu.ErrSurfaceLost

	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*core.FatalError)
		require.True(t, ok)
		assert.True(t, errors.Is(fe, core.ErrSwapchainLost))
		assert.True(t, errors.Is(fe, gpu.ErrSurfaceLost))
		assert.Equal(t, SWAPCHAIN_STATE_LOST, c.State())
	}()
	c.Acquire()
}

func TestRecreateIsNotReentrant(t *testing.T) {
	c, _, _ := newTestController(t)
	c.OnRecreate(func(int, gpu.Extent) { c.Recreate() })
	c.Recreate()
	assert.Equal(t, 1, c.Recreations())
}
