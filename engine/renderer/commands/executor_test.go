package commands

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

func TestExecutorSubmitAndWaitResetsForReuse(t *testing.T) {
	dev := gputest.New()
	exec := New(dev)

	for i := 0; i < 3; i++ {
		cb := exec.Begin()
		dev.CmdImageBarrier(cb, gpu.ImageBarrier{NewLayout: gpu.LayoutGeneral})
		exec.SubmitAndWait()
		assert.False(t, dev.FenceSignaled(exec.fence), "fence must be reset after the wait")
	}

	assert.Len(t, dev.Submits(), 3)
	assert.Equal(t, 3, dev.CommandCount("ImageBarrier"))
	assert.Empty(t, dev.Violations())

	exec.Destroy()
	assert.Zero(t, dev.Live(gputest.KindFence))
	assert.Empty(t, dev.Violations())
}

func TestExecutorRunExecutesRecordedCopy(t *testing.T) {
	dev := gputest.New()
	exec := New(dev)
	defer exec.Destroy()

	src, err := dev.CreateBuffer(gpu.BufferDesc{Size: 4, Usage: gpu.BufferUsageTransferSrc, Memory: gpu.MemoryHostShared})
	require.NoError(t, err)
	dst, err := dev.CreateBuffer(gpu.BufferDesc{Size: 4, Usage: gpu.BufferUsageTransferDst, Memory: gpu.MemoryDeviceLocal})
	require.NoError(t, err)
	mem, err := dev.MapBuffer(src)
	require.NoError(t, err)
	copy(mem, []byte{1, 2, 3, 4})
	dev.UnmapBuffer(src)

	exec.Run(func(cb gpu.CommandBuffer) {
		dev.CmdCopyBuffer(cb, src, dst, 4)
	})
	assert.Equal(t, []byte{1, 2, 3, 4}, dev.BufferContents(dst))
}

func TestExecutorTimeout(t *testing.T) {
	dev := gputest.New()
	dev.HoldSubmits = true
	exec := New(dev)

	exec.Begin()
	err := exec.SubmitAndWaitTimeout(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTimeout))

	// the next recording waits for the outstanding work first
	exec.Begin()
	exec.SubmitAndWait()
	assert.Len(t, dev.Submits(), 2)
	assert.Empty(t, dev.Violations())
	exec.Destroy()
}

func TestExecutorMisuseIsFatal(t *testing.T) {
	dev := gputest.New()
	exec := New(dev)
	defer exec.Destroy()

	assert.Panics(t, func() { exec.SubmitAndWait() })

	exec.Begin()
	assert.Panics(t, func() { exec.Begin() })
}

func TestExecutorSubmitFailureIsFatal(t *testing.T) {
	dev := gputest.New()
	exec := New(dev)

	dev.FailNextSubmit = errors.New("queue lost")
	exec.Begin()
	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*core.FatalError)
		require.True(t, ok)
		assert.Contains(t, fe.Error(), "queue lost")
	}()
	exec.SubmitAndWait()
}
