package commands

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type executorState int

const (
	EXECUTOR_STATE_READY executorState = iota
	EXECUTOR_STATE_RECORDING
	// submitted but the wait timed out, the next Begin waits for it
	EXECUTOR_STATE_PENDING
)

// Executor records one-shot command buffers and submits them synchronously.
// It owns a single command buffer and a fence created signaled; every
// submission blocks until the device signals the fence, then both are reset
// for the next use.
type Executor struct {
	device        gpu.Device
	commandBuffer gpu.CommandBuffer
	fence         gpu.Fence
	// mirrors the device side state so resets are only issued when needed
	fenceSignaled bool
	state         executorState
}

func New(device gpu.Device) *Executor {
	cb, err := device.AllocateCommandBuffer()
	core.FatalIf(err, "failed to allocate one-shot command buffer")
	fence, err := device.CreateFence(true)
	core.FatalIf(err, "failed to create one-shot fence")
	return &Executor{
		device:        device,
		commandBuffer: cb,
		fence:         fence,
		fenceSignaled: true,
		state:         EXECUTOR_STATE_READY,
	}
}

// Begin starts recording and returns the command buffer to record into.
func (e *Executor) Begin() gpu.CommandBuffer {
	switch e.state {
	case EXECUTOR_STATE_RECORDING:
		core.Fatalf("one-shot command buffer is already recording")
	case EXECUTOR_STATE_PENDING:
		e.wait(gpu.WaitForever)
		e.reset()
	}
	core.FatalIf(e.device.BeginCommandBuffer(e.commandBuffer, true), "failed to begin one-shot command buffer")
	e.state = EXECUTOR_STATE_RECORDING
	return e.commandBuffer
}

// SubmitAndWait ends recording, submits and blocks until the device is done.
func (e *Executor) SubmitAndWait() {
	// cannot time out
	_ = e.SubmitAndWaitTimeout(gpu.WaitForever)
}

// SubmitAndWaitTimeout is SubmitAndWait with a bounded wait. On timeout it
// returns core.ErrTimeout and the work stays in flight; the next Begin
// waits for it before reusing the command buffer.
func (e *Executor) SubmitAndWaitTimeout(timeout time.Duration) error {
	if e.state != EXECUTOR_STATE_RECORDING {
		core.Fatalf("submitting a one-shot command buffer that is not recording")
	}
	core.FatalIf(e.device.EndCommandBuffer(e.commandBuffer), "failed to end one-shot command buffer")

	if e.fenceSignaled {
		core.FatalIf(e.device.ResetFence(e.fence), "failed to reset one-shot fence")
		e.fenceSignaled = false
	}
	core.FatalIf(e.device.Submit(gpu.SubmitInfo{
		CommandBuffer: e.commandBuffer,
		Fence:         e.fence,
	}), "failed to submit one-shot command buffer")
	e.state = EXECUTOR_STATE_PENDING

	if !e.wait(timeout) {
		core.LogWarn("one-shot submission did not complete within %s", timeout)
		return errors.Wrapf(core.ErrTimeout, "one-shot submission after %s", timeout)
	}
	e.reset()
	return nil
}

// Run records with fn and submits synchronously.
func (e *Executor) Run(fn func(cb gpu.CommandBuffer)) {
	fn(e.Begin())
	e.SubmitAndWait()
}

func (e *Executor) wait(timeout time.Duration) bool {
	if e.fenceSignaled {
		return true
	}
	ok, err := e.device.WaitFence(e.fence, timeout)
	core.FatalIf(err, "failed waiting on one-shot fence")
	if ok {
		e.fenceSignaled = true
	}
	return ok
}

func (e *Executor) reset() {
	core.FatalIf(e.device.ResetFence(e.fence), "failed to reset one-shot fence")
	e.fenceSignaled = false
	core.FatalIf(e.device.ResetCommandBuffer(e.commandBuffer), "failed to reset one-shot command buffer")
	e.state = EXECUTOR_STATE_READY
}

// Destroy releases the fence. The command buffer goes away with its pool.
func (e *Executor) Destroy() {
	if e.state == EXECUTOR_STATE_PENDING {
		e.wait(gpu.WaitForever)
	}
	if e.fence != 0 {
		e.device.DestroyFence(e.fence)
		e.fence = 0
	}
	e.fenceSignaled = false
}
