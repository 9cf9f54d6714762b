package frame

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, slots int) (*Arena, *resources.Registry, *gputest.Device) {
	t.Helper()
	dev := gputest.New()
	exec := commands.New(dev)
	t.Cleanup(exec.Destroy)
	reg := resources.NewRegistry(dev, exec)
	return NewArena(reg, slots), reg, dev
}

func TestTransientReleasedOnSlotReuse(t *testing.T) {
	arena, reg, dev := newTestArena(t, 3)

	arena.SwitchToFrame(0)
	h := arena.CreateAndUploadTransient(gpu.BufferUsageUniform, gpu.MemoryHostShared, resources.RawData(make([]byte, 64)), "per frame")
	count, ok := reg.RefCount(h)
	require.True(t, ok)
	assert.Equal(t, uint32(1), count, "the arena is the only owner")
	assert.Equal(t, 1, arena.Pending(0))

	// the frame loop waits on slot 0's fence before coming back to it
	arena.SwitchToFrame(1)
	arena.SwitchToFrame(2)
	assert.True(t, reg.Contains(h), "transient must live until its slot comes around")

	arena.SwitchToFrame(0)
	assert.False(t, reg.Contains(h))
	assert.Zero(t, arena.Pending(0))
	assert.Equal(t, 1, dev.Created(gputest.KindBuffer))
	assert.Zero(t, dev.Live(gputest.KindBuffer))
	assert.Empty(t, dev.Violations())
}

func TestSlotsDoNotOverlap(t *testing.T) {
	arena, reg, _ := newTestArena(t, 2)
	data := resources.F32Data([]float32{1, 2, 3, 4})

	var previous []resources.BufferHandle
	for frame := 0; frame < 6; frame++ {
		i := frame % 2
		arena.SwitchToFrame(i)
		if frame >= 2 {
			// everything slot i held two frames ago is gone before new work
			for _, h := range previous[frame-2 : frame-1] {
				assert.False(t, reg.Contains(h))
			}
		}
		previous = append(previous, arena.CreateAndUploadTransient(gpu.BufferUsageVertex, gpu.MemoryHostShared, data, "instances"))
		assert.Equal(t, 1, arena.Pending(i))
	}
	assert.Equal(t, 2, reg.Count())
}

func TestSharedOwnershipWithCreator(t *testing.T) {
	arena, reg, _ := newTestArena(t, 2)

	mesh := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 128, "mesh")
	tex := reg.CreateImage(resources.ImageCreateInfo{Desc: gpu.ImageDesc{Width: 4, Height: 4, Format: gpu.FormatRGBA8Srgb, Usage: gpu.ImageUsageSampled}}, "tex")

	arena.SwitchToFrame(0)
	arena.AddBufferRef(mesh)
	arena.AddImageRef(tex)
	count, _ := reg.RefCount(mesh)
	assert.Equal(t, uint32(2), count)

	// the creator lets go while the frame is still in flight
	reg.Deref(mesh)
	reg.Deref(tex)
	assert.True(t, reg.Contains(mesh))
	assert.True(t, reg.Contains(tex))

	arena.SwitchToFrame(1)
	arena.SwitchToFrame(0)
	assert.False(t, reg.Contains(mesh))
	assert.False(t, reg.Contains(tex))
}

func TestTransientImageOwnedBySlot(t *testing.T) {
	arena, reg, dev := newTestArena(t, 2)
	info := resources.ImageCreateInfo{
		Desc:    gpu.ImageDesc{Width: 64, Height: 64, Format: gpu.FormatRGBA16Sfloat, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled},
		Sampler: &gpu.SamplerDesc{},
	}

	arena.SwitchToFrame(1)
	h := arena.CreateTransientImage(info, "bloom/scratch")
	count, ok := reg.RefCount(h)
	require.True(t, ok)
	assert.Equal(t, uint32(1), count, "the arena is the only owner")
	assert.Equal(t, 1, arena.Pending(1))
	assert.Zero(t, arena.Pending(0))
	img, _ := reg.Image(h)
	assert.Equal(t, gpu.LayoutUndefined, img.Layout)

	arena.SwitchToFrame(0)
	assert.True(t, reg.Contains(h))
	arena.SwitchToFrame(1)
	assert.False(t, reg.Contains(h))
	assert.Zero(t, dev.Live(gputest.KindImage))
	assert.Zero(t, dev.Live(gputest.KindImageView))
	assert.Zero(t, dev.Live(gputest.KindSampler))
	assert.Empty(t, dev.Violations())
}

func TestCleanupAllAndResize(t *testing.T) {
	arena, reg, dev := newTestArena(t, 3)

	for i := 0; i < 3; i++ {
		arena.SwitchToFrame(i)
		arena.CreateAndUploadTransient(gpu.BufferUsageVertex, gpu.MemoryHostShared, resources.U32Data([]uint32{uint32(i)}), "t")
	}
	assert.Equal(t, 3, reg.Count())

	arena.Resize(2)
	assert.Equal(t, 2, arena.SlotCount())
	assert.Equal(t, 2, reg.Count(), "slot 2 released on shrink")
	assert.Equal(t, 0, arena.Current())

	arena.Resize(4)
	assert.Equal(t, 4, arena.SlotCount())
	assert.Zero(t, arena.Pending(3))

	arena.CleanupAll()
	assert.Zero(t, reg.Count())
	assert.Zero(t, dev.Live(gputest.KindBuffer))
}

func TestSwitchOutOfRangeIsFatal(t *testing.T) {
	arena, _, _ := newTestArena(t, 2)
	assert.Panics(t, func() { arena.SwitchToFrame(2) })
	assert.Panics(t, func() { arena.SwitchToFrame(-1) })
	assert.Panics(t, func() { NewArena(nil, 0) })
}
