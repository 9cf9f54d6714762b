package resources

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *gputest.Device) {
	t.Helper()
	dev := gputest.New()
	exec := commands.New(dev)
	t.Cleanup(exec.Destroy)
	return NewRegistry(dev, exec), dev
}

func textureInfo(w, h uint32) ImageCreateInfo {
	return ImageCreateInfo{
		Desc: gpu.ImageDesc{
			Width:  w,
			Height: h,
			Format: gpu.FormatRGBA8Srgb,
			Usage:  gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
			Memory: gpu.MemoryDeviceLocal,
		},
		Sampler: &gpu.SamplerDesc{MagFilter: gpu.FilterLinear, MinFilter: gpu.FilterLinear},
	}
}

func recoverFatal(t *testing.T, fn func()) *core.FatalError {
	t.Helper()
	var fe *core.FatalError
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected fatal panic")
			var ok bool
			fe, ok = r.(*core.FatalError)
			require.True(t, ok, "panic value %T", r)
		}()
		fn()
	}()
	return fe
}

func TestRefDerefScenario(t *testing.T) {
	reg, dev := newTestRegistry(t)

	h := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 256, "test")
	reg.Ref(h)
	count, ok := reg.RefCount(h)
	require.True(t, ok)
	assert.Equal(t, uint32(2), count)

	reg.Deref(h)
	count, ok = reg.RefCount(h)
	require.True(t, ok, "resource must survive the first deref")
	assert.Equal(t, uint32(1), count)
	buf, ok := reg.Buffer(h)
	require.True(t, ok)
	assert.Equal(t, uint64(256), buf.Size)
	assert.Equal(t, 1, dev.Live(gputest.KindBuffer))

	reg.Deref(h)
	assert.False(t, reg.Contains(h))
	_, ok = reg.Buffer(h)
	assert.False(t, ok)
	assert.Zero(t, dev.Live(gputest.KindBuffer))
	assert.Zero(t, reg.Count())
	assert.Empty(t, dev.Violations())
}

func TestRefCountConvergesToSingleDestruction(t *testing.T) {
	reg, dev := newTestRegistry(t)

	h := reg.CreateImage(textureInfo(4, 4), "albedo")
	const owners = 5
	for i := 0; i < owners; i++ {
		reg.Ref(h)
	}
	// interleave derefs from several owners
	for i := 0; i < owners; i++ {
		reg.Deref(h)
		reg.Ref(h)
		reg.Deref(h)
		assert.True(t, reg.Contains(h))
		assert.Equal(t, 1, dev.Live(gputest.KindImage))
	}
	reg.Deref(h)

	assert.False(t, reg.Contains(h))
	assert.Equal(t, 1, dev.Created(gputest.KindImage))
	assert.Zero(t, dev.Live(gputest.KindImage))
	assert.Zero(t, dev.Live(gputest.KindImageView))
	assert.Zero(t, dev.Live(gputest.KindSampler))
	assert.Empty(t, dev.Violations(), "native objects destroyed more than once")
}

func TestStaleHandleDoesNotAliasReusedSlot(t *testing.T) {
	reg, _ := newTestRegistry(t)

	old := reg.CreateBuffer(gpu.BufferUsageUniform, gpu.MemoryHostShared, 16, "old")
	reg.Deref(old)
	fresh := reg.CreateBuffer(gpu.BufferUsageUniform, gpu.MemoryHostShared, 32, "fresh")

	assert.Equal(t, old.h.index, fresh.h.index, "slot should be reused")
	assert.False(t, reg.Contains(old))
	assert.True(t, reg.Contains(fresh))

	fe := recoverFatal(t, func() { reg.Deref(old) })
	assert.True(t, errors.Is(fe, core.ErrInvalidHandle))
	count, _ := reg.RefCount(fresh)
	assert.Equal(t, uint32(1), count)
}

func TestMisuseIsFatal(t *testing.T) {
	reg, dev := newTestRegistry(t)

	assert.Panics(t, func() { reg.Ref(BufferHandle{}) })
	assert.Panics(t, func() { reg.Deref(ImageHandle{}) })

	h := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 8, "once")
	reg.Deref(h)
	assert.Panics(t, func() { reg.Deref(h) }, "double deref")

	small := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 4, "small")
	assert.Panics(t, func() { reg.UploadToBuffer(small, make([]byte, 8)) })

	dev.FailNextAllocation = errors.New("out of device memory")
	fe := recoverFatal(t, func() { reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryDeviceLocal, 64, "oom") })
	assert.Contains(t, fe.Error(), "out of device memory")
}

func TestDescriptorKindFromUsage(t *testing.T) {
	reg, _ := newTestRegistry(t)

	u := reg.CreateBuffer(gpu.BufferUsageUniform, gpu.MemoryHostShared, 64, "ubo")
	s := reg.CreateBuffer(gpu.BufferUsageStorage|gpu.BufferUsageUniform, gpu.MemoryHostShared, 64, "ssbo")
	v := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 64, "vbo")

	for h, want := range map[BufferHandle]DescriptorKind{u: DescriptorUniform, s: DescriptorStorage, v: DescriptorNone} {
		buf, ok := reg.Buffer(h)
		require.True(t, ok)
		assert.Equal(t, want, buf.Descriptor)
	}
}

func TestCreateBufferWithData(t *testing.T) {
	reg, dev := newTestRegistry(t)
	indices := U16Data([]uint16{0, 1, 2, 2, 3, 0})

	host := reg.CreateBufferWithData(gpu.BufferUsageIndex, gpu.MemoryHostShared, indices, "host indices")
	buf, ok := reg.Buffer(host)
	require.True(t, ok)
	assert.Equal(t, indices.Bytes(), dev.BufferContents(buf.Buffer))
	assert.Zero(t, dev.CommandCount("CopyBuffer"), "host visible data is written directly")

	local := reg.CreateBufferWithData(gpu.BufferUsageIndex, gpu.MemoryDeviceLocal, indices, "device indices")
	buf, ok = reg.Buffer(local)
	require.True(t, ok)
	assert.Equal(t, indices.Bytes(), dev.BufferContents(buf.Buffer))
	assert.Equal(t, 1, dev.CommandCount("CopyBuffer"))
	assert.NotZero(t, buf.Usage&gpu.BufferUsageTransferDst)
	it, ok := buf.Data.IndexType()
	require.True(t, ok)
	assert.Equal(t, gpu.IndexUint16, it)

	// staging buffer released
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, 2, dev.Live(gputest.KindBuffer))
}

func TestUploadToImage(t *testing.T) {
	reg, dev := newTestRegistry(t)
	info := textureInfo(2, 2)
	h := reg.CreateImage(info, "checker")

	img, ok := reg.Image(h)
	require.True(t, ok)
	assert.Equal(t, gpu.LayoutUndefined, img.Layout)

	pixels := []byte{
		255, 255, 255, 255, 0, 0, 0, 255,
		0, 0, 0, 255, 255, 255, 255, 255,
	}
	reg.UploadToImage(h, FullCopy(img.Desc), pixels)

	assert.Equal(t, pixels, dev.ImageContents(img.Image))
	assert.Equal(t, gpu.LayoutTransferDst, img.Layout)
	barriers := dev.BarriersFor(img.Image)
	require.Len(t, barriers, 1)
	assert.Equal(t, gpu.LayoutUndefined, barriers[0].OldLayout)
	assert.Equal(t, gpu.LayoutTransferDst, barriers[0].NewLayout)

	assert.Equal(t, 1, reg.Count(), "staging buffer must be destroyed")
	assert.Zero(t, dev.Live(gputest.KindBuffer))
	assert.Empty(t, dev.Violations())
}

func TestTransitionLayoutIsIdempotent(t *testing.T) {
	reg, dev := newTestRegistry(t)
	h := reg.CreateImage(textureInfo(8, 8), "target")

	for i := 0; i < 2; i++ {
		reg.TransitionLayout(h, gpu.LayoutShaderReadOnly,
			gpu.AccessNone, gpu.AccessShaderRead,
			gpu.StageTopOfPipe, gpu.StageFragmentShader)
	}
	assert.Equal(t, 1, dev.CommandCount("ImageBarrier"))
	assert.Len(t, dev.Submits(), 1)

	img, _ := reg.Image(h)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout)
	assert.Equal(t, gpu.AccessShaderRead, img.Access)
	assert.Equal(t, gpu.StageFragmentShader, img.Stage)
}

func TestRecordTransitionTracksOrder(t *testing.T) {
	reg, dev := newTestRegistry(t)
	h := reg.CreateImage(textureInfo(8, 8), "ordered")

	cb, err := dev.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, dev.BeginCommandBuffer(cb, true))
	assert.True(t, reg.RecordTransition(cb, h, gpu.LayoutColorAttachment, gpu.AccessNone, gpu.AccessColorAttachmentWrite, gpu.StageTopOfPipe, gpu.StageColorAttachmentOutput))
	assert.False(t, reg.RecordTransition(cb, h, gpu.LayoutColorAttachment, gpu.AccessNone, gpu.AccessColorAttachmentWrite, gpu.StageTopOfPipe, gpu.StageColorAttachmentOutput))
	assert.True(t, reg.RecordTransition(cb, h, gpu.LayoutShaderReadOnly, gpu.AccessColorAttachmentWrite, gpu.AccessShaderRead, gpu.StageColorAttachmentOutput, gpu.StageFragmentShader))

	img, _ := reg.Image(h)
	barriers := dev.BarriersFor(img.Image)
	require.Len(t, barriers, 2)
	assert.Equal(t, gpu.LayoutUndefined, barriers[0].OldLayout)
	assert.Equal(t, gpu.LayoutColorAttachment, barriers[1].OldLayout)
	assert.Equal(t, gpu.LayoutShaderReadOnly, barriers[1].NewLayout)
}

func TestSetImageStateFeedsNextBarrier(t *testing.T) {
	reg, dev := newTestRegistry(t)
	h := reg.CreateImage(textureInfo(8, 8), "pass target")

	// a render pass final layout moved the image without a barrier
	reg.SetImageState(h, gpu.LayoutShaderReadOnly, gpu.AccessShaderRead, gpu.StageFragmentShader)
	img, _ := reg.Image(h)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout)
	assert.Equal(t, gpu.AccessShaderRead, img.Access)
	assert.Equal(t, gpu.StageFragmentShader, img.Stage)
	assert.Zero(t, dev.CommandCount("ImageBarrier"))

	cb, err := dev.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, dev.BeginCommandBuffer(cb, true))
	assert.False(t, reg.RecordTransition(cb, h, gpu.LayoutShaderReadOnly, gpu.AccessNone, gpu.AccessShaderRead, gpu.StageTopOfPipe, gpu.StageFragmentShader))
	assert.True(t, reg.RecordTransition(cb, h, gpu.LayoutTransferSrc, img.Access, gpu.AccessTransferRead, img.Stage, gpu.StageTransfer))
	barriers := dev.BarriersFor(img.Image)
	require.Len(t, barriers, 1)
	assert.Equal(t, gpu.LayoutShaderReadOnly, barriers[0].OldLayout)
	assert.Equal(t, gpu.AccessShaderRead, barriers[0].SrcAccess)

	reg.Deref(h)
	fe := recoverFatal(t, func() {
		reg.SetImageState(h, gpu.LayoutGeneral, gpu.AccessNone, gpu.StageTopOfPipe)
	})
	assert.True(t, errors.Is(fe, core.ErrInvalidHandle))
}

func TestTagSurvivesStaleAndNilResources(t *testing.T) {
	reg, _ := newTestRegistry(t)
	h := reg.CreateBuffer(gpu.BufferUsageUniform, gpu.MemoryHostShared, 16, "camera")
	assert.Equal(t, "camera", reg.Tag(h))

	reg.Deref(h)
	assert.Empty(t, reg.Tag(h))
	assert.Empty(t, reg.Tag(BufferHandle{}))
	assert.NotPanics(t, func() { assert.Empty(t, reg.Tag(nil)) })
}

func TestDestroyAllForcesDestruction(t *testing.T) {
	reg, dev := newTestRegistry(t)

	b := reg.CreateBuffer(gpu.BufferUsageVertex, gpu.MemoryHostShared, 128, "leaky")
	reg.Ref(b)
	i := reg.CreateImage(textureInfo(4, 4), "leaky image")

	live := reg.LiveResources()
	require.Len(t, live, 2)
	assert.Equal(t, "leaky", live[0].Tag)
	assert.Equal(t, uint32(2), live[0].RefCount)
	assert.Equal(t, uint64(128), live[0].Size)
	assert.Equal(t, KindImage, live[1].Kind)
	assert.Equal(t, uint64(64), live[1].Size)
	assert.NotEqual(t, live[0].ID, live[1].ID)

	reg.DestroyAll()
	assert.Zero(t, reg.Count())
	assert.False(t, reg.Contains(b))
	assert.False(t, reg.Contains(i))
	assert.Zero(t, dev.Live(gputest.KindBuffer))
	assert.Zero(t, dev.Live(gputest.KindImage))
	assert.Zero(t, dev.Live(gputest.KindImageView))
	assert.Zero(t, dev.Live(gputest.KindSampler))
	assert.Empty(t, dev.Violations())
}

func TestCubeImageDefaultsToSixLayers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	info := textureInfo(16, 16)
	info.Desc.Cube = true
	h := reg.CreateImage(info, "skybox")
	img, ok := reg.Image(h)
	require.True(t, ok)
	assert.Equal(t, uint32(6), img.Desc.ArrayLayers)
	assert.Equal(t, uint32(6), img.Range.LayerCount)
}
