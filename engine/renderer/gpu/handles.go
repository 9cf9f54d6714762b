package gpu

// Handles are opaque, non-zero identifiers issued by a Device. The zero
// value of every handle type is the null handle.
type (
	Buffer        uint64
	Image         uint64
	ImageView     uint64
	Sampler       uint64
	Fence         uint64
	Semaphore     uint64
	CommandBuffer uint64
	RenderPass    uint64
	Framebuffer   uint64
	Pipeline      uint64
	Swapchain     uint64

	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
)

// Extent is a two dimensional size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// ExtentUndefined is reported by a surface whose size is decided by the
// swapchain.
const ExtentUndefined = ^uint32(0)

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

type Rect struct {
	X, Y   int32
	Extent Extent
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// FullViewport covers the whole extent with the default depth range.
func FullViewport(e Extent) Viewport {
	return Viewport{Width: float32(e.Width), Height: float32(e.Height), MaxDepth: 1}
}
