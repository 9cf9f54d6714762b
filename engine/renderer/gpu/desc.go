package gpu

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryFlags
}

type ImageDesc struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	Format      Format
	Usage       ImageUsage
	Memory      MemoryFlags
	// Cube images need six array layers.
	Cube bool
}

// SubresourceRange selects mip levels and array layers of an image.
type SubresourceRange struct {
	Aspect     Aspect
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// FullRange covers every mip level and layer of an image created from desc.
func FullRange(desc ImageDesc) SubresourceRange {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	layers := desc.ArrayLayers
	if layers == 0 {
		layers = 1
	}
	return SubresourceRange{
		Aspect:     desc.Format.Aspect(),
		MipCount:   mips,
		LayerCount: layers,
	}
}

type ImageViewDesc struct {
	Image  Image
	Format Format
	Range  SubresourceRange
	Cube   bool
}

type SamplerDesc struct {
	MagFilter   Filter
	MinFilter   Filter
	AddressMode AddressMode
	// Zero disables anisotropic filtering.
	MaxAnisotropy float32
}

type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       Aspect
	MipLevel     uint32
	BaseLayer    uint32
	LayerCount   uint32
	OffsetX      int32
	OffsetY      int32
	OffsetZ      int32
	Width        uint32
	Height       uint32
	Depth        uint32
}

type ImageBarrier struct {
	Image     Image
	Range     SubresourceRange
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess Access
	DstAccess Access
	SrcStage  PipelineStage
	DstStage  PipelineStage
}

type RenderPassDesc struct {
	ColorFormat        Format
	ColorLoad          LoadOp
	ColorInitialLayout ImageLayout
	ColorFinalLayout   ImageLayout
	// FormatUndefined means the pass has no depth attachment.
	DepthFormat        Format
	DepthInitialLayout ImageLayout
	DepthFinalLayout   ImageLayout
}

func (d RenderPassDesc) HasDepth() bool {
	return d.DepthFormat != FormatUndefined
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Extent      Extent
}

type RenderPassBegin struct {
	RenderPass   RenderPass
	Framebuffer  Framebuffer
	Area         Rect
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

type VertexBinding struct {
	Binding     uint32
	Stride      uint32
	PerInstance bool
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type PipelineDesc struct {
	Name             string
	VertexCode       []uint32
	FragmentCode     []uint32
	RenderPass       RenderPass
	Bindings         []VertexBinding
	Attributes       []VertexAttribute
	// Set layouts in set index order.
	SetLayouts       []DescriptorSetLayout
	PushConstantSize uint32
	DepthTest        bool
	DepthWrite       bool
	CullBackFaces    bool
	Blend            bool
}

// DescriptorBinding declares Count descriptors of one type at a binding.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorSetLayoutDesc struct {
	Name     string
	Bindings []DescriptorBinding
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorPoolDesc struct {
	MaxSets uint32
	Sizes   []DescriptorPoolSize
}

type DescriptorImage struct {
	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

type DescriptorBuffer struct {
	Buffer Buffer
	Offset uint64
	// Zero means the rest of the buffer.
	Range uint64
}

// DescriptorWrite updates consecutive array elements of one binding. Images
// are used by sampler bindings, Buffers by uniform and storage bindings.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Images       []DescriptorImage
	Buffers      []DescriptorBuffer
}

func (w DescriptorWrite) Count() int {
	if w.Type == DescriptorCombinedImageSampler {
		return len(w.Images)
	}
	return len(w.Buffers)
}

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	Wait          []Semaphore
	WaitStages    []PipelineStage
	Signal        []Semaphore
	// Signaled when the command buffer completes. May be null.
	Fence Fence
}

// SurfaceInfo is what the presentation surface currently supports.
type SurfaceInfo struct {
	MinImageCount uint32
	// Zero means no upper limit.
	MaxImageCount uint32
	// Width is ExtentUndefined when the swapchain decides the size.
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
	Formats       []SurfaceFormat
	PresentModes  []PresentMode
}

type SwapchainDesc struct {
	ImageCount  uint32
	Format      SurfaceFormat
	PresentMode PresentMode
	Extent      Extent
	// Swapchain being replaced, may be null.
	Old Swapchain
}
