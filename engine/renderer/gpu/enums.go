package gpu

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA16Sfloat
	FormatRGBA32Sfloat
	FormatR32Sfloat
	FormatRG32Sfloat
	FormatRGB32Sfloat
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

var formatNames = map[Format]string{
	FormatUndefined:       "undefined",
	FormatRGBA8Unorm:      "rgba8_unorm",
	FormatRGBA8Srgb:       "rgba8_srgb",
	FormatBGRA8Unorm:      "bgra8_unorm",
	FormatBGRA8Srgb:       "bgra8_srgb",
	FormatRGBA16Sfloat:    "rgba16_sfloat",
	FormatRGBA32Sfloat:    "rgba32_sfloat",
	FormatR32Sfloat:       "r32_sfloat",
	FormatRG32Sfloat:      "rg32_sfloat",
	FormatRGB32Sfloat:     "rgb32_sfloat",
	FormatD32Sfloat:       "d32_sfloat",
	FormatD32SfloatS8Uint: "d32_sfloat_s8_uint",
	FormatD24UnormS8Uint:  "d24_unorm_s8_uint",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// Aspect returns the aspect a full view of an image in this format covers.
func (f Format) Aspect() Aspect {
	switch {
	case f.HasStencil():
		return AspectDepth | AspectStencil
	case f.IsDepth():
		return AspectDepth
	}
	return AspectColor
}

// BytesPerPixel returns the texel size of uncompressed color formats, zero
// otherwise.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatRGBA8Srgb, FormatBGRA8Unorm, FormatBGRA8Srgb, FormatR32Sfloat:
		return 4
	case FormatRGBA16Sfloat, FormatRG32Sfloat:
		return 8
	case FormatRGB32Sfloat:
		return 12
	case FormatRGBA32Sfloat:
		return 16
	}
	return 0
}

func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s && f != FormatUndefined {
			return f, nil
		}
	}
	return FormatUndefined, errors.Newf("unknown format %q", s)
}

type ColorSpace uint8

const (
	ColorSpaceSRGBNonlinear ColorSpace = iota
)

func (c ColorSpace) String() string {
	if c == ColorSpaceSRGBNonlinear {
		return "srgb_nonlinear"
	}
	return fmt.Sprintf("colorspace(%d)", uint8(c))
}

func ParseColorSpace(s string) (ColorSpace, error) {
	if strings.ToLower(strings.TrimSpace(s)) == "srgb_nonlinear" {
		return ColorSpaceSRGBNonlinear, nil
	}
	return 0, errors.Newf("unknown color space %q", s)
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode uint8

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeFifoRelaxed
)

func (p PresentMode) String() string {
	switch p {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo_relaxed"
	}
	return fmt.Sprintf("presentmode(%d)", uint8(p))
}

// IsFIFO reports whether the mode presents in queue order with vsync.
func (p PresentMode) IsFIFO() bool {
	return p == PresentModeFifo || p == PresentModeFifoRelaxed
}

func ParsePresentMode(s string) (PresentMode, error) {
	for _, p := range []PresentMode{PresentModeImmediate, PresentModeMailbox, PresentModeFifo, PresentModeFifoRelaxed} {
		if p.String() == strings.ToLower(strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return 0, errors.Newf("unknown present mode %q", s)
}

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color_attachment"
	case LayoutDepthStencilAttachment:
		return "depth_stencil_attachment"
	case LayoutShaderReadOnly:
		return "shader_read_only"
	case LayoutTransferSrc:
		return "transfer_src"
	case LayoutTransferDst:
		return "transfer_dst"
	case LayoutPresentSrc:
		return "present_src"
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

// Access and PipelineStage bits share their values with the Vulkan flags.
type Access uint32

const (
	AccessNone                 Access = 0
	AccessIndirectCommandRead  Access = 1 << 0
	AccessIndexRead            Access = 1 << 1
	AccessVertexAttributeRead  Access = 1 << 2
	AccessUniformRead          Access = 1 << 3
	AccessShaderRead           Access = 1 << 5
	AccessShaderWrite          Access = 1 << 6
	AccessColorAttachmentRead  Access = 1 << 7
	AccessColorAttachmentWrite Access = 1 << 8
	AccessDepthStencilRead     Access = 1 << 9
	AccessDepthStencilWrite    Access = 1 << 10
	AccessTransferRead         Access = 1 << 11
	AccessTransferWrite        Access = 1 << 12
	AccessHostRead             Access = 1 << 13
	AccessHostWrite            Access = 1 << 14
	AccessMemoryRead           Access = 1 << 15
	AccessMemoryWrite          Access = 1 << 16
)

type PipelineStage uint32

const (
	StageNone                  PipelineStage = 0
	StageTopOfPipe             PipelineStage = 1 << 0
	StageDrawIndirect          PipelineStage = 1 << 1
	StageVertexInput           PipelineStage = 1 << 2
	StageVertexShader          PipelineStage = 1 << 3
	StageFragmentShader        PipelineStage = 1 << 7
	StageEarlyFragmentTests    PipelineStage = 1 << 8
	StageLateFragmentTests     PipelineStage = 1 << 9
	StageColorAttachmentOutput PipelineStage = 1 << 10
	StageComputeShader         PipelineStage = 1 << 11
	StageTransfer              PipelineStage = 1 << 12
	StageBottomOfPipe          PipelineStage = 1 << 13
	StageHost                  PipelineStage = 1 << 14
	StageAllGraphics           PipelineStage = 1 << 15
	StageAllCommands           PipelineStage = 1 << 16
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

type MemoryFlags uint32

const (
	MemoryDeviceLocal MemoryFlags = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
)

// MemoryHostShared is the usual choice for buffers written by the CPU every
// frame.
const MemoryHostShared = MemoryHostVisible | MemoryHostCoherent

func (m MemoryFlags) HostVisible() bool {
	return m&MemoryHostVisible != 0
}

type Aspect uint32

const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

type IndexType uint8

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

func (t IndexType) Size() uint32 {
	if t == IndexUint16 {
		return 2
	}
	return 4
}

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterNearest
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressMirroredRepeat
)

type LoadOp uint8

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type DescriptorType uint8

const (
	DescriptorCombinedImageSampler DescriptorType = iota
	DescriptorUniformBuffer
	DescriptorStorageBuffer
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorCombinedImageSampler:
		return "combined_image_sampler"
	case DescriptorUniformBuffer:
		return "uniform_buffer"
	case DescriptorStorageBuffer:
		return "storage_buffer"
	}
	return fmt.Sprintf("descriptor(%d)", uint8(t))
}

// Status is the non-error outcome of acquire and present operations.
type Status uint8

const (
	StatusSuccess Status = iota
	// The swapchain still works but no longer matches the surface.
	StatusSuboptimal
	// The swapchain cannot be used anymore and must be recreated.
	StatusOutOfDate
	// The wait expired before an image became available.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out_of_date"
	case StatusTimeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}
