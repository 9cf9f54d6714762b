package metadata

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

/** @brief Byte size of one per-instance model matrix. */
const InstanceStride uint32 = 64

/**
 * @brief A single draw of a mesh. Handles are weak: the scene keeps its own
 * references and the renderer resolves them through the registry every frame.
 */
type MeshDraw struct {
	/** @brief Index buffer. A null handle draws non-indexed. */
	IndexBuffer resources.BufferHandle
	IndexCount  uint32
	/** @brief Interleaved position, normal and uv vertices. */
	VertexBuffer resources.BufferHandle
	VertexCount  uint32
	/** @brief Object to world transform. */
	Model mgl32.Mat4
	/** @brief Material textures in binding order. Missing or stale slots sample white. */
	Textures []resources.ImageHandle
	/** @brief Uniform buffer with the material factors. A null handle uses the defaults. */
	Material resources.BufferHandle
}

/** @brief Image based lighting inputs. Null handles are skipped. */
type IBLTextures struct {
	Irradiance resources.ImageHandle
	Prefilter  resources.ImageHandle
	BRDFLut    resources.ImageHandle
}

func (i IBLTextures) Handles() []resources.ImageHandle {
	out := make([]resources.ImageHandle, 0, 3)
	for _, h := range []resources.ImageHandle{i.Irradiance, i.Prefilter, i.BRDFLut} {
		if !h.IsNull() {
			out = append(out, h)
		}
	}
	return out
}

/** @brief Everything the renderers need from the scene for one frame. */
type SceneRenderInfo struct {
	Meshes         []MeshDraw
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
	CameraPosition mgl32.Vec3
	IBL            IBLTextures
}

/**
 * @brief Per call description of the render targets. Built fresh by the
 * render manager each frame and not owned by anyone.
 */
type RenderContext struct {
	ColorTarget resources.ImageHandle
	DepthTarget resources.ImageHandle
	RenderPass  gpu.RenderPass
	Framebuffer gpu.Framebuffer
	Area        gpu.Rect
	ClearColor  [4]float32
	/** @brief Swapchain slot being recorded. */
	Slot        uint32
	FrameNumber uint64
}

func (c *RenderContext) Extent() gpu.Extent {
	return c.Area.Extent
}
