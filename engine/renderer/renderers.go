package renderer

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

type RendererKind uint8

const (
	// RendererClear only clears the targets.
	RendererClear RendererKind = iota
	RendererScene
)

var rendererKindNames = map[RendererKind]string{
	RendererClear: "clear",
	RendererScene: "scene",
}

func (k RendererKind) String() string {
	if s, ok := rendererKindNames[k]; ok {
		return s
	}
	return "unknown"
}

func ParseRendererKind(s string) (RendererKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range rendererKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown renderer kind %q", s)
}

// Renderer is the function table of one renderer. Prepare runs before the
// scene render pass begins and may record barriers; Record runs inside it.
// Neither may keep resources past the call except through the arena.
type Renderer struct {
	Name    string
	Prepare func(cb gpu.CommandBuffer, ctx *metadata.RenderContext, info *metadata.SceneRenderInfo, arena *frame.Arena)
	Record  func(cb gpu.CommandBuffer, ctx *metadata.RenderContext, info *metadata.SceneRenderInfo, arena *frame.Arena)
	Destroy func()
}

// ShaderCode is SPIR-V for one graphics pipeline.
type ShaderCode struct {
	Vertex   []uint32
	Fragment []uint32
}

func (s ShaderCode) IsEmpty() bool {
	return len(s.Vertex) == 0 || len(s.Fragment) == 0
}

// RendererDeps is what a renderer constructor gets to build itself.
type RendererDeps struct {
	Device      gpu.Device
	Registry    *resources.Registry
	RenderPass  gpu.RenderPass
	ColorFormat gpu.Format
	DepthFormat gpu.Format
	Shaders     ShaderCode
}

type RendererConstructor func(deps RendererDeps) (*Renderer, error)

var rendererTable = map[RendererKind]RendererConstructor{
	RendererClear: newClearRenderer,
	RendererScene: newSceneRenderer,
}

func createRenderer(kind RendererKind, deps RendererDeps) (*Renderer, error) {
	ctor, ok := rendererTable[kind]
	if !ok {
		return nil, errors.Newf("no constructor for renderer kind %s", kind)
	}
	r, err := ctor(deps)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s renderer", kind)
	}
	return r, nil
}

func newClearRenderer(deps RendererDeps) (*Renderer, error) {
	return &Renderer{Name: RendererClear.String()}, nil
}
