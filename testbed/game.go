package testbed

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

// Texture sampled by the cubes when it exists in the asset directory.
const crateTexture = "textures/crate.png"

type TestGame struct {
	*engine.Game
}

type gameState struct {
	camera *math.Camera
	width  uint32
	height uint32

	vertices    resources.BufferHandle
	vertexCount uint32
	indices     resources.BufferHandle
	indexCount  uint32
	texture     resources.ImageHandle

	// the second and third cube orbit the first one
	cubes []*math.Transform
}

func NewTestGame(configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				ConfigPath:     configPath,
				Name:           "Kiln Testbed",
				WatchConfig:    true,
				VertexShader:   "scene.vert.spv",
				FragmentShader: "scene.frag.spv",
			},
			State: &gameState{
				camera: math.NewCamera(mgl32.Vec3{0, 4, 14}, mgl32.Vec3{}),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	state := g.state()

	vertices, indices := math.GenerateCube(2, 2, 2, 1, 1)
	state.vertexCount = uint32(len(vertices))
	state.indexCount = uint32(len(indices))
	state.vertices = g.Registry.CreateBufferWithData(
		gpu.BufferUsageVertex|gpu.BufferUsageTransferDst, gpu.MemoryDeviceLocal,
		resources.F32Data(math.Flatten(vertices)), "testbed_cube_vertices")
	state.indices = g.Registry.CreateBufferWithData(
		gpu.BufferUsageIndex|gpu.BufferUsageTransferDst, gpu.MemoryDeviceLocal,
		resources.U32Data(indices), "testbed_cube_indices")

	if tex, err := g.AssetManager.LoadTexture(crateTexture); err != nil {
		core.LogWarn("testbed running untextured: %s", err)
	} else {
		state.texture = tex
	}

	center := math.TransformCreate()
	orbit := math.TransformFromPosition(mgl32.Vec3{5, 0, 0})
	orbit.Parent = center
	orbit.SetScale(mgl32.Vec3{0.5, 0.5, 0.5})
	moon := math.TransformFromPosition(mgl32.Vec3{0, 4, 0})
	moon.Parent = orbit
	moon.SetScale(mgl32.Vec3{0.5, 0.5, 0.5})
	state.cubes = []*math.Transform{center, orbit, moon}

	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	spin := float32(deltaTime)
	state.cubes[0].Rotate(mgl32.QuatRotate(spin*0.5, mgl32.Vec3{0, 1, 0}))
	state.cubes[1].Rotate(mgl32.QuatRotate(spin, mgl32.Vec3{0, 1, 0}))
	state.cubes[2].Rotate(mgl32.QuatRotate(spin*2, mgl32.Vec3{1, 0, 0}))
	return nil
}

func (g *TestGame) Render(info *metadata.SceneRenderInfo, deltaTime float64) error {
	state := g.state()
	if state.width == 0 || state.height == 0 {
		return nil
	}
	aspect := float32(state.width) / float32(state.height)

	info.View = state.camera.View()
	info.Projection = state.camera.Projection(aspect)
	info.ViewProjection = info.Projection.Mul4(info.View)
	info.CameraPosition = state.camera.Position

	var textures []resources.ImageHandle
	if !state.texture.IsNull() {
		textures = []resources.ImageHandle{state.texture}
	}
	for _, t := range state.cubes {
		info.Meshes = append(info.Meshes, metadata.MeshDraw{
			VertexBuffer: state.vertices,
			VertexCount:  state.vertexCount,
			IndexBuffer:  state.indices,
			IndexCount:   state.indexCount,
			Model:        t.GetWorld(),
			Textures:     textures,
		})
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	state := g.state()
	if !state.texture.IsNull() {
		g.AssetManager.UnloadTexture(crateTexture)
	}
	g.Registry.Deref(state.indices)
	g.Registry.Deref(state.vertices)
	return nil
}
