package engine

import (
	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine before FnInitialize runs.
	Registry     *resources.Registry
	AssetManager *assets.AssetManager
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render fills info with what should be drawn this frame.
type Render func(info *metadata.SceneRenderInfo, deltaTime float64) error
type OnResize func(width uint32, height uint32) error

// Shutdown releases the game's resources. The device is idle and the
// registry is still alive.
type Shutdown func() error
