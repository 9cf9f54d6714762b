package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesConfigurationFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[window]
title = "from file"
width = 640
height = 480

[log]
level = "warn"
`), 0o644))
	defer core.SetLogLevel(core.GetLogLevel())

	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path}})
	require.NoError(t, err)
	assert.Equal(t, "from file", e.config.Window.Title)
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)
	assert.Equal(t, core.WarnLevel, core.GetLogLevel())

	e, err = New(&Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path, Name: "override"}})
	require.NoError(t, err)
	assert.Equal(t, "override", e.config.Window.Title)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "kiln.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\npresent_mode = \"mailbox\"\n"), 0o644))
	_, err = New(&Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path}})
	assert.Error(t, err)
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{}})
	require.NoError(t, err)
	assert.Error(t, e.Run())
}

func TestSwapchainConfigFromDefaults(t *testing.T) {
	cfg := config.Default()
	sc, err := swapchainConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, gpu.FormatBGRA8Srgb, sc.Format)
	assert.Equal(t, gpu.ColorSpaceSRGBNonlinear, sc.ColorSpace)
	assert.Equal(t, gpu.PresentModeFifo, sc.PresentMode)
	assert.Equal(t, 3, sc.MaxAcquireAttempts)

	cfg.Renderer.SurfaceFormat = "bogus"
	_, err = swapchainConfig(cfg)
	assert.Error(t, err)
}

func TestRendererConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Renderers = []string{"clear", "scene"}
	cfg.Renderer.AcquireTimeout = config.Duration{Duration: 250 * time.Millisecond}

	rc, err := rendererConfig(cfg, &ApplicationConfig{})
	require.NoError(t, err)
	assert.Equal(t, []renderer.RendererKind{renderer.RendererClear, renderer.RendererScene}, rc.Renderers)
	assert.Equal(t, renderer.GUINone, rc.GUI)
	assert.Equal(t, 250*time.Millisecond, rc.AcquireTimeout)
	assert.Equal(t, cfg.Renderer.ClearColor, rc.ClearColor)

	hooks := &renderer.GUI{RecordOverlay: func(gpu.CommandBuffer, gpu.Framebuffer, gpu.Extent, resources.ImageHandle) {}}
	rc, err = rendererConfig(cfg, &ApplicationConfig{GUI: hooks})
	require.NoError(t, err)
	assert.Equal(t, renderer.GUICustom, rc.GUI)
	assert.Same(t, hooks, rc.GUIHooks)

	cfg.Renderer.Renderers = []string{"raytraced"}
	_, err = rendererConfig(cfg, nil)
	assert.Error(t, err)
}

func TestResizeSuspendsAndResumes(t *testing.T) {
	var resized [][2]uint32
	g := &Game{
		ApplicationConfig: &ApplicationConfig{},
		FnOnResize: func(w, h uint32) error {
			resized = append(resized, [2]uint32{w, h})
			return nil
		},
	}
	e, err := New(g)
	require.NoError(t, err)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	e.events.Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{Width: 0, Height: 0})
	assert.True(t, e.isSuspended)
	e.events.Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{Width: 800, Height: 600})
	assert.False(t, e.isSuspended)
	// same size again is ignored
	e.events.Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{Width: 800, Height: 600})

	assert.Equal(t, [][2]uint32{{800, 600}}, resized)
}

func TestEscapeQuits(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{}})
	require.NoError(t, err)
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.isRunning.Store(true)

	e.events.Fire(core.EVENT_CODE_KEY_PRESSED, nil, core.EventContext{Key: 'A'})
	assert.True(t, e.isRunning.Load())
	e.events.Fire(core.EVENT_CODE_KEY_PRESSED, nil, core.EventContext{Key: platform.KeyEscape})
	assert.False(t, e.isRunning.Load())
}
