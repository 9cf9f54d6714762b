package engine

import (
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/spaghettifunk/kiln/engine/renderer/swapchain"
	"github.com/spaghettifunk/kiln/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Everything is released
	EngineStageShutdown
)

// seconds between frame metric log lines
const metricsInterval = 5.0

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool

	config  *config.Config
	watcher *config.Watcher
	events  *core.EventBus

	platform      *platform.Platform
	device        gpu.Device
	executor      *commands.Executor
	registry      *resources.Registry
	swapchain     *swapchain.Controller
	renderManager *renderer.Manager
	assetManager  *assets.AssetManager

	width    uint32
	height   uint32
	clock    *core.Clock
	metrics  *core.FrameMetrics
	lastTime float64
	// FnInitialize returned without error, so FnShutdown owes a cleanup.
	gameInitialized bool
}

// New loads the configuration and prepares the engine. Nothing touches the
// window or the device before Initialize.
func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("game and application config are required")
	}
	cfg := config.Default()
	if g.ApplicationConfig.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(g.ApplicationConfig.ConfigPath); err != nil {
			return nil, err
		}
	}
	if g.ApplicationConfig.Name != "" {
		cfg.Window.Title = g.ApplicationConfig.Name
	}
	if err := cfg.Apply(); err != nil {
		return nil, err
	}

	events := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		events:       events,
		platform:     platform.New(events),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Newf("engine already initialized (stage %d)", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	cfg := e.config

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	scConfig, err := swapchainConfig(cfg)
	if err != nil {
		return err
	}
	rmConfig, err := rendererConfig(cfg, e.gameInstance.ApplicationConfig)
	if err != nil {
		return err
	}

	if err := e.platform.Startup(cfg.Window); err != nil {
		return err
	}

	device, err := vulkan.New(e.platform, vulkan.Config{
		ApplicationName: cfg.Window.Title,
		Validation:      cfg.Renderer.Validation,
	})
	if err != nil {
		return errors.Wrap(err, "creating vulkan device")
	}
	e.device = device
	e.executor = commands.New(device)
	e.registry = resources.NewRegistry(device, e.executor)

	e.assetManager = assets.NewAssetManager(e.registry)
	if err := e.assetManager.Initialize(cfg.Assets.Dir, cfg.Assets.Watch); err != nil {
		return err
	}
	rmConfig.Shaders = e.loadShaders()

	e.swapchain = swapchain.New(device, e.platform, scConfig)
	e.renderManager, err = renderer.NewManager(device, e.registry, e.swapchain, e.platform, rmConfig)
	if err != nil {
		return err
	}

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" && e.gameInstance.ApplicationConfig.WatchConfig {
		e.watcher, err = config.NewWatcher(path, e.onConfigChanged)
		if err != nil {
			core.LogWarn("configuration will not be reloaded: %v", err)
		}
	}

	e.gameInstance.Registry = e.registry
	e.gameInstance.AssetManager = e.assetManager
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	e.gameInitialized = true
	if e.gameInstance.FnOnResize != nil {
		extent := e.swapchain.Extent()
		if err := e.gameInstance.FnOnResize(extent.Width, extent.Height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized")
	return nil
}

func (e *Engine) loadShaders() renderer.ShaderCode {
	app := e.gameInstance.ApplicationConfig
	if app.VertexShader == "" || app.FragmentShader == "" {
		return renderer.ShaderCode{}
	}
	dir, err := filepath.Abs(e.config.Renderer.ShaderDir)
	if err != nil {
		core.LogWarn("shader directory %s: %v", e.config.Renderer.ShaderDir, err)
		return renderer.ShaderCode{}
	}
	vert, err := e.assetManager.LoadShader(filepath.Join(dir, app.VertexShader))
	if err != nil {
		core.LogWarn("vertex shader not loaded: %v", err)
		return renderer.ShaderCode{}
	}
	frag, err := e.assetManager.LoadShader(filepath.Join(dir, app.FragmentShader))
	if err != nil {
		core.LogWarn("fragment shader not loaded: %v", err)
		return renderer.ShaderCode{}
	}
	return renderer.ShaderCode{Vertex: vert, Fragment: frag}
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Newf("engine not initialized (stage %d)", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	lastReport := e.lastTime

	for e.isRunning.Load() {
		if e.platform.ShouldClose() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			// Nothing to present while minimized.
			e.platform.WaitEvents()
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		e.assetManager.Update()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %v", err)
				return err
			}
		}

		info := &metadata.SceneRenderInfo{}
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(info, delta); err != nil {
				core.LogError("Game render failed, shutting down: %v", err)
				return err
			}
		}

		if err := e.renderManager.DrawFrame(info); err != nil {
			return err
		}

		e.clock.Update()
		e.metrics.Update(e.clock.Elapsed() - currentTime)
		if currentTime-lastReport >= metricsInterval {
			core.LogDebug("frame %d: %.2f ms avg, %.0f fps, %d live resources",
				e.renderManager.FrameNumber(), e.metrics.FrameTime(), e.metrics.FPS(), e.registry.Count())
			lastReport = currentTime
		}

		// Update last time
		e.lastTime = currentTime
	}
	return nil
}

// Stop asks the run loop to return after the current frame. Safe to call
// from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown releases everything in dependency order: game resources, assets,
// the render manager, the swapchain, the executor, the registry, the device
// and finally the window.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("closing configuration watcher: %v", err)
		}
		e.watcher = nil
	}
	e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.events.Unregister(core.EVENT_CODE_KEY_PRESSED, e)
	e.events.Unregister(core.EVENT_CODE_RESIZED, e)

	var shutdownErr error
	if e.device != nil {
		core.FatalIf(e.device.WaitIdle(), "failed to wait for device idle")
		if e.gameInitialized && e.gameInstance.FnShutdown != nil {
			shutdownErr = e.gameInstance.FnShutdown()
		}
		if e.assetManager != nil {
			e.assetManager.Shutdown()
		}
		if e.renderManager != nil {
			e.renderManager.Destroy()
		}
		if e.swapchain != nil {
			e.swapchain.Destroy()
		}
		e.executor.Destroy()
		e.registry.DestroyAll()
		e.device.Destroy()
		e.device = nil
	}
	if e.platform.Window != nil {
		e.platform.Shutdown()
	}

	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down")
	return shutdownErr
}

// GetFramebufferSize returns the width and height (in this order) of the
// application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onConfigChanged(cfg *config.Config) {
	if err := cfg.Apply(); err != nil {
		core.LogWarn("configuration not applied: %v", err)
		return
	}
	core.LogInfo("configuration reloaded, log level %s; other settings apply on restart", cfg.Log.Level)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	if context.Key == platform.KeyEscape {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	width, height := context.Width, context.Height
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize failed: %v", err)
		}
	}
	return false
}

func swapchainConfig(cfg *config.Config) (swapchain.Config, error) {
	format, err := gpu.ParseFormat(cfg.Renderer.SurfaceFormat)
	if err != nil {
		return swapchain.Config{}, err
	}
	colorSpace, err := gpu.ParseColorSpace(cfg.Renderer.ColorSpace)
	if err != nil {
		return swapchain.Config{}, err
	}
	presentMode, err := gpu.ParsePresentMode(cfg.Renderer.PresentMode)
	if err != nil {
		return swapchain.Config{}, err
	}
	if !presentMode.IsFIFO() {
		return swapchain.Config{}, errors.Newf("present mode %s is not FIFO class", presentMode)
	}
	return swapchain.Config{
		Format:             format,
		ColorSpace:         colorSpace,
		PresentMode:        presentMode,
		MaxAcquireAttempts: cfg.Renderer.MaxAcquireAttempts,
	}, nil
}

func rendererConfig(cfg *config.Config, app *ApplicationConfig) (renderer.Config, error) {
	out := renderer.Config{
		GUI:            renderer.GUINone,
		ClearColor:     cfg.Renderer.ClearColor,
		AcquireTimeout: cfg.Renderer.AcquireTimeout.Duration,
	}
	for _, name := range cfg.Renderer.Renderers {
		kind, err := renderer.ParseRendererKind(name)
		if err != nil {
			return renderer.Config{}, err
		}
		out.Renderers = append(out.Renderers, kind)
	}
	if app != nil && app.GUI != nil {
		out.GUI = renderer.GUICustom
		out.GUIHooks = app.GUI
	}
	return out, nil
}
