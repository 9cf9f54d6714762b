package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/kiln/engine/core"
)

type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Log      LogConfig      `toml:"log"`
	Assets   AssetsConfig   `toml:"assets"`
}

type WindowConfig struct {
	// The application name used in windowing.
	Title string `toml:"title"`
	// Window starting position x axis.
	X int `toml:"x"`
	// Window starting position y axis.
	Y int `toml:"y"`
	// Window starting width.
	Width uint32 `toml:"width"`
	// Window starting height.
	Height    uint32 `toml:"height"`
	Resizable bool   `toml:"resizable"`
}

type RendererConfig struct {
	SurfaceFormat      string     `toml:"surface_format"`
	ColorSpace         string     `toml:"color_space"`
	PresentMode        string     `toml:"present_mode"`
	Validation         bool       `toml:"validation"`
	AcquireTimeout     Duration   `toml:"acquire_timeout"`
	MaxAcquireAttempts int        `toml:"max_acquire_attempts"`
	Renderers          []string   `toml:"renderers"`
	ClearColor         [4]float32 `toml:"clear_color"`
	ShaderDir          string     `toml:"shader_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type AssetsConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

// Duration decodes TOML strings such as "250ms" or "2s". Zero means no
// timeout.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:     "Kiln",
			X:         100,
			Y:         100,
			Width:     1280,
			Height:    720,
			Resizable: true,
		},
		Renderer: RendererConfig{
			SurfaceFormat:      "bgra8_srgb",
			ColorSpace:         "srgb_nonlinear",
			PresentMode:        "fifo",
			Validation:         false,
			MaxAcquireAttempts: 3,
			Renderers:          []string{"scene"},
			ClearColor:         [4]float32{0.05, 0.05, 0.08, 1.0},
			ShaderDir:          "shaders",
		},
		Log: LogConfig{
			Level: "info",
		},
		Assets: AssetsConfig{
			Dir:   "assets",
			Watch: false,
		},
	}
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration file at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			core.LogInfo("configuration file '%s' not found, using defaults", path)
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Newf("window size must be non zero, got %dx%d", c.Window.Width, c.Window.Height)
	}
	switch strings.ToLower(c.Renderer.PresentMode) {
	case "fifo", "fifo_relaxed":
	default:
		return errors.Newf("present mode %q is not FIFO-class", c.Renderer.PresentMode)
	}
	if c.Renderer.SurfaceFormat == "" || c.Renderer.ColorSpace == "" {
		return errors.New("surface format and color space are required")
	}
	if len(c.Renderer.Renderers) == 0 {
		return errors.New("at least one renderer is required")
	}
	if c.Renderer.MaxAcquireAttempts < 1 {
		return errors.Newf("max_acquire_attempts must be at least 1, got %d", c.Renderer.MaxAcquireAttempts)
	}
	if c.Renderer.AcquireTimeout.Duration < 0 {
		return errors.New("acquire_timeout cannot be negative")
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Apply pushes the settings that can change at runtime into the engine.
func (c *Config) Apply() error {
	level, err := core.ParseLogLevel(c.Log.Level)
	if err != nil {
		return err
	}
	core.SetLogLevel(level)
	return nil
}
