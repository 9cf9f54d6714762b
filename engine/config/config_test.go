package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[window]
title = "demo"
width = 800
height = 600

[renderer]
present_mode = "fifo_relaxed"
acquire_timeout = "250ms"
max_acquire_attempts = 5
renderers = ["clear", "scene"]

[log]
level = "debug"
`

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Window.Title)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.AcquireTimeout.Duration)
	assert.Equal(t, 5, cfg.Renderer.MaxAcquireAttempts)
	assert.Equal(t, []string{"clear", "scene"}, cfg.Renderer.Renderers)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched keys keep their defaults
	assert.Equal(t, "bgra8_srgb", cfg.Renderer.SurfaceFormat)
	assert.Equal(t, "srgb_nonlinear", cfg.Renderer.ColorSpace)
	assert.Equal(t, "assets", cfg.Assets.Dir)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"mailbox present mode": "[renderer]\npresent_mode = \"mailbox\"\n",
		"zero width":           "[window]\nwidth = 0\n",
		"no renderers":         "[renderer]\nrenderers = []\n",
		"bad level":            "[log]\nlevel = \"loud\"\n",
		"bad timeout":          "[renderer]\nacquire_timeout = \"soon\"\n",
		"no attempts":          "[renderer]\nmax_acquire_attempts = 0\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644))

	// a write can be observed mid-way as an empty file, keep reading
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Log.Level == "warn" {
				return
			}
		case <-deadline:
			t.Fatal("configuration change not observed")
		}
	}
}
