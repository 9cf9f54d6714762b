package engine

import (
	"github.com/spaghettifunk/kiln/engine/renderer"
)

type ApplicationConfig struct {
	// Path of the TOML configuration file. Empty uses the defaults.
	ConfigPath string
	// The application name used in windowing. Overrides the configured
	// title when set.
	Name string
	// Watch the configuration file and re-apply the log level on change.
	WatchConfig bool
	// Overlay hooks. Nil presents the scene with a plain blit.
	GUI *renderer.GUI
	// Shader binaries of the scene renderer, relative to the shader
	// directory. Missing files leave the scene renderer without a pipeline.
	VertexShader   string
	FragmentShader string
}
