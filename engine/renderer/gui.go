package renderer

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
)

type GUIKind uint8

const (
	// GUINone presents the scene by blitting it onto the swapchain image.
	GUINone GUIKind = iota
	// GUICustom hands the final pass to caller supplied hooks.
	GUICustom
)

func (k GUIKind) String() string {
	if k == GUICustom {
		return "custom"
	}
	return "none"
}

func ParseGUIKind(s string) (GUIKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return GUINone, nil
	case "custom":
		return GUICustom, nil
	}
	return 0, errors.Newf("unknown gui kind %q", s)
}

// GUI is the hook table of the overlay layer. Nil hooks are skipped.
type GUI struct {
	// PreFrame runs after events are polled, before acquisition.
	PreFrame func()
	// DesiredRenderExtent is the size of the in-scene viewport. Returning
	// false falls back to the swapchain extent.
	DesiredRenderExtent func() (gpu.Extent, bool)
	// RecordOverlay records inside the presentation render pass. scene is
	// the color target, already in the shader read layout.
	RecordOverlay func(cb gpu.CommandBuffer, target gpu.Framebuffer, extent gpu.Extent, scene resources.ImageHandle)
	Destroy       func()
}

func resolveGUI(kind GUIKind, hooks *GUI) (*GUI, error) {
	switch kind {
	case GUINone:
		return nil, nil
	case GUICustom:
		if hooks == nil || hooks.RecordOverlay == nil {
			return nil, errors.New("custom gui needs an overlay hook")
		}
		return hooks, nil
	}
	return nil, errors.Newf("unknown gui kind %d", kind)
}
