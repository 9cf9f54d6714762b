package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/renderer/commands"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/kiln/engine/renderer/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 1, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func newTestManager(t *testing.T) (*AssetManager, *resources.Registry, string) {
	t.Helper()
	dev := gputest.New()
	exec := commands.New(dev)
	t.Cleanup(exec.Destroy)
	reg := resources.NewRegistry(dev, exec)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "textures"), 0o755))
	writePNG(t, filepath.Join(dir, "textures", "wall.png"), 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	am := NewAssetManager(reg)
	require.NoError(t, am.Initialize(dir, false))
	t.Cleanup(am.Shutdown)
	return am, reg, dir
}

func TestInitializeIndexesKnownTypes(t *testing.T) {
	am, _, _ := newTestManager(t)
	assert.Equal(t, 1, am.Count())
	assert.Equal(t, loaders.ResourceTypeImage, determineAssetType("a/B.PNG"))
	assert.Equal(t, loaders.ResourceTypeShader, determineAssetType("scene.frag.spv"))
	assert.Equal(t, loaders.ResourceTypeNone, determineAssetType("notes.md"))
}

func TestLoadTextureIsCachedAndShaderReadable(t *testing.T) {
	am, reg, _ := newTestManager(t)

	h, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)
	again, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)
	assert.Equal(t, h, again)

	img, ok := reg.Image(h)
	require.True(t, ok)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout)
	assert.Equal(t, gpu.Extent{Width: 4, Height: 4}, img.Extent())
	rc, _ := reg.RefCount(h)
	assert.Equal(t, uint32(1), rc)
}

func TestUnloadReleasesTexture(t *testing.T) {
	am, reg, _ := newTestManager(t)
	h, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)

	// a frame still holds it
	reg.Ref(h)
	am.UnloadTexture("textures/wall.png")
	assert.True(t, reg.Contains(h))
	reg.Deref(h)
	assert.False(t, reg.Contains(h))
}

func TestUpdateReloadsChangedTexture(t *testing.T) {
	am, reg, dir := newTestManager(t)
	path := filepath.Join(dir, "textures", "wall.png")
	old, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)

	writePNG(t, path, 8, 2)
	am.markDirty(path, fsnotify.Write)
	assert.Equal(t, 1, am.Update())

	assert.False(t, reg.Contains(old))
	h, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)
	assert.NotEqual(t, old, h)
	img, _ := reg.Image(h)
	assert.Equal(t, gpu.Extent{Width: 8, Height: 2}, img.Extent())

	// untouched paths are ignored
	am.markDirty(filepath.Join(dir, "other.png"), fsnotify.Write)
	assert.Equal(t, 0, am.Update())
}

func TestUpdateKeepsTextureWhenReloadFails(t *testing.T) {
	am, reg, dir := newTestManager(t)
	path := filepath.Join(dir, "textures", "wall.png")
	h, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o644))
	am.markDirty(path, fsnotify.Write)
	assert.Equal(t, 0, am.Update())
	assert.True(t, reg.Contains(h))

	am.markDirty(path, fsnotify.Remove)
	assert.Equal(t, 1, am.Update())
	assert.False(t, reg.Contains(h))
}

func TestShutdownReleasesEverything(t *testing.T) {
	am, reg, _ := newTestManager(t)
	_, err := am.LoadTexture("textures/wall.png")
	require.NoError(t, err)
	am.Shutdown()
	assert.Zero(t, reg.Count())
}

func TestMissingDirectoryIsNotAnError(t *testing.T) {
	am := NewAssetManager(nil)
	assert.NoError(t, am.Initialize(filepath.Join(t.TempDir(), "missing"), true))
	am.Shutdown()
}
