package loaders

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestTextureLoaderProducesPackedRGBA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.png")
	writePNG(t, path, 3, 2)

	res, err := (&TextureLoader{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checker", res.Name)

	data, ok := res.Data.(*ImageResourceData)
	require.True(t, ok)
	assert.Equal(t, uint32(3), data.Width)
	assert.Equal(t, uint32(2), data.Height)
	require.Len(t, data.Pixels, 3*2*4)
	// pixel (2,1)
	assert.Equal(t, []byte{2, 1, 7, 255}, data.Pixels[(1*3+2)*4:(1*3+2)*4+4])
}

func TestTextureLoaderFlipY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flip.png")
	writePNG(t, path, 1, 2)

	res, err := (&TextureLoader{FlipY: true}).Load(path)
	require.NoError(t, err)
	data := res.Data.(*ImageResourceData)
	// first row is now y=1
	assert.Equal(t, byte(1), data.Pixels[1])
	assert.Equal(t, byte(0), data.Pixels[5])
}

func TestTextureLoaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	_, err := (&TextureLoader{}).Load(path)
	assert.Error(t, err)
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	words := []uint32{spirvMagic, 0x00010000, 42}
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	good := filepath.Join(dir, "scene.vert.spv")
	require.NoError(t, os.WriteFile(good, buf, 0o644))

	res, err := (&ShaderLoader{}).Load(good)
	require.NoError(t, err)
	assert.Equal(t, words, res.Data)
	assert.Equal(t, uint64(12), res.DataSize)

	_, err = BytesToBytecode(buf[:7])
	assert.Error(t, err)
	_, err = BytesToBytecode([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}
