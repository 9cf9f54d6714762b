package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"

	// extra decoders registered with image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type TextureLoader struct {
	// FlipY stores rows bottom up.
	FlipY bool
}

func (tl *TextureLoader) Load(path string) (*Resource, error) {
	// Open and decode the texture image file
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening texture %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding texture %s", path)
	}

	data := toRGBA(img, tl.FlipY)
	return &Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func toRGBA(img image.Image, flipY bool) *ImageResourceData {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	pixels := rgba.Pix
	if flipY {
		stride := rgba.Stride
		h := b.Dy()
		flipped := make([]byte, len(pixels))
		for y := 0; y < h; y++ {
			copy(flipped[y*stride:(y+1)*stride], pixels[(h-1-y)*stride:(h-y)*stride])
		}
		pixels = flipped
	}
	return &ImageResourceData{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: pixels,
	}
}
