package imageopt

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
)

// decodeRaster decodes a single raster frame. Animated GIFs and SVGs are
// rejected with ErrNotRaster.
func decodeRaster(format Format, src []byte) (image.Image, error) {
	r := bytes.NewReader(src)

	switch format {
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatWebP:
		return webp.Decode(r)
	case FormatGIF:
		g, err := gif.DecodeAll(r)
		if err != nil {
			return nil, err
		}
		if len(g.Image) != 1 {
			return nil, fmt.Errorf("%w: gif has %d frames", ErrNotRaster, len(g.Image))
		}
		return g.Image[0], nil
	case FormatSVG:
		return nil, fmt.Errorf("%w: svg", ErrNotRaster)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
