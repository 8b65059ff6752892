package imageopt

import (
	"bytes"

	"github.com/gen2brain/webp"
)

// webpMethod is the encoder effort, 0 is fastest and 6 smallest.
const webpMethod = 4

// EncodeWebP re-encodes a raster image as WebP. Vector images and animated
// GIFs return ErrNotRaster, callers skip the re-encode for those.
func EncodeWebP(format Format, src []byte, opts WebPOptions) ([]byte, error) {
	img, err := decodeRaster(format, src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = webp.Encode(&buf, img, webp.Options{
		Quality:  opts.Quality,
		Lossless: opts.Lossless,
		Method:   webpMethod,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
