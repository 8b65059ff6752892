package imageopt

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/ericpauley/go-quantize/quantize"
)

// ditherSpeed is the slowest speed setting that still dithers.
const ditherSpeed = 5

func optimizePNG(src []byte, opts PNGOptions) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	enc := png.Encoder{CompressionLevel: png.BestCompression}

	var best []byte
	if opts.Quantize {
		paletted := quantizeImage(img, opts)
		if qualityScore(img, paletted) >= opts.Quality.Min {
			var buf bytes.Buffer
			if err := enc.Encode(&buf, paletted); err != nil {
				return nil, err
			}
			best = buf.Bytes()
		}
	}

	if opts.Lossless {
		var buf bytes.Buffer
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		if best == nil || buf.Len() < len(best) {
			best = buf.Bytes()
		}
	}

	return best, nil
}

// paletteSize maps the upper quality bound onto the number of palette
// entries, 1.0 keeps the full 256.
func paletteSize(q QualityRange) int {
	n := int(math.Round(q.Max * 256))
	return min(max(n, 2), 256)
}

func quantizeImage(img image.Image, opts PNGOptions) *image.Paletted {
	bounds := img.Bounds()

	q := quantize.MedianCutQuantizer{AddTransparent: hasAlpha(img)}
	palette := q.Quantize(make(color.Palette, 0, paletteSize(opts.Quality)), img)

	dst := image.NewPaletted(bounds, palette)
	if opts.Speed <= ditherSpeed {
		draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)
	} else {
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	}
	return dst
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// qualityScore compares the quantized image against the source and returns
// 1 for identical pixels, falling towards 0 as the root mean square error
// grows.
func qualityScore(src image.Image, dst *image.Paletted) float64 {
	bounds := src.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels == 0 {
		return 1
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := src.At(x, y).RGBA()
			r2, g2, b2, a2 := dst.At(x, y).RGBA()
			sum += sq(r1, r2) + sq(g1, g2) + sq(b1, b2) + sq(a1, a2)
		}
	}

	rmse := math.Sqrt(sum / float64(pixels*4))
	return 1 - rmse/0xffff
}

func sq(a, b uint32) float64 {
	d := float64(a) - float64(b)
	return d * d
}
