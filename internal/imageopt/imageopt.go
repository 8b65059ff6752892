// Package imageopt implements the image transformation steps: progressive
// JPEG re-encoding, PNG palette quantization, GIF re-encoding, SVG
// minification and optional WebP re-encoding.
//
// Every optimizer is deterministic for a given input and set of options, and
// returns the original bytes when it cannot make them smaller. Output is not
// guaranteed to be stable across versions of the underlying codecs.
package imageopt

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedFormat indicates the file extension has no optimizer
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrInvalidOptions indicates an optimizer option is out of range
	ErrInvalidOptions = errors.New("invalid image options")
	// ErrNotRaster indicates a re-encode was requested for a vector or animated image
	ErrNotRaster = errors.New("image is not a single-frame raster")
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatSVG  Format = "svg"
	FormatWebP Format = "webp"
)

// DetectFormat maps a file extension to its format.
func DetectFormat(ext string) (Format, error) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".gif":
		return FormatGIF, nil
	case ".svg":
		return FormatSVG, nil
	case ".webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Options configures every optimizer. Fields not present in YAML keep their
// defaults.
type Options struct {
	JPEG JPEGOptions `yaml:"jpeg"`
	PNG  PNGOptions  `yaml:"png"`
	GIF  GIFOptions  `yaml:"gif"`
	SVG  SVGOptions  `yaml:"svg"`
	WebP WebPOptions `yaml:"webp"`
}

type JPEGOptions struct {
	Progressive bool `yaml:"progressive"`
	Quality     int  `yaml:"quality"`
}

type PNGOptions struct {
	// Quantize reduces the image to a palette
	Quantize bool `yaml:"quantize"`
	// Quality bounds the quantized result, below Min the palette is rejected
	Quality QualityRange `yaml:"quality"`
	// Speed trades quality for time, dithering is applied at 5 and below
	Speed int `yaml:"speed"`
	// Lossless recompresses the full-color image at maximum compression
	Lossless bool `yaml:"lossless"`
}

type GIFOptions struct {
	Interlaced bool `yaml:"interlaced"`
}

type SVGOptions struct {
	Minify bool `yaml:"minify"`
}

type WebPOptions struct {
	Quality  int  `yaml:"quality"`
	Lossless bool `yaml:"lossless"`
}

// QualityRange is written in YAML as a two element sequence, [min, max].
type QualityRange struct {
	Min float64
	Max float64
}

func (q *QualityRange) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: quality must be [min, max]", ErrInvalidOptions)
	}
	q.Min, q.Max = pair[0], pair[1]
	return nil
}

func (q QualityRange) MarshalYAML() (any, error) {
	return []float64{q.Min, q.Max}, nil
}

func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	type plain Options
	*o = DefaultOptions()
	return value.Decode((*plain)(o))
}

// DefaultOptions matches the stock scaffold: progressive JPEG, palette
// quantization between 0.65 and 0.9 at speed 4, no lossless PNG pass,
// non-interlaced GIF and WebP at quality 75.
func DefaultOptions() Options {
	return Options{
		JPEG: JPEGOptions{Progressive: true, Quality: 75},
		PNG: PNGOptions{
			Quantize: true,
			Quality:  QualityRange{Min: 0.65, Max: 0.9},
			Speed:    4,
			Lossless: false,
		},
		GIF:  GIFOptions{Interlaced: false},
		SVG:  SVGOptions{Minify: true},
		WebP: WebPOptions{Quality: 75},
	}
}

func (o Options) Validate() error {
	if o.JPEG.Quality < 1 || o.JPEG.Quality > 100 {
		return fmt.Errorf("%w: jpeg.quality must be between 1 and 100", ErrInvalidOptions)
	}
	q := o.PNG.Quality
	if q.Min < 0 || q.Max > 1 || q.Min > q.Max {
		return fmt.Errorf("%w: png.quality must satisfy 0 <= min <= max <= 1", ErrInvalidOptions)
	}
	if o.PNG.Speed < 1 || o.PNG.Speed > 11 {
		return fmt.Errorf("%w: png.speed must be between 1 and 11", ErrInvalidOptions)
	}
	if o.GIF.Interlaced {
		return fmt.Errorf("%w: gif.interlaced is not supported by the encoder", ErrInvalidOptions)
	}
	if o.WebP.Quality < 0 || o.WebP.Quality > 100 {
		return fmt.Errorf("%w: webp.quality must be between 0 and 100", ErrInvalidOptions)
	}
	return nil
}

// Result is the outcome of an optimize step.
type Result struct {
	Data         []byte
	Format       Format
	OriginalSize int
	// Optimized is false when the original bytes were kept
	Optimized bool
}

// Saved returns the number of bytes the optimizer removed.
func (r Result) Saved() int {
	return r.OriginalSize - len(r.Data)
}

// Optimize runs the optimizer for format over src.
func Optimize(format Format, src []byte, opts Options) (Result, error) {
	var (
		out []byte
		err error
	)

	switch format {
	case FormatJPEG:
		out, err = optimizeJPEG(src, opts.JPEG)
	case FormatPNG:
		out, err = optimizePNG(src, opts.PNG)
	case FormatGIF:
		out, err = optimizeGIF(src, opts.GIF)
	case FormatSVG:
		out, err = optimizeSVG(src, opts.SVG)
	case FormatWebP:
		// already a modern format, only validated
		_, err = decodeRaster(format, src)
		out = src
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to optimize %s: %w", format, err)
	}

	return smallest(format, src, out), nil
}

func smallest(format Format, src, out []byte) Result {
	if out == nil || len(out) >= len(src) {
		return Result{Data: src, Format: format, OriginalSize: len(src)}
	}
	return Result{Data: out, Format: format, OriginalSize: len(src), Optimized: true}
}
