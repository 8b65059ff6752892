package imageopt

import (
	"bytes"
	"image/jpeg"

	"github.com/gen2brain/jpegli"
)

// progressiveLevel is the scan script jpegli uses for progressive output.
const progressiveLevel = 2

func optimizeJPEG(src []byte, opts JPEGOptions) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	enc := &jpegli.EncodingOptions{
		Quality:        opts.Quality,
		OptimizeCoding: true,
	}
	if opts.Progressive {
		enc.ProgressiveLevel = progressiveLevel
	}

	var buf bytes.Buffer
	if err := jpegli.Encode(&buf, img, enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
