package imageopt

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

const svgMediaType = "image/svg+xml"

func optimizeSVG(src []byte, opts SVGOptions) ([]byte, error) {
	if !opts.Minify {
		return src, nil
	}

	m := minify.New()
	m.AddFunc(svgMediaType, svg.Minify)

	return m.Bytes(svgMediaType, src)
}
