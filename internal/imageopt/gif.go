package imageopt

import (
	"bytes"
	"image/gif"
)

// optimizeGIF re-encodes every frame, which drops unused extension blocks and
// recompresses the LZW streams. Frames are written non-interlaced.
func optimizeGIF(src []byte, _ GIFOptions) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
