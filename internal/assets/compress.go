package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

const (
	CompressGzip = "gzip"
	CompressZstd = "zstd"
)

var compressible = map[string]bool{
	".js":   true,
	".css":  true,
	".html": true,
	".svg":  true,
	".map":  true,
}

var compressExt = map[string]string{
	CompressGzip: ".gz",
	CompressZstd: ".zst",
}

// precompress writes a sibling for every text file in files under dir, once
// per format, so a static server can hand out pre-encoded responses.
func precompress(log zerolog.Logger, dir string, files []string, formats []string) error {
	for _, name := range files {
		if !compressible[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		for _, format := range formats {
			if err := compressFile(log, filepath.Join(dir, filepath.FromSlash(name)), format); err != nil {
				return err
			}
		}
	}
	return nil
}

func compressFile(log zerolog.Logger, path, format string) error {
	src, err := os.Open(path) // #nosec G304 - path is inside the staging directory
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	dstPath := path + compressExt[format]
	dst, err := os.Create(dstPath) // #nosec G304 - path is inside the staging directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer dst.Close()

	enc, err := newEncoder(dst, format)
	if err != nil {
		return err
	}

	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		_ = dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}

	// close the encoder first to flush the final frame
	if err := enc.Close(); err != nil {
		_ = dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("failed to close %s: %w", dstPath, err)
	}

	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dstPath, err)
	}

	log.Debug().
		Str("file", filepath.Base(path)).
		Str("format", format).
		Int64("original_bytes", srcInfo.Size()).
		Int64("compressed_bytes", dstInfo.Size()).
		Msg("Precompressed file")

	return nil
}

func newEncoder(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case CompressGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	}
	return nil, fmt.Errorf("unsupported precompression format %q", format)
}
