package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/entry"
	"github.com/wolfeidau/assetpipe/internal/filename"
	"github.com/wolfeidau/assetpipe/internal/rules"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Build runs the bundler from the entry module, applies the rule chains and
// publishes the result to the output directory. A failed build leaves the
// previous output and manifest untouched.
func (p *Pipeline) Build(ctx context.Context) (*Manifest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate build id: %w", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "assets.Build", trace.WithAttributes(
		attribute.String("build.id", id.String()),
		attribute.String("build.mode", string(p.config.Mode)),
	))
	defer span.End()

	logger := log.With().Str("build_id", id.String()).Logger()
	metrics := telemetry.GetMetrics()
	start := time.Now()

	metrics.BuildsTotal.Add(ctx, 1)

	m, err := p.build(ctx, logger)
	metrics.BuildDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.BuildErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("build.files", len(m.Files)))

	logger.Info().
		Str("fingerprint", m.Fingerprint).
		Int("files", len(m.Files)).
		Dur("duration", time.Since(start)).
		Msg("Build complete")

	return m, nil
}

func (p *Pipeline) build(ctx context.Context, logger zerolog.Logger) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := p.config

	e, err := entry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("entry", cfg.Entry.Module).Str("mode", string(cfg.Mode)).Msg("Building assets")

	stage, err := os.MkdirTemp(cfg.Root, ".assetpipe-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	state := newBuildState(ctx, p, stage, logger)
	result := api.Build(p.buildOptions(e, state))

	if len(result.Errors) > 0 {
		be := newBuildError(result.Errors, state.causes())
		for _, d := range be.Diagnostics {
			logger.Error().Str("file", d.File).Int("line", d.Line).Str("error", d.Text).Msg("Build error")
		}
		return nil, be
	}

	for _, msg := range result.Warnings {
		w := logger.Warn().Str("warning", msg.Text)
		if msg.Location != nil {
			w = w.Str("file", msg.Location.File)
		}
		w.Msg("Build warning")
	}

	outDir := cfg.Abs(cfg.Output.Dir)
	for _, file := range result.OutputFiles {
		rel, err := filepath.Rel(outDir, file.Path)
		if err != nil || !filepath.IsLocal(rel) {
			return nil, fmt.Errorf("bundler output %s escapes the output directory", file.Path)
		}
		if err := filename.CheckResolved(filepath.ToSlash(rel)); err != nil {
			return nil, err
		}
		if err := writeStaged(stage, rel, file.Contents); err != nil {
			return nil, err
		}
		logger.Debug().Str("file", filepath.ToSlash(rel)).Int("bytes", len(file.Contents)).Msg("Built file")
	}

	metadata, err := parseMetadata(result.Metafile, cfg.Rel(outDir))
	if err != nil {
		return nil, err
	}

	scripts, err := scriptsFor(metadata, cfg.Rel(e.Module), cfg.Output.PublicPath)
	if err != nil {
		return nil, err
	}

	emitted := state.assets()
	m := &Manifest{
		Entry:     cfg.Entry.Module,
		HTML:      cfg.Output.HTML,
		Scripts:   scripts,
		Styles:    stylesFor(metadata, cfg.Rel(e.Module), cfg.Output.PublicPath),
		Images:    byClass(emitted, rules.ClassImage),
		Resources: byClass(emitted, rules.ClassResource),
	}

	doc, err := p.renderDocument(e, m)
	if err != nil {
		return nil, err
	}
	if err := writeStaged(stage, filepath.FromSlash(cfg.Output.HTML), doc); err != nil {
		return nil, err
	}

	if err := writeStaged(stage, MetafileName, []byte(result.Metafile)); err != nil {
		return nil, err
	}

	if len(cfg.Output.Precompress) > 0 {
		files, err := listFiles(stage)
		if err != nil {
			return nil, err
		}
		if err := precompress(logger, stage, files, cfg.Output.Precompress); err != nil {
			return nil, err
		}
	}

	m.Files, err = listFiles(stage)
	if err != nil {
		return nil, err
	}
	m.Fingerprint, err = fingerprint(stage, m.Files)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(stage, ManifestName), m); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := publish(stage, outDir, cfg.Output.Clean); err != nil {
		return nil, err
	}

	p.metadata = metadata
	p.metafile = result.Metafile
	p.manifest = m

	return m, nil
}

// Manifest returns the manifest of the last successful build.
func (p *Pipeline) Manifest() (*Manifest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.manifest == nil {
		return nil, ErrNotBuilt
	}
	return p.manifest, nil
}

// Analyze returns a size breakdown of the last successful bundle.
func (p *Pipeline) Analyze(verbose bool) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metafile == "" {
		return "", ErrNotBuilt
	}
	return api.AnalyzeMetafile(p.metafile, api.AnalyzeMetafileOptions{Verbose: verbose}), nil
}

// LoadScripts returns the ordered list of script URLs needed for the given
// entrypoint, which is a project relative source path.
func (p *Pipeline) LoadScripts(entryPointPath string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil, ErrNotBuilt
	}
	return scriptsFor(p.metadata, entryPointPath, p.config.Output.PublicPath)
}

func scriptsFor(md *BuildMetadata, entryPointPath, publicPath string) ([]string, error) {
	for outputPath, info := range md.Outputs {
		if info.EntryPoint != entryPointPath || !strings.HasSuffix(outputPath, ".js") {
			continue
		}
		scripts := []string{publicPath + outputPath}
		visited := map[string]bool{outputPath: true}
		addDependencies(md, info, publicPath, &scripts, visited)
		return scripts, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEntryOutputMissing, entryPointPath)
}

func addDependencies(md *BuildMetadata, output OutputInfo, publicPath string, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if imp.External || visited[imp.Path] {
			continue
		}
		visited[imp.Path] = true
		*scripts = append(*scripts, publicPath+imp.Path)

		if chunkInfo, exists := md.Outputs[imp.Path]; exists {
			addDependencies(md, chunkInfo, publicPath, scripts, visited)
		}
	}
}

func stylesFor(md *BuildMetadata, entryPointPath, publicPath string) []string {
	styles := []string{}
	for _, info := range md.Outputs {
		if info.EntryPoint == entryPointPath && info.CSSBundle != "" {
			styles = append(styles, publicPath+info.CSSBundle)
		}
	}
	return styles
}

func writeStaged(stage, rel string, data []byte) error {
	dst := filepath.Join(stage, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil { // #nosec G306 - public web assets
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// publish moves the staged build into place. With clean the output directory
// is replaced wholesale, otherwise staged files overwrite existing ones and
// anything else is left alone.
func publish(stage, outDir string, clean bool) error {
	if err := os.MkdirAll(filepath.Dir(outDir), 0o750); err != nil {
		return fmt.Errorf("failed to create output parent: %w", err)
	}

	if clean {
		return swap(stage, outDir)
	}

	return filepath.WalkDir(stage, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(stage, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(outDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.Rename(path, dst); err != nil {
			return fmt.Errorf("failed to publish %s: %w", rel, err)
		}
		return nil
	})
}

// swap replaces outDir with stage. The previous output is moved aside rather
// than removed first, and is put back if the stage cannot take its place.
func swap(stage, outDir string) error {
	previous := filepath.Join(filepath.Dir(outDir), filepath.Base(stage)+".previous")

	moved := true
	if err := os.Rename(outDir, previous); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to move previous output aside: %w", err)
		}
		moved = false
	}

	if err := os.Rename(stage, outDir); err != nil {
		if moved {
			if rerr := os.Rename(previous, outDir); rerr != nil {
				return errors.Join(fmt.Errorf("failed to publish output: %w", err), fmt.Errorf("failed to restore previous output: %w", rerr))
			}
		}
		return fmt.Errorf("failed to publish output: %w", err)
	}

	if moved {
		if err := os.RemoveAll(previous); err != nil {
			log.Warn().Err(err).Str("dir", previous).Msg("Failed to remove previous output")
		}
	}

	// MkdirTemp creates 0700 directories
	return os.Chmod(outDir, 0o755) // #nosec G302 - served directory
}
