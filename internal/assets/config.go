package assets

import (
	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/assetpipe/internal/entry"
)

const (
	// MetafileName is written next to the bundle for size analysis
	MetafileName = "meta.json"
	// ManifestName lists every emitted file
	ManifestName = "manifest.json"
)

// buildOptions maps the descriptor onto the bundler. Output is held in memory
// and written to the staging directory by the pipeline so a failed build never
// touches the published output.
func (p *Pipeline) buildOptions(e *entry.Entry, state *buildState) api.BuildOptions {
	cfg := p.config
	minify := cfg.Output.Minify || cfg.Production()

	return api.BuildOptions{
		EntryPointsAdvanced: []api.EntryPoint{
			{InputPath: e.Module, OutputPath: e.Name},
		},
		AbsWorkingDir:     cfg.Root,
		Bundle:            true,
		Write:             false,
		Outdir:            cfg.Abs(cfg.Output.Dir),
		EntryNames:        cfg.Output.EntryNames,
		PublicPath:        cfg.Output.PublicPath,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            p.target,
		JSX:               api.JSXAutomatic,
		Define:            e.Defines(cfg.Production()),
		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		Sourcemap:         cond(cfg.Output.SourceMap, api.SourceMapLinked, api.SourceMapNone),
		Metafile:          true,
		LogLevel:          api.LogLevelSilent,
		LogOverride:       cssLogOverride,
		Plugins:           []api.Plugin{state.plugin()},
	}
}

// transformOptions configures the per-file transpile step.
func (p *Pipeline) transformOptions(loader api.Loader, sourcefile string) api.TransformOptions {
	return api.TransformOptions{
		Loader:     loader,
		JSX:        api.JSXAutomatic,
		Target:     p.target,
		Sourcefile: sourcefile,
		Sourcemap:  cond(p.config.Output.SourceMap, api.SourceMapInline, api.SourceMapNone),
		LogLevel:   api.LogLevelSilent,
	}
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
