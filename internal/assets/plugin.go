package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/assetpipe/internal/filename"
	"github.com/wolfeidau/assetpipe/internal/imageopt"
	"github.com/wolfeidau/assetpipe/internal/rules"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

const pluginName = "assetpipe-rules"

// esbuild reports CSS it cannot parse as a warning and recovers. A stylesheet
// that does not parse fails the build.
const cssSyntaxError = "css-syntax-error"

var cssLogOverride = map[string]api.LogLevel{cssSyntaxError: api.LogLevelError}

// Asset is an image or resource written by an emit step.
type Asset struct {
	// Source is the project relative path, including any query
	Source string      `json:"source"`
	Rule   string      `json:"rule"`
	Class  rules.Class `json:"class"`
	// URL is the reference substituted into scripts and stylesheets
	URL string `json:"url"`
	// File is the path relative to the output directory
	File          string `json:"file"`
	Bytes         int    `json:"bytes"`
	OriginalBytes int    `json:"originalBytes"`
	// WebP is the URL of the modern-format copy, if one was produced
	WebP string `json:"webp,omitempty"`
}

type emission struct {
	once  sync.Once
	asset *Asset
	err   error
}

// buildState is the per-build scratch space shared by the plugin callbacks,
// which the bundler invokes concurrently.
type buildState struct {
	ctx   context.Context
	p     *Pipeline
	stage string
	log   zerolog.Logger

	mu       sync.Mutex
	emitted  map[string]*emission
	failures []error
}

func newBuildState(ctx context.Context, p *Pipeline, stage string, log zerolog.Logger) *buildState {
	return &buildState{
		ctx:     ctx,
		p:       p,
		stage:   stage,
		log:     log,
		emitted: make(map[string]*emission),
	}
}

func (s *buildState) plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, s.onResolve)
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"}, s.onLoad)
		},
	}
}

// onResolve rewrites url() references in stylesheets to the emitted asset.
// Everything else is left to the bundler's resolver.
func (s *buildState) onResolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Kind != api.ResolveCSSURLToken {
		return api.OnResolveResult{}, nil
	}
	if isExternalURL(args.Path) {
		return api.OnResolveResult{Path: args.Path, External: true}, nil
	}

	path, query := filename.SplitQuery(args.Path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(args.ResolveDir, path)
	}
	rel := s.p.config.Rel(path)

	rule, err := s.p.rules.Match(rel)
	if err != nil {
		return api.OnResolveResult{Errors: []api.Message{s.fail(s.p.config.Rel(args.Importer), err)}}, nil
	}
	if rule.Class != rules.ClassImage && rule.Class != rules.ClassResource {
		return api.OnResolveResult{}, nil
	}

	asset, err := s.emit(path, query, rule)
	if err != nil {
		return api.OnResolveResult{Errors: []api.Message{s.fail(rel, err)}}, nil
	}
	return api.OnResolveResult{Path: asset.URL, External: true}, nil
}

// onLoad classifies every file the bundler reaches and applies the matching
// rule's chain. Unmatched files abort the build.
func (s *buildState) onLoad(args api.OnLoadArgs) (api.OnLoadResult, error) {
	rel := s.p.config.Rel(args.Path)

	rule, err := s.p.rules.Match(rel)
	if err != nil {
		return api.OnLoadResult{Errors: []api.Message{s.fail(rel, err)}}, nil
	}

	s.log.Debug().Str("file", rel).Str("rule", rule.Name).Str("class", string(rule.Class)).Msg("Loading file")

	switch rule.Class {
	case rules.ClassScript:
		return s.loadScript(args.Path, rel, rule)
	case rules.ClassStyle:
		return s.loadStyle(args.Path, rel, rule)
	case rules.ClassImage, rules.ClassResource:
		query := ""
		if strings.HasPrefix(args.Suffix, "?") {
			query = args.Suffix
		}
		asset, err := s.emit(args.Path, query, rule)
		if err != nil {
			return api.OnLoadResult{Errors: []api.Message{s.fail(rel, err)}}, nil
		}
		contents := "export default " + strconv.Quote(asset.URL) + ";\n"
		return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
	}

	// passthrough: the bundler loads the file itself
	return api.OnLoadResult{}, nil
}

func (s *buildState) loadScript(path, rel string, rule *rules.Rule) (api.OnLoadResult, error) {
	if !rule.Has(rules.StepTranspile) {
		return api.OnLoadResult{}, nil
	}

	src, err := os.ReadFile(path) // #nosec G304 - path was resolved by the bundler
	if err != nil {
		return api.OnLoadResult{Errors: []api.Message{s.fail(rel, err)}}, nil
	}

	// the inline source map names the file relative to its own directory
	res := api.Transform(string(src), s.p.transformOptions(scriptLoader(path), filepath.Base(path)))
	if len(res.Errors) > 0 {
		return api.OnLoadResult{Errors: s.relocate(rel, res.Errors)}, nil
	}

	code := string(res.Code)
	dir := filepath.Dir(path)
	return api.OnLoadResult{Contents: &code, ResolveDir: &dir, Loader: api.LoaderJS}, nil
}

func (s *buildState) loadStyle(path, rel string, rule *rules.Rule) (api.OnLoadResult, error) {
	src, err := os.ReadFile(path) // #nosec G304 - path was resolved by the bundler
	if err != nil {
		return api.OnLoadResult{Errors: []api.Message{s.fail(rel, err)}}, nil
	}

	if rule.Has(rules.StepCSS) {
		res := api.Transform(string(src), api.TransformOptions{
			Loader:      api.LoaderCSS,
			Sourcefile:  rel,
			LogLevel:    api.LogLevelSilent,
			LogOverride: cssLogOverride,
		})
		errs := res.Errors
		for _, w := range res.Warnings {
			if w.ID == cssSyntaxError {
				errs = append(errs, w)
				continue
			}
			s.log.Warn().Str("file", rel).Str("warning", w.Text).Msg("Stylesheet warning")
		}
		if len(errs) > 0 {
			return api.OnLoadResult{Errors: s.relocate(rel, errs)}, nil
		}
	}

	// the css loader makes the bundler extract imported stylesheets into a
	// file next to the script instead of inlining them
	contents := string(src)
	dir := filepath.Dir(path)
	return api.OnLoadResult{Contents: &contents, ResolveDir: &dir, Loader: api.LoaderCSS}, nil
}

// emit runs an image or resource chain once per source and query, no matter
// how many files reference it.
func (s *buildState) emit(path, query string, rule *rules.Rule) (*Asset, error) {
	key := path + query

	s.mu.Lock()
	e, ok := s.emitted[key]
	if !ok {
		e = &emission{}
		s.emitted[key] = e
	}
	s.mu.Unlock()

	e.once.Do(func() {
		e.asset, e.err = s.runChain(path, query, rule)
	})
	return e.asset, e.err
}

// runChain applies the rule's steps in order.
func (s *buildState) runChain(path, query string, rule *rules.Rule) (*Asset, error) {
	src, err := os.ReadFile(path) // #nosec G304 - path was resolved from a project file
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}

	name, ext := filename.SplitExt(filepath.Base(path))
	asset := &Asset{
		Source:        s.p.config.Rel(path) + query,
		Rule:          rule.Name,
		Class:         rule.Class,
		OriginalBytes: len(src),
	}

	data := src
	var webp []byte

	for _, step := range rule.Steps {
		switch step {
		case rules.StepOptimize:
			format, err := imageopt.DetectFormat(ext)
			if err != nil {
				return nil, err
			}
			res, err := imageopt.Optimize(format, data, rule.Image)
			if err != nil {
				return nil, err
			}
			data = res.Data
			telemetry.GetMetrics().ImageBytesSaved.Add(s.ctx, int64(res.Saved()))

		case rules.StepWebP:
			format, err := imageopt.DetectFormat(ext)
			if err != nil {
				return nil, err
			}
			if format == imageopt.FormatWebP {
				continue
			}
			out, err := imageopt.EncodeWebP(format, data, rule.Image.WebP)
			if errors.Is(err, imageopt.ErrNotRaster) {
				continue
			}
			if err != nil {
				return nil, err
			}
			webp = out

		case rules.StepEmit:
			url, file, err := s.write(data, name, ext, query)
			if err != nil {
				return nil, err
			}
			asset.URL, asset.File, asset.Bytes = url, file, len(data)

			if webp != nil {
				asset.WebP, _, err = s.write(webp, name, ".webp", query)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	telemetry.GetMetrics().AssetsEmittedTotal.Add(s.ctx, 1)

	s.log.Debug().
		Str("source", asset.Source).
		Str("url", asset.URL).
		Int("original_bytes", asset.OriginalBytes).
		Int("bytes", asset.Bytes).
		Msg("Emitted asset")

	return asset, nil
}

// write names data with the asset template and stores it in the staging
// directory. It returns the URL and the output relative file path.
func (s *buildState) write(data []byte, name, ext, query string) (string, string, error) {
	rendered, err := s.p.assetNames.Render(filename.Vars{Name: name, Ext: ext, Query: query, Content: data})
	if err != nil {
		return "", "", err
	}

	file, _ := filename.SplitQuery(rendered)
	if !filepath.IsLocal(filepath.FromSlash(file)) {
		return "", "", fmt.Errorf("asset name %q escapes the output directory", file)
	}

	dst := filepath.Join(s.stage, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", "", fmt.Errorf("failed to create asset directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil { // #nosec G306 - public web assets
		return "", "", fmt.Errorf("failed to write asset: %w", err)
	}

	return s.p.config.Output.PublicPath + rendered, file, nil
}

// fail records err as a cause of the build failure and converts it to a
// diagnostic attributed to file.
func (s *buildState) fail(file string, err error) api.Message {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()

	return api.Message{
		PluginName: pluginName,
		Text:       err.Error(),
		Location:   &api.Location{File: file, Namespace: "file"},
	}
}

// relocate attributes transform messages to the project relative path.
func (s *buildState) relocate(rel string, msgs []api.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location == nil {
			msg.Location = &api.Location{}
		}
		msg.Location.File = rel
		msg.PluginName = pluginName
		out = append(out, msg)
	}
	return out
}

// assets returns the emitted assets ordered by source.
func (s *buildState) assets() []*Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Asset, 0, len(s.emitted))
	for _, e := range s.emitted {
		if e.asset != nil {
			out = append(out, e.asset)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source < out[j].Source
	})
	return out
}

func (s *buildState) causes() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.failures...)
}

func scriptLoader(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	}
	// plain .js files may contain JSX, as they do with babel
	return api.LoaderJSX
}

func isExternalURL(path string) bool {
	for _, prefix := range []string{"data:", "http:", "https:", "//", "#", "/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
