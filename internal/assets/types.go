package assets

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/filename"
	"github.com/wolfeidau/assetpipe/internal/rules"
)

// BuildMetadata is the subset of the bundler metafile the pipeline reads.
type BuildMetadata struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes   int          `json:"bytes"`
	Imports []ImportInfo `json:"imports"`
}

type OutputInfo struct {
	Bytes      int          `json:"bytes"`
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
	CSSBundle  string       `json:"cssBundle"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

// parseMetadata decodes the metafile and rewrites output paths so they are
// relative to the output directory, which is how they are addressed on disk
// and by URL.
func parseMetadata(metafile, outDir string) (*BuildMetadata, error) {
	var raw BuildMetadata
	if err := json.Unmarshal([]byte(metafile), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	prefix := strings.TrimSuffix(outDir, "/") + "/"
	trim := func(p string) string {
		return strings.TrimPrefix(p, prefix)
	}

	md := &BuildMetadata{
		Inputs:  maps.Clone(raw.Inputs),
		Outputs: make(map[string]OutputInfo, len(raw.Outputs)),
	}
	for path, info := range raw.Outputs {
		if info.CSSBundle != "" {
			info.CSSBundle = trim(info.CSSBundle)
		}
		imports := make([]ImportInfo, 0, len(info.Imports))
		for _, imp := range info.Imports {
			if !imp.External {
				imp.Path = trim(imp.Path)
			}
			imports = append(imports, imp)
		}
		info.Imports = imports
		md.Outputs[trim(path)] = info
	}

	return md, nil
}

// Pipeline manages the asset build process. A pipeline is built from a
// validated config and may be rebuilt any number of times; builds are
// serialized.
type Pipeline struct {
	config     *config.Config
	rules      *rules.RuleSet
	assetNames *filename.Template
	target     api.Target
	devClient  string

	metadata *BuildMetadata
	metafile string
	manifest *Manifest
	mu       sync.RWMutex
}

type Option func(*Pipeline)

// WithDevClient injects a script into the HTML document that reloads the page
// when the websocket at path sends a reload message.
func WithDevClient(path string) Option {
	return func(p *Pipeline) {
		p.devClient = path
	}
}

// New creates a new asset pipeline with the given configuration
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rs, err := rules.Compile(cfg.Rules)
	if err != nil {
		return nil, err
	}

	assetNames, err := filename.Parse(cfg.Output.AssetNames)
	if err != nil {
		return nil, err
	}

	// the webp copy only differs from the original by extension or hash
	if !assetNames.Has("ext", "hash", "contenthash") {
		for _, r := range rs.Rules() {
			if r.Has(rules.StepWebP) {
				return nil, fmt.Errorf("%w: asset names %q need [ext] or [hash] for rule %q to emit webp copies",
					config.ErrInvalidConfig, cfg.Output.AssetNames, r.Name)
			}
		}
	}

	target, err := config.ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:     cfg,
		rules:      rs,
		assetNames: assetNames,
		target:     target,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the descriptor the pipeline was created with.
func (p *Pipeline) Config() *config.Config {
	return p.config
}
