// Package config holds the build descriptors for assetpipe: the entry, the
// development server, the output layout and the ordered transformation rules.
//
// A Config is loaded once per invocation, validated, and then treated as
// read-only for the lifetime of the process, including every rebuild the
// development server performs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/wolfeidau/assetpipe/internal/filename"
	"github.com/wolfeidau/assetpipe/internal/imageopt"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// path is given.
const DefaultFile = "assetpipe.yaml"

var (
	// ErrInvalidConfig indicates a descriptor failed validation
	ErrInvalidConfig = errors.New("invalid config")
	// ErrConfigNotFound indicates an explicitly requested config file does not exist
	ErrConfigNotFound = errors.New("config file not found")
)

type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

type Config struct {
	Mode      Mode      `yaml:"mode"`
	Target    string    `yaml:"target"`
	Entry     Entry     `yaml:"entry"`
	DevServer DevServer `yaml:"devServer"`
	Output    Output    `yaml:"output"`
	Rules     []Rule    `yaml:"rules"`

	// Root is the directory relative paths resolve against. It is the
	// directory containing the config file, or the working directory.
	Root string `yaml:"-"`
}

type Entry struct {
	// Name of the emitted bundle, "main" produces main.js and main.css
	Name string `yaml:"name"`
	// Module is the root source file the dependency graph is walked from
	Module string `yaml:"module"`
	// Template is the HTML document the bundle is injected into
	Template string `yaml:"template"`
	// MountID is the id of the DOM node the application renders into
	MountID string `yaml:"mountId"`
	// Title is set on the document when the template has no <title>
	Title string `yaml:"title"`
}

type DevServer struct {
	Listen      string        `yaml:"listen"`
	Static      string        `yaml:"static"`
	Open        bool          `yaml:"open"`
	Hot         bool          `yaml:"hot"`
	CORSOrigins []string      `yaml:"corsOrigins"`
	Debounce    time.Duration `yaml:"debounce"`
}

type Output struct {
	Dir string `yaml:"dir"`
	// EntryNames is passed to the bundler, supports [name], [hash] and [dir]
	EntryNames string `yaml:"entryNames"`
	// AssetNames names emitted images and resources
	AssetNames  string   `yaml:"assetNames"`
	PublicPath  string   `yaml:"publicPath"`
	HTML        string   `yaml:"html"`
	SourceMap   bool     `yaml:"sourceMap"`
	Minify      bool     `yaml:"minify"`
	Clean       bool     `yaml:"clean"`
	Precompress []string `yaml:"precompress"`
}

// Rule is the declarative form of a transformation rule. It is compiled into
// a rules.Rule before use.
type Rule struct {
	Name    string            `yaml:"name"`
	Test    string            `yaml:"test"`
	Exclude string            `yaml:"exclude,omitempty"`
	Class   string            `yaml:"class"`
	Steps   []string          `yaml:"steps"`
	Image   *imageopt.Options `yaml:"image,omitempty"`
}

// Default returns the descriptor of the stock React scaffold: a single
// src/index.js entry, an src/index.html template, extracted CSS and optimized
// images named images/[name]-[hash][ext][query].
func Default() *Config {
	imageOpts := imageopt.DefaultOptions()

	return &Config{
		Mode:   ModeDevelopment,
		Target: "es2020",
		Entry: Entry{
			Name:     "main",
			Module:   "src/index.js",
			Template: "src/index.html",
			MountID:  "root",
		},
		DevServer: DevServer{
			Listen:   "localhost:8080",
			Static:   "dist",
			Open:     true,
			Hot:      true,
			Debounce: 100 * time.Millisecond,
		},
		Output: Output{
			Dir:        "dist",
			EntryNames: "[name]",
			AssetNames: "images/[name]-[hash][ext][query]",
			PublicPath: "",
			HTML:       "index.html",
			SourceMap:  true,
			Clean:      true,
		},
		Rules: []Rule{
			{
				Name:    "scripts",
				Test:    `\.(m?jsx?|cjs|tsx?)$`,
				Exclude: `node_modules`,
				Class:   "script",
				Steps:   []string{"transpile"},
			},
			{
				Name:  "vendor",
				Test:  `node_modules/.+\.(m?jsx?|cjs)$`,
				Class: "passthrough",
			},
			{
				Name:  "data",
				Test:  `\.json$`,
				Class: "passthrough",
			},
			{
				Name:  "styles",
				Test:  `\.css$`,
				Class: "style",
				Steps: []string{"css", "extract"},
			},
			{
				Name:  "images",
				Test:  `(?i)\.(gif|png|jpe?g|svg)$`,
				Class: "image",
				Steps: []string{"optimize", "webp", "emit"},
				Image: &imageOpts,
			},
			{
				Name:  "fonts",
				Test:  `(?i)\.(woff2?|ttf|otf|eot)$`,
				Class: "resource",
				Steps: []string{"emit"},
			},
		},
	}
}

// Load reads the config file at path over the defaults. An empty path looks
// for DefaultFile in the working directory and falls back to the defaults
// when it is absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 - path is operator supplied
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.Root = wd
		return cfg, cfg.Validate()
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Root = filepath.Dir(absPath)

	return cfg, cfg.Validate()
}

// Decode unmarshals YAML into cfg, rejecting keys that are not part of the
// descriptor.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		// empty documents leave the defaults untouched
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// Validate checks the descriptor is complete. Rule patterns and chains are
// validated when they are compiled.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("%w: mode must be production or development, got %q", ErrInvalidConfig, c.Mode)
	}

	if c.Entry.Module == "" {
		return fmt.Errorf("%w: entry.module is required", ErrInvalidConfig)
	}
	if c.Entry.Template == "" {
		return fmt.Errorf("%w: entry.template is required", ErrInvalidConfig)
	}
	if c.Entry.MountID == "" {
		return fmt.Errorf("%w: entry.mountId is required", ErrInvalidConfig)
	}
	if c.Entry.Name == "" {
		return fmt.Errorf("%w: entry.name is required", ErrInvalidConfig)
	}

	if c.Output.Dir == "" || filepath.Clean(c.Output.Dir) == "." {
		return fmt.Errorf("%w: output.dir must be a subdirectory of the project", ErrInvalidConfig)
	}
	if !filepath.IsLocal(c.Output.Dir) {
		return fmt.Errorf("%w: output.dir %q must stay within the project", ErrInvalidConfig, c.Output.Dir)
	}
	if c.Output.HTML == "" || !filepath.IsLocal(c.Output.HTML) {
		return fmt.Errorf("%w: output.html %q must be a relative file name", ErrInvalidConfig, c.Output.HTML)
	}

	if _, err := filename.Parse(c.Output.AssetNames); err != nil {
		return fmt.Errorf("%w: output.assetNames: %w", ErrInvalidConfig, err)
	}
	if err := filename.ValidateTokens(c.Output.EntryNames, "name", "hash", "dir"); err != nil {
		return fmt.Errorf("%w: output.entryNames: %w", ErrInvalidConfig, err)
	}

	for _, format := range c.Output.Precompress {
		if !slices.Contains([]string{"gzip", "zstd"}, format) {
			return fmt.Errorf("%w: output.precompress: unsupported format %q", ErrInvalidConfig, format)
		}
	}

	if _, err := ParseTarget(c.Target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidConfig)
	}

	if c.DevServer.Debounce < 0 {
		return fmt.Errorf("%w: devServer.debounce must not be negative", ErrInvalidConfig)
	}

	return nil
}

// Abs resolves p against the config root.
func (c *Config) Abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

// Rel returns p relative to the config root using forward slashes, which is
// the form rule patterns are matched against.
func (c *Config) Rel(p string) string {
	rel, err := filepath.Rel(c.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// Production reports whether output should be minified and NODE_ENV set to
// production.
func (c *Config) Production() bool {
	return c.Mode == ModeProduction
}
