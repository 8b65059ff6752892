package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/assetpipe/internal/assets"
)

type BuildCmd struct {
	Config  string `help:"path to the build descriptor" default:"" env:"ASSETPIPE_CONFIG"`
	Mode    string `help:"build mode, overrides the descriptor" default:"" env:"ASSETPIPE_MODE"`
	Analyze bool   `help:"print a bundle size report after building" default:"false" env:"ASSETPIPE_ANALYZE"`
	Verbose bool   `help:"include every input in the size report" default:"false"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log, flush := globals.setup(ctx, "assetpipe-build")
	defer flush()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting build")

	cfg, err := loadConfig(c.Config, c.Mode)
	if err != nil {
		return err
	}

	pipeline, err := assets.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create asset pipeline: %w", err)
	}

	manifest, err := pipeline.Build(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("output", cfg.Abs(cfg.Output.Dir)).
		Strs("scripts", manifest.Scripts).
		Strs("styles", manifest.Styles).
		Int("images", len(manifest.Images)).
		Msg("Assets written")

	if c.Analyze {
		report, err := pipeline.Analyze(c.Verbose)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, report)
	}

	return nil
}
