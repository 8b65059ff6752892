package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/devserver"
)

type ServeCmd struct {
	Config string `help:"path to the build descriptor" default:"" env:"ASSETPIPE_CONFIG"`
	Mode   string `help:"build mode, overrides the descriptor" default:"" env:"ASSETPIPE_MODE"`
	Listen string `help:"dev server listen address, overrides the descriptor" default:"" env:"ASSETPIPE_LISTEN"`
	NoOpen bool   `help:"do not open a browser on start" default:"false" env:"ASSETPIPE_NO_OPEN"`
	NoHot  bool   `help:"disable reloading the page after a rebuild" default:"false" env:"ASSETPIPE_NO_HOT"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log, flush := globals.setup(ctx, "assetpipe-serve")
	defer flush()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting dev server")

	cfg, err := loadConfig(c.Config, c.Mode)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.DevServer.Listen = c.Listen
	}
	if c.NoOpen {
		cfg.DevServer.Open = false
	}
	if c.NoHot {
		cfg.DevServer.Hot = false
	}

	var opts []assets.Option
	if cfg.DevServer.Hot {
		opts = append(opts, assets.WithDevClient(devserver.ReloadPath))
	}

	pipeline, err := assets.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create asset pipeline: %w", err)
	}

	return devserver.New(cfg, pipeline).Run(ctx)
}
