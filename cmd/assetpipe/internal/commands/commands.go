package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/logger"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

type Globals struct {
	Debug     bool
	Telemetry bool
	Version   string
}

// setup installs the process logger and, when enabled, the telemetry
// exporters. The returned func flushes telemetry and must always be called.
func (g *Globals) setup(ctx context.Context, service string) (zerolog.Logger, func()) {
	l := logger.Setup(g.Debug)
	log.Logger = l

	if !g.Telemetry {
		return l, func() {}
	}

	l.Info().Msg("Telemetry is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, service, g.Version)
	if err != nil {
		l.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return l, func() {}
	}

	return l, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// loadConfig reads the descriptor and applies the flags shared by every
// command. Flags win over the file, which wins over the defaults.
func loadConfig(path, mode string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	return cfg, nil
}
