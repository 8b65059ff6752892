package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/assetpipe/cmd/assetpipe/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build     commands.BuildCmd `cmd:"" help:"Build the application into the output directory"`
		Serve     commands.ServeCmd `cmd:"" help:"Serve the output directory and rebuild on change"`
		Debug     bool              `help:"Enable debug mode." env:"ASSETPIPE_DEBUG"`
		Telemetry bool              `help:"Export OpenTelemetry traces and metrics over OTLP." env:"ASSETPIPE_TELEMETRY"`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("assetpipe"),
		kong.Description("Bundle a web application's scripts, styles and images."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Telemetry: cli.Telemetry, Version: version})
	cmd.FatalIfErrorf(err)
}
