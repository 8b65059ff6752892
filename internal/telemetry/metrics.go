package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/assetpipe"
)

// Metrics holds the OpenTelemetry instruments for builds and the dev server
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram

	// Asset metrics
	AssetsEmittedTotal metric.Int64Counter
	ImageBytesSaved    metric.Int64Counter

	// Dev server metrics
	ReloadsBroadcastTotal metric.Int64Counter
	ReloadClients         metric.Int64UpDownCounter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Without InitTelemetry the global provider is a no-op and recording is free.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for build spans
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"assetpipe.builds.total",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"assetpipe.builds.errors.total",
		metric.WithDescription("Total number of builds that failed"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"assetpipe.builds.duration",
		metric.WithDescription("Duration of complete builds"),
		metric.WithUnit("ms"),
	)

	m.AssetsEmittedTotal, _ = meter.Int64Counter(
		"assetpipe.assets.emitted.total",
		metric.WithDescription("Total number of image and resource files emitted"),
		metric.WithUnit("{file}"),
	)

	m.ImageBytesSaved, _ = meter.Int64Counter(
		"assetpipe.images.bytes_saved.total",
		metric.WithDescription("Bytes removed by image optimization"),
		metric.WithUnit("By"),
	)

	m.ReloadsBroadcastTotal, _ = meter.Int64Counter(
		"assetpipe.devserver.reloads.total",
		metric.WithDescription("Total number of reload messages broadcast"),
		metric.WithUnit("{message}"),
	)

	m.ReloadClients, _ = meter.Int64UpDownCounter(
		"assetpipe.devserver.clients.active",
		metric.WithDescription("Number of connected reload clients"),
		metric.WithUnit("{client}"),
	)

	return m
}
