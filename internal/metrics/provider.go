package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the metrics SDK provider.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
}

// InitProvider builds an OpenTelemetry MeterProvider backed by a
// Prometheus exporter, registers it as the global provider, and returns
// both a ready Metrics instance and a shutdown function to call from
// main() on exit. Grounded directly on MrWong99-glyphoxa's
// observe.InitProvider, trimmed to metrics only since the broker has no
// standing tracing requirement.
func InitProvider(cfg ProviderConfig) (*Metrics, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-squared"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	m, err := New(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, err
	}

	return m, mp.Shutdown, nil
}
