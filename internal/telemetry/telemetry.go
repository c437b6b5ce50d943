// Package telemetry installs the OpenTelemetry providers that receive the
// spans and counters recorded around every git invocation.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// EnvExporter selects the exporter: "stdout" or "none" (the default).
const EnvExporter = "QUIPU_TELEMETRY"

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown telemetry exporter")

// Config controls which exporter receives telemetry.
type Config struct {
	ServiceVersion string
	Exporter       string
	// Writer receives stdout exports. Defaults to os.Stderr.
	Writer io.Writer
}

// ConfigFromEnv reads the exporter from QUIPU_TELEMETRY.
func ConfigFromEnv(version string) Config {
	exp := strings.ToLower(strings.TrimSpace(os.Getenv(EnvExporter)))
	if exp == "" {
		exp = ExporterNone
	}
	return Config{ServiceVersion: version, Exporter: exp}
}

// Init installs global tracer and meter providers. The returned shutdown
// flushes pending exports and must be called before exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Exporter {
	case ExporterNone, "":
		return noop, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", "quipu"),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	spanExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(spanExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
