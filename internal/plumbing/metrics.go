package plumbing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("quipu.plumbing")
	meter  = otel.Meter("quipu.plumbing")
)

var (
	execLatency metric.Float64Histogram
	execTotal   metric.Int64Counter
	execErrors  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once per process.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		execLatency, err = meter.Float64Histogram(
			"quipu_git_exec_duration_seconds",
			metric.WithDescription("Duration of git plumbing invocations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		execTotal, err = meter.Int64Counter(
			"quipu_git_exec_total",
			metric.WithDescription("Total number of git plumbing invocations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		execErrors, err = meter.Int64Counter(
			"quipu_git_exec_errors_total",
			metric.WithDescription("Git plumbing invocations that exited non-zero"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startSpan(ctx context.Context, args []string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "git."+args[0],
		trace.WithAttributes(
			attribute.String("git.command", args[0]),
			attribute.Int("git.argc", len(args)),
		),
	)
}

func recordExec(ctx context.Context, command string, elapsed time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("git.command", command))
	execLatency.Record(ctx, elapsed.Seconds(), attrs)
	execTotal.Add(ctx, 1, attrs)
	if err != nil {
		execErrors.Add(ctx, 1, attrs)
	}
}
