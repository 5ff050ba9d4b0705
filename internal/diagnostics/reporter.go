package diagnostics

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opwatch/opwatch/internal/metrics"
)

// LogReporter writes reported errors to a slog logger at error level.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error) {
	attrs := []any{"kind", KindOf(err), "err", err}
	var e *Error
	if errors.As(err, &e) {
		attrs = append(attrs, e.Attrs()...)
	}

	r.logger.ErrorContext(ctx, "diagnostics:report", attrs...)
}

// MetricsReporter counts reported errors by kind.
type MetricsReporter struct {
	metrics *metrics.Metrics
}

func NewMetricsReporter(metrics *metrics.Metrics) *MetricsReporter {
	return &MetricsReporter{metrics: metrics}
}

func (r *MetricsReporter) Report(_ context.Context, err error) {
	r.metrics.ReportedErrorsTotal.WithLabelValues(string(KindOf(err))).Inc()
}

// Reporters fans a report out to every reporter in order.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, err error) {
	for _, r := range rs {
		Report(ctx, r, err)
	}
}
