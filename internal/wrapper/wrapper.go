// Package wrapper decorates calls into the messaging sdk with lifecycle
// tracking, a hard timeout and slow call diagnostics.
//
// A wrapped call is registered in the ledger before it starts and removed
// once the wrapper stops waiting for it, whatever the outcome. The timeout
// only abandons the wait: the call keeps its context and may continue to
// run, and mutate shared state, after the caller has received a
// *TimeoutError.
package wrapper

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opwatch/opwatch/internal/diagnostics"
	"github.com/opwatch/opwatch/internal/ledger"
	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/opwatch/opwatch/internal/race"
)

// SpanOp classifies the spans opened around wrapped calls.
const SpanOp = "XMTP"

type Config struct {
	Timeout       time.Duration `flag:"timeout" desc:"hard timeout for sdk calls" default:"15s" validate:"gt=0"`
	SlowThreshold time.Duration `flag:"slow-threshold" desc:"successful sdk calls slower than this are reported" default:"3s" validate:"gte=0"`
}

type Wrapper struct {
	config   *Config
	ledger   *ledger.Ledger
	reporter diagnostics.Reporter
	tracer   diagnostics.Tracer
	metrics  *metrics.Metrics

	id  func() string
	now func() time.Time
}

func New(config *Config, ledger *ledger.Ledger, reporter diagnostics.Reporter, tracer diagnostics.Tracer, metrics *metrics.Metrics) *Wrapper {
	if tracer == nil {
		tracer = diagnostics.NoopTracer{}
	}

	return &Wrapper{
		config:   config,
		ledger:   ledger,
		reporter: reporter,
		tracer:   tracer,
		metrics:  metrics,
		id:       uuid.NewString,
		now:      time.Now,
	}
}

func (w *Wrapper) Ledger() *ledger.Ledger {
	return w.ledger
}

// Do is Call for operations without a result.
func (w *Wrapper) Do(ctx context.Context, name string, call func(context.Context) error) error {
	_, err := Call(ctx, w, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	return err
}

// Call runs call under the wrapper. The value or error of call is returned
// unchanged, except when the timeout elapses first (*TimeoutError) or ctx
// is done first (ctx.Err()).
func Call[T any](ctx context.Context, w *Wrapper, name string, call func(context.Context) (T, error)) (T, error) {
	id := w.id()
	start := w.now()

	w.ledger.Add(ledger.Operation{Id: id, Name: name, StartTime: start.UnixMilli()})
	defer w.ledger.Remove(id)

	w.metrics.OperationsInFlight.WithLabelValues(name).Inc()
	defer w.metrics.OperationsInFlight.WithLabelValues(name).Dec()

	slog.Debug("wrapper:start", "id", id, "name", name)

	res := race.Timeout(ctx, w.config.Timeout, func(ctx context.Context) (T, error) {
		var value T
		err := w.tracer.Span(ctx, name, SpanOp, func(ctx context.Context) error {
			var err error
			value, err = call(ctx)
			return err
		})
		return value, err
	})

	duration := w.now().Sub(start)

	err := res.Err
	if res.Winner == race.Timer {
		err = &TimeoutError{Name: name, Timeout: w.config.Timeout}
	}

	if err != nil {
		slog.Error("wrapper:failed", "id", id, "name", name, "duration", duration, "winner", res.Winner, "err", err)
		w.observe(name, status(res.Winner), duration)

		var zero T
		return zero, err
	}

	slog.Debug("wrapper:finished", "id", id, "name", name, "duration", duration)
	w.observe(name, "success", duration)

	if duration > w.config.SlowThreshold {
		w.metrics.SlowOperationsTotal.WithLabelValues(name).Inc()
		diagnostics.Report(ctx, w.reporter, &diagnostics.Error{
			Kind: diagnostics.KindXMTP,
			Err:  &SlowCallError{Name: name, Duration: duration},
			Extra: map[string]string{
				"operation":  name,
				"durationMs": strconv.FormatInt(duration.Milliseconds(), 10),
			},
		})
	}

	return res.Value, nil
}

func (w *Wrapper) observe(name string, status string, duration time.Duration) {
	w.metrics.OperationsTotal.WithLabelValues(name, status).Inc()
	w.metrics.OperationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func status(winner race.Winner) string {
	switch winner {
	case race.Timer:
		return "timeout"
	case race.Context:
		return "canceled"
	default:
		return "failure"
	}
}
