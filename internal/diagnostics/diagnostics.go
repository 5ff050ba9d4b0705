// Package diagnostics defines the side channels used to surface failures
// and timings to operators: a Reporter for non-fatal errors and a Tracer
// for named spans. Neither may affect the outcome of the work they observe.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

type Kind string

const (
	KindXMTP     Kind = "xmtp"
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
	KindStorage  Kind = "storage"
	KindUnknown  Kind = "unknown"
)

// Error wraps an error with the context needed by the diagnostics backend.
type Error struct {
	Kind              Kind
	Err               error
	AdditionalMessage string
	Extra             map[string]string
}

func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.AdditionalMessage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.AdditionalMessage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Attrs flattens the extra fields into slog attributes in key order.
func (e *Error) Attrs() []any {
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra { // nosemgrep: range-over-map
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Extra[k]))
	}
	return attrs
}

type Reporter interface {
	Report(ctx context.Context, err error)
}

type Tracer interface {
	// Span runs fn inside a span called name, op classifies the span.
	Span(ctx context.Context, name string, op string, fn func(context.Context) error) error
}

// Report hands err to r. A panicking reporter is logged and otherwise
// ignored.
func Report(ctx context.Context, r Reporter, err error) {
	if r == nil || err == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Warn("diagnostics:report panicked", "panic", p, "err", err)
		}
	}()

	r.Report(ctx, err)
}
