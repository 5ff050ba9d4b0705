package query

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opwatch/opwatch/internal/diagnostics"
)

type MutationOptions struct {
	Key    Key
	Caller string
}

// Mutate runs fn with variables. It does not touch the cache, callers
// update cached data themselves with SetData or Invalidate.
func Mutate[V any, T any](ctx context.Context, c *Client, opts MutationOptions, variables V, fn func(context.Context, V) (T, error)) (T, error) {
	data, err := fn(ctx, variables)
	if err != nil {
		c.metrics.QueriesTotal.WithLabelValues("mutation", "error").Inc()

		extra := map[string]string{"mutationKey": ""}
		if opts.Key != nil {
			extra["mutationKey"] = opts.Key.String()
		}
		if opts.Caller != "" {
			extra["caller"] = opts.Caller
		}
		if b, err := json.Marshal(variables); err == nil && string(b) != "null" {
			extra["variables"] = string(b)
		}

		diagnostics.Report(ctx, c.reporter, &diagnostics.Error{
			Kind:              diagnostics.KindMutation,
			Err:               err,
			AdditionalMessage: "Mutation failed",
			Extra:             extra,
		})

		return data, err
	}

	c.metrics.QueriesTotal.WithLabelValues("mutation", "success").Inc()
	slog.Debug("query:mutation", "key", opts.Key.String(), "caller", opts.Caller, "variables", variables, "data", data)

	return data, nil
}
