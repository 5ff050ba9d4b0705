// Package query is an in-process cache of fetched server state. Entries are
// keyed by a Key, refetched once stale, shared between concurrent fetches
// of the same key, and collected after they have gone unused for their gc
// time. Failed fetches and mutations are reported to diagnostics and
// returned unchanged.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/opwatch/opwatch/internal/diagnostics"
	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/opwatch/opwatch/internal/util"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Infinity disables staleness or collection when used as a duration
// option.
const Infinity time.Duration = -1

var ErrQueryDisabled = errors.New("query is disabled")

type Config struct {
	StaleTime  time.Duration `flag:"stale-time" desc:"default time before cached data is refetched" default:"0s"`
	GcTime     time.Duration `flag:"gc-time" desc:"default time unused cached data is kept" default:"5m"`
	GcSchedule string        `flag:"gc-schedule" desc:"cron expression for cache collection" default:"@every 1m" validate:"required"`
}

type Key []any

func (k Key) String() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprint([]any(k))
	}
	return string(b)
}

type Options struct {
	Key       Key
	Caller    string
	StaleTime time.Duration
	GcTime    time.Duration
	Disabled  bool
}

type entry struct {
	data       any
	updatedAt  time.Time
	accessedAt time.Time
	gcTime     time.Duration
	invalid    bool
}

type Client struct {
	config   *Config
	reporter diagnostics.Reporter
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	cron    *cron.Cron

	now func() time.Time
}

func NewClient(config *Config, reporter diagnostics.Reporter, metrics *metrics.Metrics) *Client {
	return &Client{
		config:   config,
		reporter: reporter,
		metrics:  metrics,
		entries:  map[string]*entry{},
		now:      time.Now,
	}
}

func (c *Client) String() string {
	return "query"
}

// Start schedules cache collection according to the gc schedule.
func (c *Client) Start() error {
	schedule, err := util.ParseCron(c.config.GcSchedule)
	if err != nil {
		return fmt.Errorf("invalid gc schedule %q: %w", c.config.GcSchedule, err)
	}

	c.cron = cron.New()
	c.cron.Schedule(schedule, cron.FuncJob(func() {
		if n := c.Collect(); n > 0 {
			slog.Debug("query:gc", "collected", n)
		}
	}))
	c.cron.Start()

	return nil
}

func (c *Client) Stop() error {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	return nil
}

// Fetch returns the cached data for opts.Key while it is fresh, otherwise
// it calls fn and caches the result. Concurrent fetches of the same key
// share a single call to fn, which runs detached from the cancellation of
// any one caller and is reported at most once. A caller whose ctx is done
// stops waiting and gets ctx.Err(), the shared call carries on.
func Fetch[T any](ctx context.Context, c *Client, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	key := opts.Key.String()
	staleTime := c.staleTime(opts)

	if data, ok := c.fresh(key, staleTime); ok {
		if v, ok := data.(T); ok {
			return v, nil
		}
	}

	if opts.Disabled {
		v, ok := GetData[T](c, opts.Key)
		if ok {
			return v, nil
		}
		return v, ErrQueryDisabled
	}

	ch := c.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)

		data, err := fn(detached)
		if err != nil {
			c.onError(detached, opts, err)
			return nil, err
		}

		c.set(key, data, c.gcTime(opts))
		c.onSuccess(opts)

		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Prefetch warms the cache for opts.Key. Failures are reported but not
// returned.
func Prefetch[T any](ctx context.Context, c *Client, opts Options, fn func(context.Context) (T, error)) {
	_, _ = Fetch(ctx, c, opts, fn)
}

func GetData[T any](c *Client, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key.String()]
	if !ok {
		return zero, false
	}

	e.accessedAt = c.now()
	v, ok := e.data.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// SetData replaces the cached data for key with the result of updater,
// which receives the previous data if any.
func SetData[T any](c *Client, key Key, updater func(prev T, ok bool) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()

	var prev T
	var found bool
	gcTime := c.config.GcTime
	if e, ok := c.entries[k]; ok {
		prev, found = e.data.(T)
		gcTime = e.gcTime
	}

	next := updater(prev, found)
	now := c.now()
	c.entries[k] = &entry{data: next, updatedAt: now, accessedAt: now, gcTime: gcTime}

	return next
}

// Invalidate marks the data for key as stale so the next fetch refetches.
func (c *Client) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key.String()]; ok {
		e.invalid = true
	}
}

func (c *Client) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key.String())
}

func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Collect evicts entries that have not been accessed within their gc time
// and returns how many were removed.
func (c *Client) Collect() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries { // nosemgrep: range-over-map
		if e.gcTime >= 0 && now.Sub(e.accessedAt) >= e.gcTime {
			delete(c.entries, k)
			n++
		}
	}

	return n
}

// RetryDelay is the backoff before retry attempt n: one second doubled per
// attempt, capped at thirty seconds.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := 1000 * math.Pow(2, float64(attempt))
	return time.Duration(math.Min(delay, 30000)) * time.Millisecond
}

func (c *Client) fresh(key string, staleTime time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.invalid {
		return nil, false
	}

	now := c.now()
	if staleTime >= 0 && now.Sub(e.updatedAt) >= staleTime {
		return nil, false
	}

	e.accessedAt = now
	return e.data, true
}

func (c *Client) set(key string, data any, gcTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry{data: data, updatedAt: now, accessedAt: now, gcTime: gcTime}
}

func (c *Client) staleTime(opts Options) time.Duration {
	if opts.StaleTime != 0 {
		return opts.StaleTime
	}
	return c.config.StaleTime
}

func (c *Client) gcTime(opts Options) time.Duration {
	if opts.GcTime != 0 {
		return opts.GcTime
	}
	return c.config.GcTime
}

func (c *Client) onSuccess(opts Options) {
	c.metrics.QueriesTotal.WithLabelValues("query", "success").Inc()
	slog.Debug("query:success", "key", opts.Key.String(), "caller", opts.Caller)
}

func (c *Client) onError(ctx context.Context, opts Options, err error) {
	c.metrics.QueriesTotal.WithLabelValues("query", "error").Inc()

	extra := map[string]string{"queryKey": opts.Key.String()}
	if opts.Caller != "" {
		extra["caller"] = opts.Caller
	}

	diagnostics.Report(ctx, c.reporter, &diagnostics.Error{
		Kind:  diagnostics.KindQuery,
		Err:   err,
		Extra: extra,
	})
}
