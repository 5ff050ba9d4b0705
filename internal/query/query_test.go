package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opwatch/opwatch/internal/diagnostics"
	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setup(t *testing.T, config *Config) (*Client, *diagnostics.MockReporter, *clock) {
	ctrl := gomock.NewController(t)
	reporter := diagnostics.NewMockReporter(ctrl)

	c := NewClient(config, reporter, metrics.New(prometheus.NewRegistry()))
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c.now = clk.now

	return c, reporter, clk
}

func TestKeyString(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      Key
		expected string
	}{
		{name: "Empty", key: Key{}, expected: `[]`},
		{name: "Strings", key: Key{"conversation-metadata", "c1", "i1"}, expected: `["conversation-metadata","c1","i1"]`},
		{name: "Mixed", key: Key{"page", 2, true}, expected: `["page",2,true]`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.key.String())
		})
	}
}

func TestFetchCachesWhileFresh(t *testing.T) {
	c, _, clk := setup(t, &Config{StaleTime: time.Minute, GcTime: time.Hour})

	var calls atomic.Int64
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}
	opts := Options{Key: Key{"foo"}, Caller: "test"}

	for i := 0; i < 3; i++ {
		v, err := Fetch(context.Background(), c, opts, fn)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, int64(1), calls.Load())

	clk.advance(time.Minute)

	_, err := Fetch(context.Background(), c, opts, fn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.QueriesTotal.WithLabelValues("query", "success")))
}

func TestFetchZeroStaleTimeAlwaysRefetches(t *testing.T) {
	c, _, _ := setup(t, &Config{StaleTime: 0, GcTime: time.Hour})

	var calls atomic.Int64
	fn := func(context.Context) (int64, error) {
		return calls.Add(1), nil
	}

	v1, _ := Fetch(context.Background(), c, Options{Key: Key{"n"}}, fn)
	v2, _ := Fetch(context.Background(), c, Options{Key: Key{"n"}}, fn)

	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)
}

func TestFetchInfiniteStaleTime(t *testing.T) {
	c, _, clk := setup(t, &Config{GcTime: time.Hour})

	var calls atomic.Int64
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}
	opts := Options{Key: Key{"forever"}, StaleTime: Infinity}

	_, _ = Fetch(context.Background(), c, opts, fn)
	clk.advance(24 * time.Hour)
	_, _ = Fetch(context.Background(), c, opts, fn)

	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchErrorIsReported(t *testing.T) {
	c, reporter, _ := setup(t, &Config{GcTime: time.Hour})
	boom := errors.New("boom")

	var reported error
	reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Do(func(_ context.Context, err error) {
		reported = err
	}).Times(1)

	_, err := Fetch(context.Background(), c, Options{Key: Key{"foo", 1}, Caller: "conversationScreen"}, func(context.Context) (string, error) {
		return "", boom
	})

	assert.Same(t, boom, err)

	var de *diagnostics.Error
	require.ErrorAs(t, reported, &de)
	assert.Equal(t, diagnostics.KindQuery, de.Kind)
	assert.ErrorIs(t, de, boom)
	assert.Equal(t, map[string]string{"queryKey": `["foo",1]`, "caller": "conversationScreen"}, de.Extra)
	assert.Equal(t, 0, c.Len())
}

func TestFetchDisabled(t *testing.T) {
	c, _, _ := setup(t, &Config{GcTime: time.Hour})

	fn := func(context.Context) (string, error) {
		t.Fatal("disabled query must not fetch")
		return "", nil
	}

	_, err := Fetch(context.Background(), c, Options{Key: Key{"tmp"}, Disabled: true}, fn)
	assert.ErrorIs(t, err, ErrQueryDisabled)

	SetData(c, Key{"tmp"}, func(string, bool) string { return "cached" })

	v, err := Fetch(context.Background(), c, Options{Key: Key{"tmp"}, Disabled: true}, fn)
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
}

func TestFetchSharesInFlightCall(t *testing.T) {
	c, _, _ := setup(t, &Config{StaleTime: Infinity, GcTime: time.Hour})

	var calls atomic.Int64
	release := make(chan struct{})
	entered := make(chan struct{})

	fn := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = Fetch(context.Background(), c, Options{Key: Key{"k"}}, fn)
	}()
	<-entered

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Fetch(context.Background(), c, Options{Key: Key{"k"}}, fn)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestFetchSharedCallOutlivesCanceledCaller(t *testing.T) {
	c, _, _ := setup(t, &Config{StaleTime: Infinity, GcTime: time.Hour})

	entered := make(chan struct{})
	release := make(chan struct{})

	var calls atomic.Int64
	var fnErr atomic.Value
	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			fnErr.Store(err)
		}
		return "shared", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	errA := make(chan error, 1)
	go func() {
		_, err := Fetch(ctxA, c, Options{Key: Key{"k"}}, fn)
		errA <- err
	}()
	<-entered

	type result struct {
		value string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := Fetch(context.Background(), c, Options{Key: Key{"k"}}, fn)
		resB <- result{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "shared", b.value)

	assert.Equal(t, int64(1), calls.Load())
	assert.Nil(t, fnErr.Load(), "shared call must not see the caller's cancellation")

	v, ok := GetData[string](c, Key{"k"})
	require.True(t, ok)
	assert.Equal(t, "shared", v)
}

func TestFetchSharedFailureIsReportedOnce(t *testing.T) {
	c, reporter, _ := setup(t, &Config{GcTime: time.Hour})
	boom := errors.New("boom")

	reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Times(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fn := func(context.Context) (string, error) {
		once.Do(func() { close(entered) })
		<-release
		return "", boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = Fetch(context.Background(), c, Options{Key: Key{"k"}}, fn)
	}()
	<-entered

	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Fetch(context.Background(), c, Options{Key: Key{"k"}}, fn)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.Same(t, boom, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.QueriesTotal.WithLabelValues("query", "error")))
}

func TestSetAndGetData(t *testing.T) {
	c, _, _ := setup(t, &Config{GcTime: time.Hour})

	_, ok := GetData[int](c, Key{"count"})
	assert.False(t, ok)

	SetData(c, Key{"count"}, func(prev int, ok bool) int {
		assert.False(t, ok)
		return prev + 1
	})
	SetData(c, Key{"count"}, func(prev int, ok bool) int {
		assert.True(t, ok)
		return prev + 1
	})

	v, ok := GetData[int](c, Key{"count"})
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = GetData[string](c, Key{"count"})
	assert.False(t, ok, "mismatched type must not be returned")
}

func TestInvalidateAndRemove(t *testing.T) {
	c, _, _ := setup(t, &Config{StaleTime: Infinity, GcTime: time.Hour})

	var calls atomic.Int64
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}

	_, _ = Fetch(context.Background(), c, Options{Key: Key{"x"}}, fn)
	c.Invalidate(Key{"x"})
	_, _ = Fetch(context.Background(), c, Options{Key: Key{"x"}}, fn)
	assert.Equal(t, int64(2), calls.Load())

	c.Remove(Key{"x"})
	assert.Equal(t, 0, c.Len())
}

func TestCollect(t *testing.T) {
	c, _, clk := setup(t, &Config{StaleTime: Infinity, GcTime: time.Minute})

	SetData(c, Key{"short"}, func(int, bool) int { return 1 })
	_, _ = Fetch(context.Background(), c, Options{Key: Key{"long"}, GcTime: time.Hour}, func(context.Context) (int, error) { return 2, nil })
	_, _ = Fetch(context.Background(), c, Options{Key: Key{"never"}, GcTime: Infinity}, func(context.Context) (int, error) { return 3, nil })

	clk.advance(2 * time.Minute)
	assert.Equal(t, 1, c.Collect())

	_, ok := GetData[int](c, Key{"short"})
	assert.False(t, ok)

	clk.advance(2 * time.Hour)
	assert.Equal(t, 1, c.Collect())

	_, ok = GetData[int](c, Key{"never"})
	assert.True(t, ok)
}

func TestStartStop(t *testing.T) {
	c, _, _ := setup(t, &Config{GcTime: time.Minute, GcSchedule: "@every 1m"})
	require.NoError(t, c.Start())
	assert.NoError(t, c.Stop())

	bad, _, _ := setup(t, &Config{GcSchedule: "not a schedule"})
	assert.Error(t, bad.Start())
}

func TestRetryDelay(t *testing.T) {
	for _, tc := range []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: time.Second},
		{attempt: 1, expected: 2 * time.Second},
		{attempt: 4, expected: 16 * time.Second},
		{attempt: 5, expected: 30 * time.Second},
		{attempt: 20, expected: 30 * time.Second},
	} {
		assert.Equal(t, tc.expected, RetryDelay(tc.attempt))
	}
}

func TestMutate(t *testing.T) {
	c, reporter, _ := setup(t, &Config{GcTime: time.Hour})

	type vars struct {
		Id     string `json:"id"`
		Pinned bool   `json:"pinned"`
	}

	v, err := Mutate(context.Background(), c, MutationOptions{Key: Key{"pin"}, Caller: "test"}, vars{Id: "c1", Pinned: true}, func(_ context.Context, v vars) (bool, error) {
		return v.Pinned, nil
	})
	require.NoError(t, err)
	assert.True(t, v)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.QueriesTotal.WithLabelValues("mutation", "success")))

	boom := errors.New("boom")
	var reported error
	reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Do(func(_ context.Context, err error) {
		reported = err
	}).Times(1)

	_, err = Mutate(context.Background(), c, MutationOptions{Key: Key{"pin"}, Caller: "test"}, vars{Id: "c1"}, func(context.Context, vars) (bool, error) {
		return false, boom
	})
	assert.Same(t, boom, err)

	var de *diagnostics.Error
	require.ErrorAs(t, reported, &de)
	assert.Equal(t, diagnostics.KindMutation, de.Kind)
	assert.Equal(t, "Mutation failed", de.AdditionalMessage)
	assert.Equal(t, `["pin"]`, de.Extra["mutationKey"])
	assert.Equal(t, "test", de.Extra["caller"])
	assert.Equal(t, `{"id":"c1","pinned":false}`, de.Extra["variables"])
}

func TestMutateWithoutKey(t *testing.T) {
	c, reporter, _ := setup(t, &Config{GcTime: time.Hour})

	var reported error
	reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Do(func(_ context.Context, err error) {
		reported = err
	}).Times(1)

	_, _ = Mutate[any](context.Background(), c, MutationOptions{}, nil, func(context.Context, any) (int, error) {
		return 0, errors.New("boom")
	})

	var de *diagnostics.Error
	require.ErrorAs(t, reported, &de)
	assert.Equal(t, map[string]string{"mutationKey": ""}, de.Extra)
}

func TestMutateSuccessLogsData(t *testing.T) {
	c, _, _ := setup(t, &Config{GcTime: time.Hour})

	buf := &bytes.Buffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := Mutate(context.Background(), c, MutationOptions{Key: Key{"pin"}, Caller: "pinButton"}, "c1", func(context.Context, string) (string, error) {
		return "pinned", nil
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "query:mutation", line["msg"])
	assert.Equal(t, `["pin"]`, line["key"])
	assert.Equal(t, "pinButton", line["caller"])
	assert.Equal(t, "c1", line["variables"])
	assert.Equal(t, "pinned", line["data"])
}
