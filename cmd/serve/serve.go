package serve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opwatch/opwatch/cmd/config"
	"github.com/opwatch/opwatch/internal/diagnostics"
	httpapi "github.com/opwatch/opwatch/internal/http"
	"github.com/opwatch/opwatch/internal/ledger"
	"github.com/opwatch/opwatch/internal/metadata"
	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/opwatch/opwatch/internal/query"
	"github.com/opwatch/opwatch/internal/store/sqlite"
	"github.com/opwatch/opwatch/internal/util"
	"github.com/opwatch/opwatch/internal/version"
	"github.com/opwatch/opwatch/internal/wrapper"
	"github.com/opwatch/opwatch/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewCmd(cfg *config.Config, vip *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the opwatch server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			return config.Read(vip, file)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Decode(vip, cfg); err != nil {
				return err
			}

			return Serve(cmd.Context(), cfg)
		},
	}

	// bind config file flag
	cmd.Flags().StringP("config", "c", "", "config file (default opwatch.yaml)")

	// bind config
	if err := config.Bind(cfg, cmd.Flags(), vip); err != nil {
		panic(err)
	}

	// bind other flags
	cmd.Flags().Bool("ignore-asserts", false, "ignore-asserts mode")
	_ = viper.BindPFlag("ignore-asserts", cmd.Flags().Lookup("ignore-asserts"))

	return cmd
}

func Serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// logger
	logger, err := log.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		return err
	}
	slog.SetDefault(logger)

	// metrics
	reg := prometheus.NewRegistry()
	metrics := metrics.New(reg)

	// tracing
	tp, err := diagnostics.NewTracerProvider(ctx, &cfg.Tracing, version.Short())
	if err != nil {
		slog.Error("failed to start tracing", "error", err)
		return err
	}
	defer util.DeferAndLog(func() error { return tp.Shutdown(context.Background()) })

	reporter := diagnostics.Reporters{
		diagnostics.NewLogReporter(logger),
		diagnostics.NewMetricsReporter(metrics),
	}

	// store
	store, err := sqlite.New(&cfg.Store, metrics)
	if err != nil {
		return err
	}
	if err := store.Start(nil); err != nil {
		slog.Error("failed to start store", "error", err)
		return err
	}
	defer util.DeferAndLog(store.Stop)

	// query cache
	client := query.NewClient(&cfg.Query, reporter, metrics)
	if err := client.Start(); err != nil {
		slog.Error("failed to start query cache", "error", err)
		return err
	}
	defer util.DeferAndLog(client.Stop)

	// wrapper
	w := wrapper.New(&cfg.Wrapper, ledger.New(), reporter, diagnostics.NewOtelTracer(tp), metrics)

	// http
	errs := make(chan error, 1)
	api := httpapi.New(&cfg.Http, w.Ledger(), metadata.New(client, w, store), metrics)
	go api.Start(errs)

	// metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		for {
			slog.Info("starting metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && errors.Is(err, http.ErrServerClosed) {
				return
			}

			slog.Error("restarting metrics server...", "error", err)
			time.Sleep(5 * time.Second)
		}
	}()

	// halt until we get a shutdown signal or an error
	// occurs, whichever happens first
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		slog.Info("shutdown signal received, shutting down", "signal", s)
	case <-ctx.Done():
		slog.Info("context done, shutting down")
	case runErr = <-errs:
		slog.Error("http error received, shutting down", "error", runErr)
	}

	if n := w.Ledger().Len(); n > 0 {
		slog.Warn("shutting down with operations in flight", "count", n)
	}

	if err := api.Stop(); err != nil {
		slog.Error("failed to stop http server", "error", err)
		return err
	}

	if err := metricsServer.Close(); err != nil {
		slog.Warn("error stopping metrics server", "error", err)
	}

	return runErr
}
