package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/opwatch/opwatch/internal/ledger"
	"github.com/opwatch/opwatch/internal/metadata"
	"github.com/opwatch/opwatch/internal/metrics"
	"github.com/opwatch/opwatch/internal/query"
	"github.com/opwatch/opwatch/internal/wrapper"
	"github.com/opwatch/opwatch/pkg/conversation"
)

type Config struct {
	Addr         string        `flag:"addr" desc:"http server address" default:":8001" validate:"required"`
	Timeout      time.Duration `flag:"timeout" desc:"http server graceful shutdown timeout" default:"10s" validate:"gte=0"`
	AllowOrigins []string      `flag:"allow-origins" desc:"origins allowed to make cross origin requests" default:"*"`
}

type MetadataService interface {
	Get(ctx context.Context, args metadata.Args, caller string) (*conversation.Metadata, error)
	Update(ctx context.Context, args metadata.Args, patch *conversation.Patch, caller string) (*conversation.Metadata, error)
}

type Http struct {
	config *Config
	server *http.Server
}

func New(config *Config, ledger *ledger.Ledger, metadata MetadataService, metrics *metrics.Metrics) *Http {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(config.AllowOrigins)))

	s := &server{ledger: ledger, metadata: metadata, metrics: metrics}
	r.Use(s.log)

	// Health
	r.GET("/healthz", s.health)

	// Operations
	r.GET("/operations", s.listOperations)
	r.GET("/operations/:id", s.readOperation)

	// Conversation metadata
	r.GET("/conversations/:id/metadata", s.readMetadata)
	r.PATCH("/conversations/:id/metadata", s.updateMetadata)

	return &Http{
		config: config,
		server: &http.Server{
			Addr:    config.Addr,
			Handler: r,
		},
	}
}

func (h *Http) Handler() http.Handler {
	return h.server.Handler
}

func (h *Http) Start(errors chan<- error) {
	slog.Info("starting http server", "addr", h.config.Addr)
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errors <- err
	}
}

func (h *Http) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return h.server.Shutdown(ctx)
}

func (h *Http) String() string {
	return "http"
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodPatch, http.MethodOptions}

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}

	return config
}

type server struct {
	ledger   *ledger.Ledger
	metadata MetadataService
	metrics  *metrics.Metrics
}

func (s *server) log(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	slog.Debug("http:request", "method", c.Request.Method, "route", c.FullPath(), "status", status, "duration", time.Since(start))

	if s.metrics != nil {
		s.metrics.HttpRequestsTotal.WithLabelValues(c.FullPath(), strconv.Itoa(status)).Inc()
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"inFlight": s.ledger.Len(),
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, query.ErrQueryDisabled):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, wrapper.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
