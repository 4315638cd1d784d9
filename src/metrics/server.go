package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// Server serves /healthz and /metrics.
type Server struct {
	addr   string
	engine *gin.Engine
	logger *slog.Logger
}

type ServerOption func(*serverOptions)

type serverOptions struct {
	service  string
	provider trace.TracerProvider
}

// WithTracing wraps every request in a server span from tp.
func WithTracing(service string, tp trace.TracerProvider) ServerOption {
	return func(o *serverOptions) {
		o.service = service
		o.provider = tp
	}
}

func NewServer(addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if o.provider != nil {
		engine.Use(otelgin.Middleware(o.service, otelgin.WithTracerProvider(o.provider)))
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return &Server{addr: addr, engine: engine, logger: logger}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listen", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
