package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"mobility-feed/internal/config"
	"mobility-feed/internal/session"
)

type Server struct {
	http   *http.Server
	cfg    config.WebConfig
	sess   *session.Session
	log    *slog.Logger
	router *gin.Engine
}

// New wires the read surface of sess. A nil gatherer hides /metrics.
func New(cfg config.WebConfig, sess *session.Session, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		sess: sess,
		log:  log.With("component", "web"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog, commonHeaders)

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/connection", s.handleConnection)
	v1.POST("/connection/start", s.handleStart)
	v1.POST("/connection/stop", s.handleStop)
	v1.GET("/streams/:kind", s.handleStream)
	v1.POST("/streams/reset", s.handleReset)
	v1.GET("/diagnostics", s.handleDiagnostics)
	v1.GET("/events/stream", s.handleEventsStream)
	v1.GET("/events/poll", s.handleEventsPoll)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
	})
	s.router = r

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	// request contexts end with ctx so open event streams let Shutdown finish
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", "http://"+ln.Addr().String())
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shCtx); err != nil {
		s.log.Warn("shutdown error", "err", err)
		return err
	}
	s.log.Info("stopped")
	return nil
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"took", time.Since(start))
}

func commonHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "600")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}
