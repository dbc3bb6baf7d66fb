package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"token-buy-alerts/internal/explorer"
	"token-buy-alerts/internal/version"
)

// HealthCheck probes one upstream dependency.
type HealthCheck func(ctx context.Context) error

// Options configure the HTTP surface.
type Options struct {
	ListenAddr  string
	WebhookPath string
}

// TransferCache exposes the explorer's last fetched batch for the API.
type TransferCache interface {
	CachedBatch() ([]explorer.Transfer, time.Time)
}

// Server hosts the Bot API webhook, a health probe and a small read-only
// API over the explorer cache.
type Server struct {
	opts    Options
	engine  *gin.Engine
	httpSrv *http.Server
	logger  zerolog.Logger
}

// New wires routes into a gin engine. webhook may be nil when the bot
// runs on long polling; the route then answers 404.
func New(opts Options, webhook http.Handler, checks map[string]HealthCheck, cache TransferCache, logger zerolog.Logger) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/webhook"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		opts:   opts,
		engine: engine,
		logger: logger.With().Str("component", "server").Logger(),
	}

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "buywatcher",
			"version": version.Short(),
			"status":  "ok",
		})
	})

	engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{
			"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
			"checks": results,
		})
	})

	engine.GET("/api/transactions", func(c *gin.Context) {
		if cache == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "explorer cache unavailable"})
			return
		}
		batch, fetchedAt := cache.CachedBatch()
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"fetched_at": fetchedAt,
			"count":      len(batch),
			"data":       batch,
		})
	})

	if webhook != nil {
		engine.POST(opts.WebhookPath, gin.WrapH(webhook))
	}

	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
