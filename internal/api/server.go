// Package api exposes the HTTP control surface: stream and push session
// management plus the Prometheus scrape endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/egress/internal/config"
	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/internal/stream"
)

// Server is the HTTP control API.
type Server struct {
	log    *slog.Logger
	router *gin.Engine
	mgr    *stream.Manager
	mux    container.Muxer
	cfg    config.Config
	srv    *http.Server
}

// NewServer builds the API server around the stream manager and the
// container muxer used for new push sessions.
func NewServer(mgr *stream.Manager, mux container.Muxer, cfg config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		log:    log.With("component", "api"),
		router: router,
		mgr:    mgr,
		mux:    mux,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/streams", s.listStreams)
		v1.POST("/streams", s.createStream)
		v1.GET("/streams/:name", s.getStream)
		v1.DELETE("/streams/:name", s.deleteStream)
		v1.POST("/streams/:name/push", s.createPush)
		v1.DELETE("/streams/:name/push/:id", s.deletePush)
	}
}

// Router returns the gin router, used by tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.cfg.API.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control API listening", "addr", s.cfg.API.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
