// Package server exposes the poller state to kiosk browsers as JSON.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/poller"
)

const shutdownTimeout = 10 * time.Second

// StateSource provides the latest poll snapshot. *poller.Poller implements it.
type StateSource interface {
	Latest() poller.Snapshot
}

// Server serves the kiosk API.
type Server struct {
	src    StateSource
	router *gin.Engine
}

// New builds the router. metrics may be nil, in which case /metrics is not
// registered.
func New(src StateSource, metrics http.Handler) *Server {
	router := gin.New()
	router.Use(recovery())
	router.Use(requestLogger())
	router.Use(noStore())

	s := &Server{src: src, router: router}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "path": c.Request.URL.Path})
	})

	router.GET("/healthz", s.health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/state", s.state)
		api.GET("/next-batch", s.nextBatch)
		api.GET("/next-pick", s.nextPick)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logging.Info("kiosk server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("kiosk server stopped")
	return nil
}
