// Package rest serves the configuration store over HTTP with conditional
// request headers.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nainya/cfgstore/internal/logger"
	"github.com/nainya/cfgstore/internal/metrics"
	"github.com/nainya/cfgstore/internal/service"
)

// Handler holds the REST handlers.
type Handler struct {
	svc *service.Service
	log *logger.Logger
}

// NewHandler builds the gin engine with every route registered. m may be nil.
func NewHandler(svc *service.Service, log *logger.Logger, m *metrics.Metrics) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	log = log.HTTPLogger()

	r := gin.New()
	r.Use(requestID(), recovery(log), observe(log, m))
	r.NoRoute(func(c *gin.Context) {
		writeStatus(c, http.StatusNotFound, "NotFound", "no route for "+c.Request.URL.Path)
	})

	h := &Handler{svc: svc, log: log}
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the routes to r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/kv", h.listSettings)
	r.PUT("/kv/*key", h.putSetting)
	r.GET("/kv/*key", h.getSetting)
	r.DELETE("/kv/*key", h.deleteSetting)

	r.PUT("/locks/*key", h.lock)
	r.DELETE("/locks/*key", h.unlock)

	r.GET("/revisions", h.listRevisions)
	r.GET("/labels", h.listLabels)

	r.GET("/snapshots", h.listSnapshots)
	r.PUT("/snapshots/:name", h.createSnapshot)
	r.GET("/snapshots/:name", h.getSnapshot)
	r.PATCH("/snapshots/:name", h.patchSnapshot)
	r.GET("/snapshots/:name/kv", h.listSnapshotSettings)
	r.GET("/operations/:id", h.getOperation)
}

// Server is the REST HTTP server.
type Server struct {
	server *http.Server
	log    *logger.Logger
}

// NewServer creates a server for handler on port.
func NewServer(port int, handler http.Handler, readTimeout, writeTimeout time.Duration, log *logger.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.LogServerReady(s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down rest server")
	return s.server.Shutdown(ctx)
}
