// Package httpserver serves the /health and /metrics endpoints for a
// long-running avesa process, built with gin-gonic/gin the same way the
// teacher's cmd/tarsy/main.go wires its health handler.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/statestore"
)

// Server exposes operational HTTP endpoints alongside the pipeline.
type Server struct {
	router *gin.Engine
	store  statestore.Store
}

var registerMetricsOnce sync.Once

// New builds a Server on gin.Default(); it runs in whatever mode gin.SetMode
// last set ("debug", "release", "test"), gin's default when none was set.
func New(store statestore.Store) *Server {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metrics.All()...)
	})

	router := gin.Default()
	s := &Server{router: router, store: store}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	return s
}

// Run blocks serving on addr (e.g. ":8080").
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// ServeHTTP satisfies http.Handler, letting tests exercise routes directly
// via httptest without binding a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.store.GetTenants(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "unhealthy",
			"state_store": "unreachable",
			"error":       err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"state_store": "ready",
	})
}
