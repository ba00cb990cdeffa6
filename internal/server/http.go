package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-besmart/internal/core"
)

// HTTPServer serves health, metrics, dashboards and plugin REST routes.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{Addr: addr, Handler: handler}}
}

// ListenAndServe blocks until the server stops. A clean Shutdown is not an error.
func (s *HTTPServer) ListenAndServe() error {
	err := s.Server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// NewRouter builds the gin engine. Plugins implementing core.HTTPRegistrant
// mount their routes under /api.
func NewRouter(registry *prometheus.Registry, plugins []core.Plugin) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", HealthHandler(plugins))
	r.GET("/metrics", MetricsHandler(registry))
	r.GET("/dashboards/*path", DashboardsHandler(core.DashboardsMap(plugins)))

	api := r.Group("/api")
	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(api)
		}
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request")
	}
}
