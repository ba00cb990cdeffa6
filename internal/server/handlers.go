package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joshp123/gohome-besmart/internal/core"
)

// HealthHandler reports per-plugin health. It answers 503 only when a
// plugin is in ERROR; DEGRADED still serves.
func HealthHandler(plugins []core.Plugin) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := http.StatusOK
		out := make(map[string]gin.H, len(plugins))
		for _, p := range plugins {
			status := p.Health()
			if status == core.HealthError {
				code = http.StatusServiceUnavailable
			}
			out[p.ID()] = gin.H{"status": status, "message": p.HealthMessage()}
		}
		c.JSON(code, gin.H{"plugins": out})
	}
}
