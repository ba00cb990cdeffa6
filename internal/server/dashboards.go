package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DashboardsHandler serves dashboard JSON from an in-memory map.
func DashboardsHandler(dashboards map[string][]byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if data, ok := dashboards[c.Request.URL.Path]; ok {
			c.Data(http.StatusOK, "application/json", data)
			return
		}
		c.AbortWithStatus(http.StatusNotFound)
	}
}
