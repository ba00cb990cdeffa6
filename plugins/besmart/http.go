package besmart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/gohome-besmart/internal/blobstore"
)

// RegisterHTTP mounts the REST routes under group (normally /api).
func (p *Plugin) RegisterHTTP(group *gin.RouterGroup) {
	api := group.Group("/besmart")
	api.Use(p.requireClient)

	api.GET("/rooms", p.handleRooms)
	api.GET("/thermostats", p.handleThermostats)
	api.GET("/thermostats/:room", p.withThermostat(p.handleThermostat))
	api.PUT("/thermostats/:room", p.withThermostat(p.handleCommand))
	api.POST("/thermostats/:room/refresh", p.withThermostat(p.handleRefresh))
	api.GET("/thermostats/:room/settings", p.withThermostat(p.handleSettings))
	api.GET("/thermostats/:room/snapshot", p.withThermostat(p.handleSnapshot))
	api.GET("/thermostats/:room/history", p.withThermostat(p.handleHistory))
}

func (p *Plugin) requireClient(c *gin.Context) {
	if p.client == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "besmart client not configured"})
		return
	}
	c.Next()
}

func (p *Plugin) withThermostat(fn func(*gin.Context, *Thermostat)) gin.HandlerFunc {
	return func(c *gin.Context) {
		th, ok := p.Thermostat(c.Param("room"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown room " + strconv.Quote(c.Param("room"))})
			return
		}
		fn(c, th)
	}
}

// abortWithError reuses the gRPC error mapping so both surfaces agree.
func abortWithError(c *gin.Context, op string, err error) {
	st, _ := status.FromError(statusError(op, err))
	c.AbortWithStatusJSON(httpStatus(st.Code()), gin.H{"error": st.Message()})
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (p *Plugin) handleRooms(c *gin.Context) {
	rooms, err := p.client.Rooms(c.Request.Context())
	if err != nil {
		abortWithError(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (p *Plugin) handleThermostats(c *gin.Context) {
	out := make([]map[string]any, 0, len(p.thermostats))
	for _, th := range p.thermostats {
		out = append(out, View(th))
	}
	c.JSON(http.StatusOK, gin.H{"thermostats": out})
}

func (p *Plugin) handleThermostat(c *gin.Context, th *Thermostat) {
	c.JSON(http.StatusOK, View(th))
}

func (p *Plugin) handleCommand(c *gin.Context, th *Thermostat) {
	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cmd.Empty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no changes requested"})
		return
	}
	if err := cmd.Apply(c.Request.Context(), th); err != nil {
		abortWithError(c, "apply command", err)
		return
	}
	c.JSON(http.StatusOK, View(th))
}

func (p *Plugin) handleRefresh(c *gin.Context, th *Thermostat) {
	if err := th.Update(c.Request.Context()); err != nil {
		abortWithError(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, View(th))
}

func (p *Plugin) handleSettings(c *gin.Context, th *Thermostat) {
	settings, err := p.client.Settings(c.Request.Context(), th.Room())
	if err != nil {
		abortWithError(c, "get settings", err)
		return
	}
	c.JSON(http.StatusOK, SettingsView(settings))
}

func (p *Plugin) handleSnapshot(c *gin.Context, th *Thermostat) {
	raw, err := p.Snapshot(c.Request.Context(), th)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	if err != nil {
		abortWithError(c, "get snapshot", err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (p *Plugin) handleHistory(c *gin.Context, th *Thermostat) {
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	readings, err := p.History(c.Request.Context(), th, limit)
	if errors.Is(err, errHistoryDisabled) {
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		abortWithError(c, "get history", err)
		return
	}
	out := make([]map[string]any, 0, len(readings))
	for _, r := range readings {
		out = append(out, ReadingView(r))
	}
	c.JSON(http.StatusOK, gin.H{"readings": out})
}
