package besmart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(p *Plugin) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p.RegisterHTTP(r.Group("/api"))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHTTPThermostatRoutes(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	r := newTestRouter(p)

	rec, body := doJSON(t, r, http.MethodPost, "/api/besmart/thermostats/casa/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "heating", body["hvac_action"])

	rec, body = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/living_room", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Living Room", body["room"])
	assert.Equal(t, false, body["available"])

	rec, body = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["thermostats"], 2)

	rec, body = doJSON(t, r, http.MethodGet, "/api/besmart/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["rooms"], 2)

	rec, body = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/casa/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", body["roomMark"])

	rec, body = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/casa/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", body["season"])
}

func TestHTTPCommand(t *testing.T) {
	p, vendor, _ := newTestPlugin(t)
	r := newTestRouter(p)

	rec, body := doJSON(t, r, http.MethodPut, "/api/besmart/thermostats/casa",
		`{"temperature": 21.5, "temperature_low": 17, "preset_mode": "ECO"}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, 21.5, body["target_temperature"])
	assert.Equal(t, 17.0, body["target_temperature_low"])

	assert.Len(t, vendor.callsTo(comfortTempPath), 1)
	assert.Len(t, vendor.callsTo(ecoTempPath), 1)
	require.Len(t, vendor.callsTo(roomModePath), 1)
	assert.Equal(t, "1", vendor.callsTo(roomModePath)[0].Form.Get("mode"))
}

func TestHTTPErrors(t *testing.T) {
	p, vendor, _ := newTestPlugin(t)
	r := newTestRouter(p)

	rec, _ := doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/attic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, r, http.MethodPut, "/api/besmart/thermostats/casa", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, r, http.MethodPut, "/api/besmart/thermostats/casa", `{"hvac_mode":"cool"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, vendor.callsTo(setSettingsPath))

	vendor.setAck(comfortTempPath, `{"error":0}`)
	rec, body := doJSON(t, r, http.MethodPut, "/api/besmart/thermostats/casa", `{"temperature":30}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["error"], "rejected")

	rec, _ = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/casa/history", "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec, _ = doJSON(t, r, http.MethodGet, "/api/besmart/thermostats/casa/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, newTestRouter(&Plugin{}), http.MethodGet, "/api/besmart/thermostats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
