package besmart

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-besmart/internal/blobstore"
	"github.com/joshp123/gohome-besmart/internal/config"
	"github.com/joshp123/gohome-besmart/internal/core"
	"github.com/joshp123/gohome-besmart/internal/history"
)

type memoryHistory struct {
	mu       sync.Mutex
	readings []history.Reading
	limits   []int64
	err      error
}

func (m *memoryHistory) Record(_ context.Context, readings ...history.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, readings...)
	return nil
}

func (m *memoryHistory) Latest(_ context.Context, room string, limit int64) ([]history.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	var out []history.Reading
	for i := len(m.readings) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if m.readings[i].Room == room {
			out = append(out, m.readings[i])
		}
	}
	return out, nil
}

func newTestPlugin(t *testing.T) (*Plugin, *fakeVendor, *httptest.Server) {
	t.Helper()
	vendor, server := newFakeVendor(t)
	vendor.setRoomData("43", `{"error":0,"roomMark":"8","comfT":"19.0","mode":"5"}`)
	p := newPlugin(Config{
		BaseURL:      server.URL + "/api",
		Username:     "user",
		Password:     "secret",
		PollInterval: time.Minute,
		Rooms: []RoomRef{
			{TherID: "42", Name: "casa"},
			{TherID: "43", Name: "Living Room"},
		},
	}, &http.Client{Timeout: 5 * time.Second}, blobstore.NewMemoryStore())
	return p, vendor, server
}

func TestNewPluginFromConfig(t *testing.T) {
	p, ok := NewPlugin(&config.Config{})
	assert.False(t, ok)
	assert.Nil(t, p)

	p, ok = NewPlugin(&config.Config{Besmart: &config.BesmartConfig{Username: "user", Password: "secret"}})
	require.True(t, ok)
	assert.Equal(t, core.HealthError, p.Health())
	assert.Contains(t, p.HealthMessage(), "at least one thermostat")
	assert.Nil(t, p.Collectors())

	p, ok = NewPlugin(&config.Config{Besmart: &config.BesmartConfig{
		Username:    "user",
		Password:    "secret",
		Thermostats: []config.ThermostatConfig{{TherID: "42"}},
	}})
	require.True(t, ok)
	assert.Equal(t, core.HealthHealthy, p.Health())
	th, ok := p.Thermostat("casa")
	require.True(t, ok)
	assert.Equal(t, "42", th.Room().TherID)
	assert.Equal(t, "besmart", p.Manifest().PluginID)
	assert.NotEmpty(t, p.AgentsMD())
	require.Len(t, p.Dashboards(), 1)
}

func TestPluginThermostatLookup(t *testing.T) {
	p, _, _ := newTestPlugin(t)

	for _, name := range []string{"Living Room", "living room", "living_room", "43"} {
		th, ok := p.Thermostat(name)
		require.True(t, ok, name)
		assert.Equal(t, "43", th.Room().TherID)
	}
	_, ok := p.Thermostat("attic")
	assert.False(t, ok)
}

func TestPluginPollFeedsSinks(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	recorder := &memoryHistory{}
	p.recorder = recorder

	th, _ := p.Thermostat("casa")
	require.NoError(t, th.Update(context.Background()))

	raw, err := p.Snapshot(context.Background(), th)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"roomMark":"7"`)

	stored, err := p.snapshots.Load(context.Background(), "casa")
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(stored))

	require.Len(t, recorder.readings, 1)
	r := recorder.readings[0]
	assert.Equal(t, "casa", r.Room)
	assert.Equal(t, "42", r.TherID)
	assert.Equal(t, 19.5, r.CurrentTemperature)
	assert.Equal(t, "heating", r.HvacAction)

	readings, err := p.History(context.Background(), th, 5)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestPluginSnapshotFallsBackToStore(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	th, _ := p.Thermostat("casa")

	_, err := p.Snapshot(context.Background(), th)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, p.snapshots.Save(context.Background(), "casa", []byte(`{"error":0}`)))
	raw, err := p.Snapshot(context.Background(), th)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":0}`, string(raw))
}

func TestPluginHistoryDisabled(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	th, _ := p.Thermostat("casa")
	_, err := p.History(context.Background(), th, 5)
	assert.ErrorIs(t, err, errHistoryDisabled)
}

func TestPluginHealthDegradesAfterRepeatedFailures(t *testing.T) {
	p, vendor, _ := newTestPlugin(t)
	th, _ := p.Thermostat("casa")
	vendor.failNext(roomDataPath, -1)

	for i := 0; i < degradedAfter-1; i++ {
		require.Error(t, th.Update(context.Background()))
	}
	assert.Equal(t, core.HealthHealthy, p.Health())

	require.Error(t, th.Update(context.Background()))
	assert.Equal(t, core.HealthDegraded, p.Health())
	assert.Contains(t, p.HealthMessage(), "casa: 3 consecutive poll failures")

	vendor.failNext(roomDataPath, 0)
	require.NoError(t, th.Update(context.Background()))
	assert.Equal(t, core.HealthHealthy, p.Health())
}

func TestPluginHealthReportsSinkErrors(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	p.recorder = &memoryHistory{err: errors.New("mongo down")}

	th, _ := p.Thermostat("casa")
	require.NoError(t, th.Update(context.Background()))
	assert.Equal(t, core.HealthDegraded, p.Health())
	assert.Equal(t, "history: mongo down", p.HealthMessage())
}

func TestPluginRunStopsWithContext(t *testing.T) {
	p, vendor, _ := newTestPlugin(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, th := range p.Thermostats() {
			if !th.Available() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, vendor.callsTo(roomDataPath), 2)
}

func TestMetricsCollector(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	th, _ := p.Thermostat("casa")
	require.NoError(t, th.Update(context.Background()))

	collector := NewMetricsCollector(p.Thermostats())
	expected := `
# HELP gohome_besmart_current_temperature_celsius Room temperature reported by the thermostat (celsius)
# TYPE gohome_besmart_current_temperature_celsius gauge
gohome_besmart_current_temperature_celsius{room="casa",ther_id="42"} 19.5
# HELP gohome_besmart_available Whether at least one poll succeeded (1=yes, 0=no)
# TYPE gohome_besmart_available gauge
gohome_besmart_available{room="Living Room",ther_id="43"} 0
gohome_besmart_available{room="casa",ther_id="42"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"gohome_besmart_current_temperature_celsius", "gohome_besmart_available"))
}
