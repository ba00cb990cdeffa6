package besmart

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[len(f.msgs)-1]
}

func newTestBridge(t *testing.T) (*Bridge, *fakePublisher, *Plugin, *fakeVendor) {
	t.Helper()
	p, vendor, _ := newTestPlugin(t)
	pub := &fakePublisher{}
	b := &Bridge{prefix: "gohome/besmart", pub: pub, lookup: p.Thermostat}
	p.bridge = b
	return b, pub, p, vendor
}

func TestBridgePublishesState(t *testing.T) {
	_, pub, p, _ := newTestBridge(t)
	th, _ := p.Thermostat("Living Room")

	require.NoError(t, th.Update(context.Background()))

	msg := pub.last()
	assert.Equal(t, "gohome/besmart/living_room/state", msg.topic)
	assert.True(t, msg.retained)

	var state map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &state))
	assert.Equal(t, "off", state["hvac_mode"])
	assert.Equal(t, 19.0, state["target_temperature"])
}

func TestBridgeCommands(t *testing.T) {
	b, pub, _, vendor := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.handleCommand(ctx, "gohome/besmart/casa/temperature/set", []byte("22.5")))
	calls := vendor.callsTo(comfortTempPath)
	require.Len(t, calls, 1)
	assert.Equal(t, "22", calls[0].Form.Get("tempSet"))
	assert.Equal(t, "gohome/besmart/casa/state", pub.last().topic)

	require.NoError(t, b.handleCommand(ctx, "gohome/besmart/casa/temperature_frost/set", []byte(`"6"`)))
	assert.Len(t, vendor.callsTo(frostTempPath), 1)

	require.NoError(t, b.handleCommand(ctx, "gohome/besmart/casa/preset_mode/set", []byte("frost")))
	require.Len(t, vendor.callsTo(roomModePath), 1)
	assert.Equal(t, "0", vendor.callsTo(roomModePath)[0].Form.Get("mode"))

	require.NoError(t, b.handleCommand(ctx, "gohome/besmart/living_room/hvac_mode/set", []byte("heat")))
	require.Len(t, vendor.callsTo(setSettingsPath), 1)
	assert.Equal(t, "8", vendor.callsTo(setSettingsPath)[0].Form.Get("therId"))
}

func TestBridgeRejectsBadCommands(t *testing.T) {
	b, _, _, vendor := newTestBridge(t)
	ctx := context.Background()

	assert.Error(t, b.handleCommand(ctx, "other/casa/temperature/set", []byte("20")))
	assert.Error(t, b.handleCommand(ctx, "gohome/besmart/casa/temperature", []byte("20")))
	assert.ErrorIs(t, b.handleCommand(ctx, "gohome/besmart/attic/temperature/set", []byte("20")), ErrRoomNotFound)
	assert.Error(t, b.handleCommand(ctx, "gohome/besmart/casa/temperature/set", []byte("warm")))
	assert.Error(t, b.handleCommand(ctx, "gohome/besmart/casa/fan/set", []byte("on")))
	assert.ErrorIs(t, b.handleCommand(ctx, "gohome/besmart/casa/hvac_mode/set", []byte("cool")), ErrUnsupportedHvacMode)

	assert.Empty(t, vendor.callsTo(comfortTempPath))
	assert.Empty(t, vendor.callsTo(setSettingsPath))
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("temperature_low", " 16.5 ")
	require.NoError(t, err)
	require.NotNil(t, cmd.TemperatureLow)
	assert.Equal(t, 16.5, *cmd.TemperatureLow)
	assert.False(t, cmd.Empty())

	_, err = ParseCommand("preset_mode", "")
	assert.Error(t, err)

	assert.True(t, Command{}.Empty())
}
