package besmart

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Vendor is the subset of Client a Thermostat drives.
type Vendor interface {
	RoomData(ctx context.Context, room RoomRef) (RoomData, error)
	SetMode(ctx context.Context, room RoomRef, mode string) error
	SetTemperature(ctx context.Context, room RoomRef, kind TemperatureKind, value float64) error
	ApplySettings(ctx context.Context, room RoomRef, season string) error
}

// ChangeKind tells listeners why the state changed.
type ChangeKind int

const (
	ChangePoll ChangeKind = iota
	ChangeCommand
)

// Listener observes state changes. It runs after the thermostat lock is released.
type Listener func(th *Thermostat, kind ChangeKind)

// Stats counts polls and commands since start.
type Stats struct {
	Polls               uint64
	PollFailures        uint64
	ConsecutiveFailures int
	Commands            uint64
	CommandFailures     uint64
	LastSuccess         time.Time
	LastError           string
}

// Thermostat owns the state of one room. Update and the setters are
// serialized; a failed fetch leaves the previous state in place.
type Thermostat struct {
	vendor Vendor
	room   RoomRef
	now    func() time.Time
	log    *log.Entry

	mu        sync.Mutex
	state     State
	available bool
	raw       json.RawMessage
	stats     Stats
	listeners []Listener
}

func NewThermostat(vendor Vendor, room RoomRef) *Thermostat {
	return &Thermostat{
		vendor: vendor,
		room:   room,
		now:    time.Now,
		log:    log.WithFields(log.Fields{"room": room.Name, "ther_id": room.TherID}),
		state:  initialState(),
	}
}

// OnChange registers a listener. Not safe to call concurrently with updates.
func (t *Thermostat) OnChange(l Listener) {
	t.listeners = append(t.listeners, l)
}

func (t *Thermostat) notify(kind ChangeKind) {
	for _, l := range t.listeners {
		l(t, kind)
	}
}

// Update fetches and translates the room data.
func (t *Thermostat) Update(ctx context.Context) error {
	if err := t.update(ctx); err != nil {
		return err
	}
	t.notify(ChangePoll)
	return nil
}

func (t *Thermostat) update(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Polls++
	data, err := t.vendor.RoomData(ctx, t.room)
	if err == nil && !data.Valid() {
		err = fmt.Errorf("%w: error=%s", ErrInvalidPayload, data.Error.String("missing"))
	}
	if err != nil {
		t.stats.PollFailures++
		t.stats.ConsecutiveFailures++
		t.stats.LastError = err.Error()
		t.log.WithError(err).Warn("no valid data received, keeping previous state")
		return err
	}

	t.state = Translate(data, t.now())
	t.available = true
	t.raw = data.Raw
	t.stats.ConsecutiveFailures = 0
	t.stats.LastSuccess = t.state.UpdatedAt
	t.stats.LastError = ""

	t.log.WithFields(log.Fields{
		"temp_now":  t.state.CurrentTemperature,
		"temp_out":  t.state.OutdoorTemperature,
		"hvac_mode": t.state.HvacMode,
		"preset":    t.state.Preset,
	}).Debug("update complete")
	return nil
}

// SetTargetTemperature writes the comfort setpoint. Once acknowledged the
// local target is updated right away; the next Update overwrites it.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return t.setTemperature(ctx, Comfort, celsius, func(s *State) {
		s.TargetTemperature = celsius
		s.TargetTemperatureHigh = celsius
		s.ComfortTemperature = celsius
	})
}

// SetTargetTemperatureLow writes the eco setpoint, with the same local
// update policy as SetTargetTemperature.
func (t *Thermostat) SetTargetTemperatureLow(ctx context.Context, celsius float64) error {
	return t.setTemperature(ctx, Eco, celsius, func(s *State) {
		s.TargetTemperatureLow = celsius
		s.EcoTemperature = celsius
	})
}

// SetFrostTemperature writes the frost-protection setpoint.
func (t *Thermostat) SetFrostTemperature(ctx context.Context, celsius float64) error {
	return t.setTemperature(ctx, Frost, celsius, func(s *State) {
		s.FrostTemperature = celsius
	})
}

func (t *Thermostat) setTemperature(ctx context.Context, kind TemperatureKind, celsius float64, apply func(*State)) error {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return fmt.Errorf("invalid %s temperature %v", kind, celsius)
	}

	err := t.command(fmt.Sprintf("set %s temperature", kind), func() error {
		if err := t.vendor.SetTemperature(ctx, t.room, kind, celsius); err != nil {
			return err
		}
		apply(&t.state)
		return nil
	}, log.Fields{"kind": kind, "temperature": celsius})
	if err != nil {
		return err
	}
	t.notify(ChangeCommand)
	return nil
}

// SetPresetMode switches the room mode. Unknown presets send the comfort code.
func (t *Thermostat) SetPresetMode(ctx context.Context, preset Preset) error {
	mode, known := ModeForPreset(preset)
	if !known {
		t.log.WithField("preset", preset).Warn("unknown preset, using comfort")
	}
	err := t.command("set preset mode", func() error {
		return t.vendor.SetMode(ctx, t.room, mode)
	}, log.Fields{"preset": preset, "mode": mode})
	if err != nil {
		return err
	}
	t.notify(ChangeCommand)
	return nil
}

// SetHvacMode switches the season. Modes without a season code are rejected
// before any vendor call.
func (t *Thermostat) SetHvacMode(ctx context.Context, mode HvacMode) error {
	season, ok := SeasonForHvacMode(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedHvacMode, mode)
	}
	err := t.command("set hvac mode", func() error {
		return t.vendor.ApplySettings(ctx, t.room, season)
	}, log.Fields{"hvac_mode": mode, "season": season})
	if err != nil {
		return err
	}
	t.notify(ChangeCommand)
	return nil
}

func (t *Thermostat) command(what string, fn func() error, fields log.Fields) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Commands++
	entry := t.log.WithFields(fields)
	if err := fn(); err != nil {
		t.stats.CommandFailures++
		entry.WithError(err).Warn(what + " failed")
		return err
	}
	entry.Debug(what)
	return nil
}

// Room returns the configured room reference.
func (t *Thermostat) Room() RoomRef { return t.room }

// State returns a copy of the current state.
func (t *Thermostat) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Available reports whether at least one update has succeeded.
func (t *Thermostat) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// Stats returns a copy of the poll and command counters.
func (t *Thermostat) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// RawData returns the last valid payload as received.
func (t *Thermostat) RawData() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append(json.RawMessage(nil), t.raw...)
}

func (t *Thermostat) CurrentTemperature() float64 { return t.State().CurrentTemperature }

func (t *Thermostat) TargetTemperature() float64 { return t.State().TargetTemperature }

func (t *Thermostat) HvacMode() HvacMode { return t.State().HvacMode }

func (t *Thermostat) HvacAction() HvacAction { return t.State().HvacAction }

func (t *Thermostat) PresetMode() Preset { return t.State().Preset }

func (t *Thermostat) TemperatureUnit() TemperatureUnit { return t.State().Unit() }

// Attributes returns the auxiliary values shown next to the thermostat.
func (t *Thermostat) Attributes() map[string]any {
	s := t.State()
	return map[string]any{
		"battery_state":       s.LowBattery,
		"frost_temperature":   s.FrostTemperature,
		"eco_temperature":     s.EcoTemperature,
		"comfort_temperature": s.ComfortTemperature,
		"season_mode":         string(s.SeasonMode()),
		"heating_state":       s.Heating,
		"preset_mark":         s.PresetMark,
		"outdoor_temperature": s.OutdoorTemperature,
	}
}
