package besmart

import (
	"time"

	"github.com/joshp123/gohome-besmart/internal/history"
)

// View is the wire representation of a thermostat shared by gRPC, REST
// and MQTT.
func View(th *Thermostat) map[string]any {
	s := th.State()
	room := th.Room()
	view := map[string]any{
		"room":                    room.Name,
		"ther_id":                 room.TherID,
		"available":               th.Available(),
		"hvac_mode":               string(s.HvacMode),
		"hvac_action":             string(s.HvacAction),
		"preset_mode":             string(s.Preset),
		"temperature_unit":        string(s.Unit()),
		"current_temperature":     s.CurrentTemperature,
		"target_temperature":      s.TargetTemperature,
		"target_temperature_low":  s.TargetTemperatureLow,
		"target_temperature_high": s.TargetTemperatureHigh,
		"attributes":              th.Attributes(),
	}
	if !s.UpdatedAt.IsZero() {
		view["updated_at"] = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return view
}

// SettingsView flattens vendor settings for display.
func SettingsView(s Settings) map[string]any {
	return map[string]any{
		"min_temp_set_point": s.MinTempSetPoint.String(""),
		"max_temp_set_point": s.MaxTempSetPoint.String(""),
		"temp_curve":         s.TempCurver.String(""),
		"sensor_influence":   s.SensorInfluence.String(""),
		"unit":               s.Unit.String(""),
		"season":             s.Season.String(""),
		"boiler_is_online":   s.BoilerIsOnline.String(""),
	}
}

// ReadingView is the wire representation of a stored reading.
func ReadingView(r history.Reading) map[string]any {
	return map[string]any{
		"room":                r.Room,
		"ther_id":             r.TherID,
		"ts":                  r.Timestamp.UTC().Format(time.RFC3339),
		"current_temperature": r.CurrentTemperature,
		"outdoor_temperature": r.OutdoorTemperature,
		"comfort_temperature": r.ComfortTemperature,
		"eco_temperature":     r.EcoTemperature,
		"frost_temperature":   r.FrostTemperature,
		"hvac_mode":           r.HvacMode,
		"hvac_action":         r.HvacAction,
		"preset":              r.Preset,
		"heating":             r.Heating,
		"low_battery":         r.LowBattery,
	}
}
