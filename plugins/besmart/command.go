package besmart

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Command is a partial thermostat change as accepted over REST and MQTT.
type Command struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TemperatureLow   *float64 `json:"temperature_low,omitempty"`
	TemperatureFrost *float64 `json:"temperature_frost,omitempty"`
	PresetMode       *string  `json:"preset_mode,omitempty"`
	HvacMode         *string  `json:"hvac_mode,omitempty"`
}

func (c Command) Empty() bool {
	return c.Temperature == nil && c.TemperatureLow == nil && c.TemperatureFrost == nil &&
		c.PresetMode == nil && c.HvacMode == nil
}

// Apply runs the requested changes in a fixed order and stops at the first
// failure.
func (c Command) Apply(ctx context.Context, th *Thermostat) error {
	if c.HvacMode != nil {
		if err := th.SetHvacMode(ctx, HvacMode(strings.ToLower(*c.HvacMode))); err != nil {
			return err
		}
	}
	if c.PresetMode != nil {
		if err := th.SetPresetMode(ctx, Preset(strings.ToLower(*c.PresetMode))); err != nil {
			return err
		}
	}
	if c.Temperature != nil {
		if err := th.SetTargetTemperature(ctx, *c.Temperature); err != nil {
			return err
		}
	}
	if c.TemperatureLow != nil {
		if err := th.SetTargetTemperatureLow(ctx, *c.TemperatureLow); err != nil {
			return err
		}
	}
	if c.TemperatureFrost != nil {
		if err := th.SetFrostTemperature(ctx, *c.TemperatureFrost); err != nil {
			return err
		}
	}
	return nil
}

// ParseCommand builds a single-field command from a setting name and a
// plain-text payload.
func ParseCommand(setting, payload string) (Command, error) {
	payload = strings.Trim(strings.TrimSpace(payload), `"`)
	if payload == "" {
		return Command{}, fmt.Errorf("empty payload for %s", setting)
	}

	number := func() (*float64, error) {
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", setting, payload)
		}
		return &v, nil
	}

	var (
		cmd Command
		err error
	)
	switch setting {
	case "temperature":
		cmd.Temperature, err = number()
	case "temperature_low":
		cmd.TemperatureLow, err = number()
	case "temperature_frost":
		cmd.TemperatureFrost, err = number()
	case "preset_mode":
		cmd.PresetMode = &payload
	case "hvac_mode":
		cmd.HvacMode = &payload
	default:
		err = fmt.Errorf("unknown setting %q", setting)
	}
	return cmd, err
}
