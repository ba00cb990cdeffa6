package besmart

import (
	"fmt"
	"time"

	"github.com/joshp123/gohome-besmart/internal/config"
)

const defaultBaseURL = config.DefaultBesmartBaseURL

// Config defines runtime configuration for the BeSmart plugin.
type Config struct {
	BaseURL              string
	Username             string
	Password             string
	PollInterval         time.Duration
	RequestTimeout       time.Duration
	MaxRequestsPerMinute int
	Rooms                []RoomRef
}

func ConfigFromFile(cfg *config.BesmartConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("besmart config is required")
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		return Config{}, err
	}

	out := Config{
		BaseURL:              cfg.BaseURL,
		Username:             cfg.Username,
		Password:             password,
		PollInterval:         seconds(cfg.PollIntervalSeconds, config.DefaultPollIntervalSeconds),
		RequestTimeout:       seconds(cfg.RequestTimeoutSeconds, config.DefaultRequestTimeoutSeconds),
		MaxRequestsPerMinute: int(cfg.MaxRequestsPerMinute),
	}
	for _, th := range cfg.Thermostats {
		name := th.Name
		if name == "" {
			name = config.DefaultRoomName
		}
		out.Rooms = append(out.Rooms, RoomRef{TherID: th.TherID, Name: name})
	}
	if len(out.Rooms) == 0 {
		return Config{}, fmt.Errorf("besmart: at least one thermostat is required")
	}
	return out, nil
}

func seconds(value, fallback int32) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
