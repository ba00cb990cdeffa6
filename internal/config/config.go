package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/joshp123/gohome-besmart/internal/schema"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/gohome/config.pbtxt"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/gohome/dashboards"
	DefaultLogLevel     = "info"

	DefaultBesmartBaseURL        = "http://www.besmart-home.com/Android_vokera_20160516/"
	DefaultPollIntervalSeconds   = 30
	DefaultRequestTimeoutSeconds = 30
	DefaultMaxRequestsPerMinute  = 30
	DefaultRoomName              = "casa"

	DefaultMQTTClientID    = "gohome-besmart"
	DefaultMQTTTopicPrefix = "gohome/besmart"

	DefaultHistoryDatabase   = "gohome"
	DefaultHistoryCollection = "besmart_readings"
	DefaultSnapshotPrefix    = "gohome/besmart"
)

// Config mirrors gohome.config.v1.Config.
type Config struct {
	SchemaVersion int32           `json:"schema_version"`
	Core          *CoreConfig     `json:"core"`
	Besmart       *BesmartConfig  `json:"besmart"`
	MQTT          *MQTTConfig     `json:"mqtt"`
	History       *HistoryConfig  `json:"history"`
	Snapshot      *SnapshotConfig `json:"snapshot"`
}

type CoreConfig struct {
	GrpcAddr     string `json:"grpc_addr"`
	HttpAddr     string `json:"http_addr"`
	DashboardDir string `json:"dashboard_dir"`
	LogLevel     string `json:"log_level"`
}

type BesmartConfig struct {
	Username              string             `json:"username"`
	Password              string             `json:"password"`
	PasswordFile          string             `json:"password_file"`
	BaseURL               string             `json:"base_url"`
	PollIntervalSeconds   int32              `json:"poll_interval_seconds"`
	RequestTimeoutSeconds int32              `json:"request_timeout_seconds"`
	MaxRequestsPerMinute  int32              `json:"max_requests_per_minute"`
	Thermostats           []ThermostatConfig `json:"thermostat"`
}

type ThermostatConfig struct {
	TherID string `json:"ther_id"`
	Name   string `json:"name"`
}

type MQTTConfig struct {
	Broker       string `json:"broker"`
	Username     string `json:"username"`
	PasswordFile string `json:"password_file"`
	ClientID     string `json:"client_id"`
	TopicPrefix  string `json:"topic_prefix"`
}

type HistoryConfig struct {
	MongoURI   string `json:"mongo_uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

type SnapshotConfig struct {
	Endpoint      string `json:"endpoint"`
	Bucket        string `json:"bucket"`
	Prefix        string `json:"prefix"`
	AccessKeyFile string `json:"access_key_file"`
	SecretKeyFile string `json:"secret_key_file"`
	Region        string `json:"region"`
}

// Load parses the textproto config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes textproto config bytes against the embedded schema.
func Parse(data []byte) (*Config, error) {
	md, err := schema.ConfigMessage()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	msg := dynamicpb.NewMessage(md)
	if err := prototext.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	js, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(js, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GrpcAddr == "" {
		cfg.Core.GrpcAddr = DefaultGRPCAddr
	}
	if cfg.Core.HttpAddr == "" {
		cfg.Core.HttpAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if b := cfg.Besmart; b != nil {
		if b.BaseURL == "" {
			b.BaseURL = DefaultBesmartBaseURL
		}
		if b.PollIntervalSeconds == 0 {
			b.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if b.RequestTimeoutSeconds == 0 {
			b.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
		}
		if b.MaxRequestsPerMinute == 0 {
			b.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
		}
		for i := range b.Thermostats {
			if b.Thermostats[i].Name == "" {
				b.Thermostats[i].Name = DefaultRoomName
			}
		}
	}

	if m := cfg.MQTT; m != nil {
		if m.ClientID == "" {
			m.ClientID = DefaultMQTTClientID
		}
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultMQTTTopicPrefix
		}
		m.TopicPrefix = strings.TrimSuffix(m.TopicPrefix, "/")
	}

	if h := cfg.History; h != nil {
		if h.Database == "" {
			h.Database = DefaultHistoryDatabase
		}
		if h.Collection == "" {
			h.Collection = DefaultHistoryCollection
		}
	}

	if s := cfg.Snapshot; s != nil && s.Prefix == "" {
		s.Prefix = DefaultSnapshotPrefix
	}
}

// Validate enforces required invariants beyond proto typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GrpcAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HttpAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if b := cfg.Besmart; b != nil {
		if b.Username == "" {
			return fmt.Errorf("besmart.username is required")
		}
		if b.Password == "" && b.PasswordFile == "" {
			return fmt.Errorf("besmart.password or besmart.password_file is required")
		}
		if b.PollIntervalSeconds < 0 || b.RequestTimeoutSeconds < 0 || b.MaxRequestsPerMinute < 0 {
			return fmt.Errorf("besmart intervals must be positive")
		}
		if len(b.Thermostats) == 0 {
			return fmt.Errorf("besmart.thermostat is required")
		}
		seen := make(map[string]bool)
		for _, th := range b.Thermostats {
			if th.TherID == "" {
				return fmt.Errorf("besmart.thermostat.ther_id is required")
			}
			key := strings.ToLower(th.Name)
			if seen[key] {
				return fmt.Errorf("duplicate besmart thermostat name %q", th.Name)
			}
			seen[key] = true
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.History != nil && cfg.History.MongoURI == "" {
		return fmt.Errorf("history.mongo_uri is required")
	}
	if s := cfg.Snapshot; s != nil {
		if s.Endpoint == "" {
			return fmt.Errorf("snapshot.endpoint is required")
		}
		if s.Bucket == "" {
			return fmt.Errorf("snapshot.bucket is required")
		}
		if s.AccessKeyFile == "" || s.SecretKeyFile == "" {
			return fmt.Errorf("snapshot.access_key_file and snapshot.secret_key_file are required")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Besmart != nil {
		enabled["besmart"] = true
	}
	return enabled
}

// ResolvePassword returns the inline password or the contents of password_file.
func (b *BesmartConfig) ResolvePassword() (string, error) {
	if b.Password != "" {
		return b.Password, nil
	}
	secret, err := ReadSecretFile(b.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("read besmart password: %w", err)
	}
	if secret == "" {
		return "", fmt.Errorf("besmart password file %s is empty", b.PasswordFile)
	}
	return secret, nil
}

// ReadSecretFile reads a secret and trims surrounding whitespace.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
