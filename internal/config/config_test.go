package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
schema_version: 1
core {
  grpc_addr: "127.0.0.1:9100"
}
besmart {
  username: "someone@example.com"
  password_file: "%s"
  thermostat { ther_id: "1234" name: "Living" }
  thermostat { ther_id: "5678" }
}
mqtt {
  broker: "tcp://mqtt:1883"
  topic_prefix: "home/besmart/"
}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	secret := filepath.Join(dir, "besmart-password")
	if err := os.WriteFile(secret, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	path := filepath.Join(dir, "config.pbtxt")
	if strings.Contains(body, "%s") {
		body = strings.Replace(body, "%s", secret, 1)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Core.GrpcAddr != "127.0.0.1:9100" {
		t.Fatalf("unexpected grpc addr: %s", cfg.Core.GrpcAddr)
	}
	if cfg.Core.HttpAddr != DefaultHTTPAddr || cfg.Core.LogLevel != DefaultLogLevel {
		t.Fatalf("core defaults not applied: %+v", cfg.Core)
	}

	b := cfg.Besmart
	if b.BaseURL != DefaultBesmartBaseURL || b.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Fatalf("besmart defaults not applied: %+v", b)
	}
	if len(b.Thermostats) != 2 {
		t.Fatalf("expected 2 thermostats, got %d", len(b.Thermostats))
	}
	if b.Thermostats[0].TherID != "1234" || b.Thermostats[0].Name != "Living" {
		t.Fatalf("unexpected thermostat: %+v", b.Thermostats[0])
	}
	if b.Thermostats[1].Name != DefaultRoomName {
		t.Fatalf("expected default room name, got %q", b.Thermostats[1].Name)
	}

	password, err := b.ResolvePassword()
	if err != nil || password != "hunter2" {
		t.Fatalf("ResolvePassword = %q, %v", password, err)
	}

	if cfg.MQTT.TopicPrefix != "home/besmart" || cfg.MQTT.ClientID != DefaultMQTTClientID {
		t.Fatalf("unexpected mqtt config: %+v", cfg.MQTT)
	}
	if cfg.History != nil || cfg.Snapshot != nil {
		t.Fatalf("expected optional sections to stay nil")
	}

	if !EnabledPlugins(cfg)["besmart"] {
		t.Fatalf("expected besmart enabled")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"schema version": `schema_version: 2`,
		"missing username": `schema_version: 1
besmart { password: "x" thermostat { ther_id: "1" } }`,
		"missing thermostat": `schema_version: 1
besmart { username: "u" password: "x" }`,
		"duplicate room": `schema_version: 1
besmart { username: "u" password: "x" thermostat { ther_id: "1" name: "A" } thermostat { ther_id: "2" name: "a" } }`,
		"history without uri": `schema_version: 1
history { database: "x" }`,
		"unknown field": `schema_version: 1
netatmo { }`,
	}

	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
