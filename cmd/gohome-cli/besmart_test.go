package main

import (
	"strings"
	"testing"
)

func TestBesmartSetRequest(t *testing.T) {
	tests := []struct {
		setting string
		value   string
		method  string
		field   string
		want    any
	}{
		{"temperature", "21.5", "SetTemperature", "temperature", 21.5},
		{"Low", "16", "SetTemperatureLow", "temperature", 16.0},
		{"frost", "6", "SetFrostTemperature", "temperature", 6.0},
		{"preset", "ECO", "SetPresetMode", "preset", "eco"},
		{"hvac-mode", "Off", "SetHvacMode", "hvac_mode", "off"},
	}
	for _, tt := range tests {
		method, req, err := besmartSetRequest("casa", tt.setting, tt.value)
		if err != nil {
			t.Fatalf("%s: %v", tt.setting, err)
		}
		if method != tt.method {
			t.Fatalf("%s: method = %s, want %s", tt.setting, method, tt.method)
		}
		if req[tt.field] != tt.want {
			t.Fatalf("%s: %s = %v, want %v", tt.setting, tt.field, req[tt.field], tt.want)
		}
		if req["room"] != "casa" {
			t.Fatalf("%s: room = %v", tt.setting, req["room"])
		}
	}

	if _, _, err := besmartSetRequest("casa", "temperature", "warm"); err == nil {
		t.Fatalf("expected error for non-numeric temperature")
	}
	if _, _, err := besmartSetRequest("casa", "fan", "on"); err == nil {
		t.Fatalf("expected error for unknown setting")
	}
}

func TestMatchRoom(t *testing.T) {
	rooms := []roomOption{{Name: "Living Room", TherID: "43"}, {Name: "casa", TherID: "42"}}

	for _, input := range []string{"living room", "living-room", "LIVING_ROOM", " 43 "} {
		got, err := matchRoom(input, rooms)
		if err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		if got != "Living Room" {
			t.Fatalf("%s: got %s", input, got)
		}
	}

	_, err := matchRoom("attic", rooms)
	if err == nil {
		t.Fatalf("expected error for unknown room")
	}
	if !strings.Contains(err.Error(), "Living Room (43), casa (42)") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestExtractJSONFlag(t *testing.T) {
	args, found := extractJSONFlag([]string{"besmart", "--json", "thermostats"})
	if !found {
		t.Fatalf("expected --json to be found")
	}
	if len(args) != 2 || args[0] != "besmart" || args[1] != "thermostats" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestStr(t *testing.T) {
	m := map[string]any{"a": 21.5, "b": true, "c": "x"}
	if str(m, "a") != "21.5" || str(m, "b") != "true" || str(m, "c") != "x" || str(m, "d") != "" {
		t.Fatalf("unexpected formatting: %q %q %q %q", str(m, "a"), str(m, "b"), str(m, "c"), str(m, "d"))
	}
}
