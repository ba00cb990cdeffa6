package main

import (
	"fmt"
	"sort"
	"strings"
)

// roomOption is a configured thermostat as reported by ListThermostats.
type roomOption struct {
	Name   string
	TherID string
}

// normalizeName folds case and treats spaces, hyphens and underscores alike.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// matchRoom returns the configured room name for input, which may be the
// room name in any spelling or the vendor therId.
func matchRoom(input string, rooms []roomOption) (string, error) {
	needle := normalizeName(input)
	for _, room := range rooms {
		if room.TherID != "" && room.TherID == strings.TrimSpace(input) {
			return room.Name, nil
		}
	}
	for _, room := range rooms {
		if normalizeName(room.Name) == needle {
			return room.Name, nil
		}
	}

	available := make([]string, 0, len(rooms))
	for _, room := range rooms {
		available = append(available, fmt.Sprintf("%s (%s)", room.Name, room.TherID))
	}
	sort.Strings(available)
	return "", fmt.Errorf("room %q not found. Configured: %s", input, strings.Join(available, ", "))
}
