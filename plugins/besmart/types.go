package besmart

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type valueKind uint8

const (
	kindAbsent valueKind = iota
	kindNull
	kindString
	kindNumber
	kindOther
)

// Value is a vendor scalar. The API mixes JSON strings, numbers and nulls
// for the same field, so it is kept as text plus the JSON kind it came as.
type Value struct {
	raw  string
	kind valueKind
}

// S builds a string value.
func S(s string) Value { return Value{raw: s, kind: kindString} }

// N builds a numeric value.
func N(f float64) Value { return Value{raw: strconv.FormatFloat(f, 'f', -1, 64), kind: kindNumber} }

// Null builds an explicit JSON null.
func Null() Value { return Value{kind: kindNull} }

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		*v = Value{}
	case string(b) == "null":
		*v = Value{kind: kindNull}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*v = Value{raw: string(b), kind: kindOther}
			return nil
		}
		*v = Value{raw: s, kind: kindString}
	case string(b) == "true":
		*v = Value{raw: "1", kind: kindNumber}
	case string(b) == "false":
		*v = Value{raw: "0", kind: kindNumber}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*v = Value{raw: string(b), kind: kindNumber}
	default:
		*v = Value{raw: string(b), kind: kindOther}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindAbsent, kindNull:
		return []byte("null"), nil
	case kindNumber:
		return []byte(v.raw), nil
	default:
		return json.Marshal(v.raw)
	}
}

// Present reports whether the field was sent with a non-null value.
func (v Value) Present() bool { return v.kind != kindAbsent && v.kind != kindNull }

// String returns the text of a present scalar or def.
func (v Value) String(def string) string {
	if v.kind == kindString || v.kind == kindNumber {
		return v.raw
	}
	return def
}

// Float parses the value or returns def.
func (v Value) Float(def float64) float64 {
	if v.kind != kindString && v.kind != kindNumber {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.raw), 64)
	if err != nil {
		return def
	}
	return f
}

// Int parses an integer. Numbers are truncated; strings must be integral.
func (v Value) Int() (int, bool) {
	switch v.kind {
	case kindNumber:
		f, err := strconv.ParseFloat(v.raw, 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	case kindString:
		i, err := strconv.Atoi(strings.TrimSpace(v.raw))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Code returns the value of a JSON number that holds an integer. Vendor
// status codes only count when sent as numbers; "0" is not 0.
func (v Value) Code() (int, bool) {
	if v.kind != kindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Is reports whether the value was sent as the JSON string s.
func (v Value) Is(s string) bool {
	return v.kind == kindString && v.raw == s
}

// ProgramWeek is the 7x48 weekly schedule of preset marks, Sunday first.
// Rows arrive either as 48-character strings or as arrays of marks.
type ProgramWeek [][]string

// UnmarshalJSON never fails; unusable rows decode as empty and resolve to
// the comfort mark on lookup.
func (p *ProgramWeek) UnmarshalJSON(b []byte) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(b, &rows); err != nil {
		*p = nil
		return nil
	}

	week := make(ProgramWeek, 0, len(rows))
	for _, row := range rows {
		var text string
		if err := json.Unmarshal(row, &text); err == nil {
			marks := make([]string, 0, len(text))
			for _, r := range text {
				marks = append(marks, string(r))
			}
			week = append(week, marks)
			continue
		}

		var cells []Value
		if err := json.Unmarshal(row, &cells); err != nil {
			week = append(week, nil)
			continue
		}
		marks := make([]string, 0, len(cells))
		for _, cell := range cells {
			marks = append(marks, cell.String(""))
		}
		week = append(week, marks)
	}
	*p = week
	return nil
}

// Mark returns the preset mark for a day (0 = Sunday) and half-hour slot.
func (p ProgramWeek) Mark(day, slot int) (string, bool) {
	if day < 0 || day >= len(p) || slot < 0 || slot >= len(p[day]) {
		return "", false
	}
	return p[day][slot], true
}

// RoomData is the getRoomData196 payload.
type RoomData struct {
	Error       Value       `json:"error"`
	RoomMark    Value       `json:"roomMark"`
	TherID      Value       `json:"therId"`
	Name        Value       `json:"name"`
	TempNow     Value       `json:"tempNow"`
	TempOut     Value       `json:"tempOut"`
	ComfT       Value       `json:"comfT"`
	SaveT       Value       `json:"saveT"`
	FrostT      Value       `json:"frostT"`
	ProgramWeek ProgramWeek `json:"programWeek"`
	Bat         Value       `json:"bat"`
	Heating     Value       `json:"heating"`
	Mode        Value       `json:"mode"`
	Season      Value       `json:"season"`
	TempUnit    Value       `json:"tempUnit"`

	// Raw is the undecoded body, kept for snapshots.
	Raw json.RawMessage `json:"-"`
}

// Valid reports whether the payload carries the number 0 as its error.
func (d RoomData) Valid() bool {
	code, ok := d.Error.Code()
	return ok && code == 0
}

// Settings is the getSetting payload.
type Settings struct {
	Error           Value `json:"error"`
	MinTempSetPoint Value `json:"minTempSetPoint"`
	MaxTempSetPoint Value `json:"maxTempSetPoint"`
	TempCurver      Value `json:"tempCurver"`
	SensorInfluence Value `json:"sensorInfluence"`
	Unit            Value `json:"unit"`
	Season          Value `json:"season"`
	BoilerIsOnline  Value `json:"boilerIsOnline"`
}

// Room is one entry of the account's room list.
type Room struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TherID string `json:"ther_id,omitempty"`
}

type roomEntry struct {
	ID     Value `json:"id"`
	Name   Value `json:"name"`
	TherID Value `json:"therId"`
}

// RoomRef identifies a thermostat by vendor therId and display name.
type RoomRef struct {
	TherID string
	Name   string
}

// TemperatureKind selects which setpoint a temperature write targets.
type TemperatureKind string

const (
	Comfort TemperatureKind = "comfort"
	Eco     TemperatureKind = "eco"
	Frost   TemperatureKind = "frost"
)
