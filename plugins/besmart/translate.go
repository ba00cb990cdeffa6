package besmart

import "time"

type HvacMode string

const (
	HvacHeat HvacMode = "heat"
	HvacOff  HvacMode = "off"
)

type HvacAction string

const (
	ActionHeating HvacAction = "heating"
	ActionIdle    HvacAction = "idle"
	ActionOff     HvacAction = "off"
)

type Preset string

const (
	PresetComfort Preset = "comfort"
	PresetEco     Preset = "eco"
	PresetFrost   Preset = "frost"
)

type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"
)

const (
	defaultFrost   = 5.0
	defaultEco     = 16.0
	defaultComfort = 20.0
	defaultCurrent = 20.0
	defaultOutdoor = 20.0

	defaultMark     = "2"
	defaultModeCode = 2
	defaultUnitCode = "0"
	defaultSeason   = "1"

	modeOff  = 5
	modeAuto = 1
)

// State is the normalized thermostat view of one RoomData.
type State struct {
	HvacMode              HvacMode
	HvacAction            HvacAction
	Preset                Preset
	TargetTemperature     float64
	TargetTemperatureLow  float64
	TargetTemperatureHigh float64
	CurrentTemperature    float64
	OutdoorTemperature    float64
	ComfortTemperature    float64
	EcoTemperature        float64
	FrostTemperature      float64
	LowBattery            bool
	Heating               bool
	ModeCode              int
	PresetMark            string
	UnitCode              string
	Season                string
	UpdatedAt             time.Time
}

// Unit maps the vendor unit code.
func (s State) Unit() TemperatureUnit {
	if isCelsiusCode(s.UnitCode) {
		return Celsius
	}
	return Fahrenheit
}

// SeasonMode maps the season code; anything but "1" reads as off.
func (s State) SeasonMode() HvacMode {
	if s.Season == "1" {
		return HvacHeat
	}
	return HvacOff
}

func initialState() State {
	return State{
		HvacMode:   HvacOff,
		HvacAction: ActionOff,
		Preset:     PresetComfort,
		ModeCode:   defaultModeCode,
		PresetMark: defaultMark,
		UnitCode:   defaultUnitCode,
		Season:     defaultSeason,
	}
}

// Translate derives the thermostat state from a payload. now selects the
// active slot of the weekly program in now's location.
func Translate(data RoomData, now time.Time) State {
	s := State{UpdatedAt: now}

	day := int(now.Weekday())
	slot := now.Hour() * 2
	if now.Minute() > 30 {
		slot++
	}
	s.PresetMark = defaultMark
	if mark, ok := data.ProgramWeek.Mark(day, slot); ok {
		s.PresetMark = mark
	}

	// bat=1 means the battery is fine
	bat := data.Bat
	if bat.kind == kindAbsent {
		bat = S("0")
	}
	if n, ok := bat.Int(); ok {
		s.LowBattery = n == 0
	}

	s.FrostTemperature = data.FrostT.Float(defaultFrost)
	s.EcoTemperature = data.SaveT.Float(defaultEco)
	s.ComfortTemperature = data.ComfT.Float(defaultComfort)
	s.CurrentTemperature = data.TempNow.Float(defaultCurrent)
	s.OutdoorTemperature = data.TempOut.Float(defaultOutdoor)
	s.TargetTemperature = s.ComfortTemperature
	s.TargetTemperatureLow = s.EcoTemperature
	s.TargetTemperatureHigh = s.ComfortTemperature

	// only the string "1" counts; numeric 1 and true do not
	s.Heating = data.Heating.Is("1")

	s.ModeCode = defaultModeCode
	if n, ok := data.Mode.Int(); ok {
		s.ModeCode = n
	}
	switch s.ModeCode {
	case modeOff:
		s.HvacMode, s.HvacAction = HvacOff, ActionOff
	case modeAuto:
		s.HvacMode, s.HvacAction = HvacHeat, ActionIdle
		if s.Heating {
			s.HvacAction = ActionHeating
		}
	default:
		s.HvacMode, s.HvacAction = HvacHeat, ActionIdle
	}

	s.UnitCode = data.TempUnit.String(defaultUnitCode)
	s.Season = data.Season.String(defaultSeason)
	s.Preset = PresetFromMark(s.PresetMark)

	return s
}

// PresetFromMark maps a program mark; unknown marks read as comfort.
func PresetFromMark(mark string) Preset {
	switch mark {
	case "1":
		return PresetEco
	case "3":
		return PresetFrost
	default:
		return PresetComfort
	}
}

// ModeForPreset is the setRoomMode code for a preset; unknown presets use comfort.
func ModeForPreset(p Preset) (string, bool) {
	switch p {
	case PresetComfort:
		return "2", true
	case PresetEco:
		return "1", true
	case PresetFrost:
		return "0", true
	default:
		return "2", false
	}
}

// SeasonForHvacMode is the setSetting season code for an HVAC mode.
func SeasonForHvacMode(m HvacMode) (string, bool) {
	switch m {
	case HvacHeat:
		return "1", true
	case HvacOff:
		return "0", true
	default:
		return "", false
	}
}

func isCelsiusCode(code string) bool {
	return code == "0" || code == "N/A"
}
