package besmart

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the last polled state of every thermostat. It
// reads in-memory state only; scrapes never reach the vendor.
type MetricsCollector struct {
	thermostats []*Thermostat

	current     *prometheus.GaugeVec
	outdoor     *prometheus.GaugeVec
	target      *prometheus.GaugeVec
	setpoint    *prometheus.GaugeVec
	heating     *prometheus.GaugeVec
	hvacOn      *prometheus.GaugeVec
	lowBattery  *prometheus.GaugeVec
	available   *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	failures    *prometheus.GaugeVec
	polls       *prometheus.GaugeVec
	commands    *prometheus.GaugeVec

	mu sync.Mutex
}

func NewMetricsCollector(thermostats []*Thermostat) *MetricsCollector {
	labels := []string{"room", "ther_id"}
	return &MetricsCollector{
		thermostats: thermostats,
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_current_temperature_celsius",
			Help: "Room temperature reported by the thermostat (celsius)",
		}, labels),
		outdoor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_outdoor_temperature_celsius",
			Help: "Outdoor temperature reported by the thermostat (celsius)",
		}, labels),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_target_temperature_celsius",
			Help: "Target temperature (celsius)",
		}, labels),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_setpoint_celsius",
			Help: "Configured setpoint per preset (celsius)",
		}, append(labels, "preset")),
		heating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_heating",
			Help: "Boiler demand for the room (1=heating, 0=idle)",
		}, labels),
		hvacOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_hvac_on",
			Help: "HVAC mode (1=heat, 0=off)",
		}, labels),
		lowBattery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_low_battery",
			Help: "Thermostat battery low (1=low, 0=ok)",
		}, labels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_available",
			Help: "Whether at least one poll succeeded (1=yes, 0=no)",
		}, labels),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}, labels),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_consecutive_failures",
			Help: "Consecutive failed polls",
		}, labels),
		polls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_polls",
			Help: "Polls since start by result",
		}, append(labels, "result")),
		commands: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_besmart_commands",
			Help: "Commands since start by result",
		}, append(labels, "result")),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.current, c.outdoor, c.target, c.setpoint, c.heating, c.hvacOn,
		c.lowBattery, c.available, c.lastSuccess, c.failures, c.polls, c.commands,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, vec := range c.vecs() {
		vec.Reset()
	}

	for _, th := range c.thermostats {
		room := th.Room()
		labels := prometheus.Labels{"room": room.Name, "ther_id": room.TherID}
		stats := th.Stats()

		available := th.Available()
		c.available.With(labels).Set(boolGauge(available))
		c.failures.With(labels).Set(float64(stats.ConsecutiveFailures))
		c.polls.With(withLabel(labels, "result", "ok")).Set(float64(stats.Polls - stats.PollFailures))
		c.polls.With(withLabel(labels, "result", "error")).Set(float64(stats.PollFailures))
		c.commands.With(withLabel(labels, "result", "ok")).Set(float64(stats.Commands - stats.CommandFailures))
		c.commands.With(withLabel(labels, "result", "error")).Set(float64(stats.CommandFailures))
		if !stats.LastSuccess.IsZero() {
			c.lastSuccess.With(labels).Set(float64(stats.LastSuccess.Unix()))
		}
		if !available {
			continue
		}

		s := th.State()
		c.current.With(labels).Set(s.CurrentTemperature)
		c.outdoor.With(labels).Set(s.OutdoorTemperature)
		c.target.With(labels).Set(s.TargetTemperature)
		c.setpoint.With(withLabel(labels, "preset", string(PresetComfort))).Set(s.ComfortTemperature)
		c.setpoint.With(withLabel(labels, "preset", string(PresetEco))).Set(s.EcoTemperature)
		c.setpoint.With(withLabel(labels, "preset", string(PresetFrost))).Set(s.FrostTemperature)
		c.heating.With(labels).Set(boolGauge(s.Heating))
		c.hvacOn.With(labels).Set(boolGauge(s.HvacMode == HvacHeat))
		c.lowBattery.With(labels).Set(boolGauge(s.LowBattery))
	}

	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
}

func withLabel(labels prometheus.Labels, name, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[name] = value
	return out
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
