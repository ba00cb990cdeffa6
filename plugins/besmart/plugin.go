package besmart

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-besmart/internal/blobstore"
	"github.com/joshp123/gohome-besmart/internal/config"
	"github.com/joshp123/gohome-besmart/internal/core"
	"github.com/joshp123/gohome-besmart/internal/history"
	"github.com/joshp123/gohome-besmart/internal/rate"
	"github.com/joshp123/gohome-besmart/internal/schema"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const (
	pluginID = "besmart"

	// degradedAfter is the number of consecutive failed polls after which a
	// room marks the plugin degraded.
	degradedAfter = 3
	sinkTimeout   = 10 * time.Second
)

// Plugin implements the GoHome plugin contract for one BeSmart account.
type Plugin struct {
	cfg         Config
	client      *Client
	thermostats []*Thermostat
	byKey       map[string]*Thermostat
	snapshots   blobstore.Store
	mqttCfg     *config.MQTTConfig
	historyCfg  *config.HistoryConfig

	health        core.HealthStatus
	healthMessage string

	mu         sync.Mutex
	recorder   history.Recorder
	bridge     *Bridge
	sinkErrors map[string]string
}

// NewPlugin builds the plugin from the loaded config. It reports false when
// the besmart block is absent. Config errors yield a plugin in ERROR health.
func NewPlugin(cfg *config.Config) (*Plugin, bool) {
	if cfg == nil || cfg.Besmart == nil {
		return nil, false
	}

	pcfg, err := ConfigFromFile(cfg.Besmart)
	if err != nil {
		return &Plugin{health: core.HealthError, healthMessage: err.Error()}, true
	}

	snapshots := blobstore.Store(blobstore.NewMemoryStore())
	if cfg.Snapshot != nil {
		s3, err := blobstore.NewS3Store(cfg.Snapshot)
		if err != nil {
			return &Plugin{health: core.HealthError, healthMessage: fmt.Sprintf("snapshot store: %v", err)}, true
		}
		snapshots = s3
	}

	p := newPlugin(pcfg, nil, snapshots)
	p.mqttCfg = cfg.MQTT
	p.historyCfg = cfg.History
	return p, true
}

// newPlugin wires a plugin around cfg. httpClient defaults to one with the
// configured timeout; it is always wrapped by the rate guard.
func newPlugin(cfg Config, httpClient *http.Client, snapshots blobstore.Store) *Plugin {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if snapshots == nil {
		snapshots = blobstore.NewMemoryStore()
	}

	p := &Plugin{
		cfg:        cfg,
		byKey:      make(map[string]*Thermostat, len(cfg.Rooms)),
		snapshots:  snapshots,
		health:     core.HealthHealthy,
		sinkErrors: make(map[string]string),
	}
	p.client = NewClient(cfg, rate.WrapHTTP(p.RateLimits(), httpClient))

	for _, room := range cfg.Rooms {
		th := NewThermostat(p.client, room)
		th.OnChange(p.onChange)
		p.thermostats = append(p.thermostats, th)
		p.byKey[roomKey(room.Name)] = th
		p.byKey[roomKey(room.TherID)] = th
	}
	return p
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "BeSmart",
		Version:     "0.1.0",
		Services:    []string{schema.BesmartServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "besmart-overview", JSON: dashboardJSON}}
}

// RateLimits caps vendor calls per account. Every poll costs at least one
// request, and every write costs two or three.
func (p *Plugin) RateLimits() rate.Declaration {
	return rate.Provider(pluginID).
		MaxRequestsPer(rate.Minute, p.cfg.MaxRequestsPerMinute).
		RetryAfterHeader("Retry-After").
		MaxCooldown(10 * time.Minute)
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	return RegisterBesmartService(server, p)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.client == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.thermostats)}
}

func (p *Plugin) Health() core.HealthStatus {
	status, _ := p.healthState()
	return status
}

func (p *Plugin) HealthMessage() string {
	_, message := p.healthState()
	return message
}

func (p *Plugin) healthState() (core.HealthStatus, string) {
	if p.health == core.HealthError {
		return p.health, p.healthMessage
	}

	var problems []string
	for _, th := range p.thermostats {
		stats := th.Stats()
		if stats.ConsecutiveFailures >= degradedAfter {
			problems = append(problems, fmt.Sprintf("%s: %d consecutive poll failures (%s)",
				th.Room().Name, stats.ConsecutiveFailures, stats.LastError))
		}
	}

	p.mu.Lock()
	for sink, msg := range p.sinkErrors {
		problems = append(problems, sink+": "+msg)
	}
	p.mu.Unlock()

	if len(problems) == 0 {
		return core.HealthHealthy, p.healthMessage
	}
	sort.Strings(problems)
	return core.HealthDegraded, strings.Join(problems, "; ")
}

// Thermostats returns the configured thermostats in config order.
func (p *Plugin) Thermostats() []*Thermostat {
	return p.thermostats
}

// Thermostat looks a room up by configured name, its slug, or therId.
func (p *Plugin) Thermostat(name string) (*Thermostat, bool) {
	th, ok := p.byKey[roomKey(name)]
	return th, ok
}

// roomKey normalizes a room name for lookup; "Living Room" and
// "living_room" share a key.
func roomKey(name string) string {
	return blobstore.ObjectName(name)
}

var errHistoryDisabled = errors.New("history store not connected")

// Snapshot returns the last raw payload of th, falling back to the
// snapshot store after a restart.
func (p *Plugin) Snapshot(ctx context.Context, th *Thermostat) ([]byte, error) {
	if raw := th.RawData(); len(raw) > 0 {
		return raw, nil
	}
	return p.snapshots.Load(ctx, th.Room().Name)
}

// History returns the newest stored readings of th.
func (p *Plugin) History(ctx context.Context, th *Thermostat, limit int64) ([]history.Reading, error) {
	p.mu.Lock()
	reader, ok := p.recorder.(history.Reader)
	p.mu.Unlock()
	if !ok {
		return nil, errHistoryDisabled
	}
	return reader.Latest(ctx, th.Room().Name, limit)
}

func (p *Plugin) setSinkError(sink string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.sinkErrors, sink)
		return
	}
	p.sinkErrors[sink] = err.Error()
}

// onChange fans a state change out to the snapshot store, the history
// collection and the MQTT bridge.
func (p *Plugin) onChange(th *Thermostat, kind ChangeKind) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	entry := log.WithField("room", th.Room().Name)

	p.mu.Lock()
	recorder, bridge := p.recorder, p.bridge
	p.mu.Unlock()

	if kind == ChangePoll {
		if raw := th.RawData(); len(raw) > 0 {
			if err := p.snapshots.Save(ctx, th.Room().Name, raw); err != nil {
				entry.WithError(err).Warn("save snapshot failed")
			}
		}
		if recorder != nil {
			err := recorder.Record(ctx, reading(th))
			if err != nil {
				entry.WithError(err).Warn("record history failed")
			}
			p.setSinkError("history", err)
		}
	}

	if bridge != nil {
		if err := bridge.Publish(th); err != nil {
			entry.WithError(err).Warn("mqtt publish failed")
		}
	}
}

func reading(th *Thermostat) history.Reading {
	s := th.State()
	room := th.Room()
	return history.Reading{
		Room:               room.Name,
		TherID:             room.TherID,
		Timestamp:          s.UpdatedAt,
		CurrentTemperature: s.CurrentTemperature,
		OutdoorTemperature: s.OutdoorTemperature,
		ComfortTemperature: s.ComfortTemperature,
		EcoTemperature:     s.EcoTemperature,
		FrostTemperature:   s.FrostTemperature,
		HvacMode:           string(s.HvacMode),
		HvacAction:         string(s.HvacAction),
		Preset:             string(s.Preset),
		Heating:            s.Heating,
		LowBattery:         s.LowBattery,
	}
}
