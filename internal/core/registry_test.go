package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) error { return nil }

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:            id,
		name:          "Demo",
		version:       "0.1.0",
		services:      []string{"gohome.plugins.demo.v1.DemoService"},
		agents:        "demo agents",
		health:        HealthDegraded,
		healthMessage: "3 consecutive poll failures",
		dashboards:    []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	resp, err := svc.ListPlugins(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListPlugins error: %v", err)
	}
	plugins := resp.AsMap()["plugins"].([]any)
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0].(map[string]any)
	if got["plugin_id"] != "demo" || got["display_name"] != "Demo" || got["version"] != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %+v", got)
	}
	if got["status"] != string(HealthDegraded) {
		t.Fatalf("unexpected health status: %v", got["status"])
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "demo"})
	resp, err := svc.DescribePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	plugin, ok := resp.AsMap()["plugin"].(map[string]any)
	if !ok {
		t.Fatalf("expected plugin descriptor")
	}
	if plugin["plugin_id"] != "demo" {
		t.Fatalf("unexpected plugin id: %v", plugin["plugin_id"])
	}
	if plugin["health_message"] != "3 consecutive poll failures" {
		t.Fatalf("unexpected health message: %v", plugin["health_message"])
	}
	dashboards := plugin["dashboards"].([]any)
	if len(dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(dashboards))
	}
	if path := dashboards[0].(map[string]any)["path"]; path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %v", path)
	}

	missing, _ := structpb.NewStruct(map[string]any{"plugin_id": "nope"})
	if _, err := svc.DescribePlugin(context.Background(), missing); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := svc.DescribePlugin(context.Background(), &structpb.Struct{}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	server := grpc.NewServer()
	defer server.Stop()

	if err := NewRegistryService(nil).Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := server.GetServiceInfo()["gohome.registry.v1.Registry"]; !ok {
		t.Fatalf("registry service not registered")
	}
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	if len(active) != 1 || active[0].ID() != "demo" {
		t.Fatalf("unexpected active plugins: %v", active)
	}

	active = FilterPlugins(compiled, map[string]bool{}, true)
	if len(active) != 2 {
		t.Fatalf("expected all plugins, got %d", len(active))
	}
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}); err == nil {
		t.Fatalf("expected pattern error")
	}
}
