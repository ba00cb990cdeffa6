package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-besmart/internal/schema"
)

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Register installs gohome.registry.v1.Registry on server.
func (r *RegistryService) Register(server *grpc.Server) error {
	desc, err := schema.ServiceDesc(schema.RegistryFile, schema.RegistryServiceName, map[string]schema.UnaryFunc{
		"ListPlugins":    r.ListPlugins,
		"DescribePlugin": r.DescribePlugin,
	})
	if err != nil {
		return err
	}
	server.RegisterService(desc, r)
	return nil
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]any, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		plugins = append(plugins, map[string]any{
			"plugin_id":    manifest.PluginID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(p.Health()),
		})
	}

	return schema.NewStruct(map[string]any{"plugins": plugins})
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	id, err := schema.StringField(req, "plugin_id")
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != id {
			continue
		}

		services := make([]any, 0, len(manifest.Services))
		for _, svc := range manifest.Services {
			services = append(services, svc)
		}
		dashboards := make([]any, 0)
		for _, d := range p.Dashboards() {
			dashboards = append(dashboards, map[string]any{
				"name": d.Name,
				"path": DashboardPath(manifest.PluginID, d.Name),
			})
		}

		return schema.NewStruct(map[string]any{"plugin": map[string]any{
			"plugin_id":      manifest.PluginID,
			"display_name":   manifest.DisplayName,
			"version":        manifest.Version,
			"services":       services,
			"agents_md":      p.AgentsMD(),
			"status":         string(p.Health()),
			"health_message": p.HealthMessage(),
			"dashboards":     dashboards,
		}})
	}

	return nil, status.Errorf(codes.NotFound, "plugin %q not found", id)
}
