package besmart

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-besmart/internal/blobstore"
	"github.com/joshp123/gohome-besmart/internal/rate"
	"github.com/joshp123/gohome-besmart/internal/schema"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// historyLimit clamps a requested limit to [1, maxHistoryLimit] before
// converting it, so huge values cannot wrap around.
func historyLimit(n float64) (int64, bool) {
	if math.IsNaN(n) || n < 1 {
		return 0, false
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit, true
	}
	return int64(n), true
}

type service struct {
	plugin *Plugin
}

// RegisterBesmartService installs gohome.plugins.besmart.v1.BesmartService.
func RegisterBesmartService(server *grpc.Server, p *Plugin) error {
	s := &service{plugin: p}
	desc, err := schema.ServiceDesc(schema.BesmartFile, schema.BesmartServiceName, map[string]schema.UnaryFunc{
		"ListRooms":           s.ListRooms,
		"ListThermostats":     s.ListThermostats,
		"GetThermostat":       s.GetThermostat,
		"Refresh":             s.Refresh,
		"SetTemperature":      s.SetTemperature,
		"SetTemperatureLow":   s.SetTemperatureLow,
		"SetFrostTemperature": s.SetFrostTemperature,
		"SetPresetMode":       s.SetPresetMode,
		"SetHvacMode":         s.SetHvacMode,
		"GetSettings":         s.GetSettings,
		"GetSnapshot":         s.GetSnapshot,
		"GetHistory":          s.GetHistory,
	})
	if err != nil {
		return err
	}
	server.RegisterService(desc, s)
	return nil
}

func (s *service) ready() error {
	if s.plugin == nil || s.plugin.client == nil {
		return status.Error(codes.FailedPrecondition, "besmart client not configured")
	}
	return nil
}

func (s *service) thermostat(req *structpb.Struct) (*Thermostat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	room, err := schema.StringField(req, "room")
	if err != nil {
		return nil, err
	}
	th, ok := s.plugin.Thermostat(room)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown room %q", room)
	}
	return th, nil
}

// statusError maps vendor and validation errors onto gRPC codes.
func statusError(op string, err error) error {
	var rl rate.RateLimitError
	switch {
	case errors.As(err, &rl):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, ErrUnsupportedHvacMode):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, ErrRoomNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	}
}

func thermostatResponse(th *Thermostat) (*structpb.Struct, error) {
	return schema.NewStruct(map[string]any{"thermostat": View(th)})
}

func (s *service) ListRooms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rooms, err := s.plugin.client.Rooms(ctx)
	if err != nil {
		return nil, statusError("list rooms", err)
	}
	out := make([]any, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, map[string]any{"id": room.ID, "name": room.Name, "ther_id": room.TherID})
	}
	return schema.NewStruct(map[string]any{"rooms": out})
}

func (s *service) ListThermostats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(s.plugin.thermostats))
	for _, th := range s.plugin.thermostats {
		out = append(out, View(th))
	}
	return schema.NewStruct(map[string]any{"thermostats": out})
}

func (s *service) GetThermostat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	return thermostatResponse(th)
}

func (s *service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	if err := th.Update(ctx); err != nil {
		return nil, statusError("refresh", err)
	}
	return thermostatResponse(th)
}

func (s *service) setTemperature(ctx context.Context, req *structpb.Struct, op string,
	set func(*Thermostat, context.Context, float64) error) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	value, err := schema.NumberField(req, "temperature")
	if err != nil {
		return nil, err
	}
	if err := set(th, ctx, value); err != nil {
		return nil, statusError(op, err)
	}
	return thermostatResponse(th)
}

func (s *service) SetTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.setTemperature(ctx, req, "set temperature", (*Thermostat).SetTargetTemperature)
}

func (s *service) SetTemperatureLow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.setTemperature(ctx, req, "set temperature low", (*Thermostat).SetTargetTemperatureLow)
}

func (s *service) SetFrostTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.setTemperature(ctx, req, "set frost temperature", (*Thermostat).SetFrostTemperature)
}

func (s *service) SetPresetMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	preset, err := schema.StringField(req, "preset")
	if err != nil {
		return nil, err
	}
	cmd := Command{PresetMode: &preset}
	if err := cmd.Apply(ctx, th); err != nil {
		return nil, statusError("set preset mode", err)
	}
	return thermostatResponse(th)
}

func (s *service) SetHvacMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	mode, err := schema.StringField(req, "hvac_mode")
	if err != nil {
		return nil, err
	}
	cmd := Command{HvacMode: &mode}
	if err := cmd.Apply(ctx, th); err != nil {
		return nil, statusError("set hvac mode", err)
	}
	return thermostatResponse(th)
}

func (s *service) GetSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	settings, err := s.plugin.client.Settings(ctx, th.Room())
	if err != nil {
		return nil, statusError("get settings", err)
	}
	return schema.NewStruct(map[string]any{"settings": SettingsView(settings)})
}

func (s *service) GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	raw, err := s.plugin.Snapshot(ctx, th)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "no snapshot for %q", th.Room().Name)
	}
	if err != nil {
		return nil, statusError("get snapshot", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, status.Errorf(codes.DataLoss, "decode snapshot: %v", err)
	}
	return schema.NewStruct(map[string]any{"room_data": data})
}

func (s *service) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	th, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	limit := int64(defaultHistoryLimit)
	if v, ok := req.GetFields()["limit"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "limit must be a positive number")
		}
		if limit, ok = historyLimit(n.NumberValue); !ok {
			return nil, status.Error(codes.InvalidArgument, "limit must be a positive number")
		}
	}

	readings, err := s.plugin.History(ctx, th, limit)
	if errors.Is(err, errHistoryDisabled) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, statusError("get history", err)
	}

	out := make([]any, 0, len(readings))
	for _, r := range readings {
		out = append(out, ReadingView(r))
	}
	return schema.NewStruct(map[string]any{"readings": out})
}
