package besmart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-besmart/internal/rate"
)

const (
	loginPath        = "login.php"
	roomListPath     = "getRoomList.php"
	roomDataPath     = "getRoomData196.php"
	roomModePath     = "setRoomMode.php"
	comfortTempPath  = "setComfTemp.php"
	ecoTempPath      = "setEconTemp.php"
	frostTempPath    = "setFrostTemp.php"
	getSettingsPath  = "getSetting.php"
	setSettingsPath  = "setSetting.php"
	loginAPIVersion  = "32"
	maxErrorBodySize = 512
)

// Default setting values used when getSetting omits a field.
const (
	defaultMinSetPoint = "30.0"
	defaultMaxSetPoint = "30.0"
	defaultTempCurve   = "0.0"
)

// Client talks to the BeSmart cloud API on behalf of one account. The
// session (device identifier) is shared by every room of the account.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	sessionMu sync.Mutex
	deviceID  string
}

// NewClient builds a client. httpClient carries the request timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
	}
}

// Login posts the credentials and stores the device identifier. Any failure
// clears the session; the next call logs in again.
func (c *Client) Login(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	_, err := c.loginLocked(ctx)
	return err
}

// DeviceID returns the current device identifier, empty without a session.
func (c *Client) DeviceID() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.deviceID
}

func (c *Client) loginLocked(ctx context.Context) (string, error) {
	c.deviceID = ""

	form := url.Values{
		"un":      {c.username},
		"pwd":     {c.password},
		"version": {loginAPIVersion},
	}
	var device struct {
		DeviceID Value `json:"deviceId"`
	}
	if err := c.call(ctx, http.MethodPost, loginPath, nil, form, &device); err != nil {
		log.WithError(err).Warn("besmart login failed")
		return "", err
	}
	id := device.DeviceID.String("")
	if id == "" {
		log.Warn("besmart login returned no device id")
		return "", fmt.Errorf("%w: login response has no deviceId", ErrNoSession)
	}

	c.deviceID = id
	log.WithField("device_id", id).Debug("besmart login ok")
	return id, nil
}

// session returns the device identifier, logging in when there is none.
func (c *Client) session(ctx context.Context) (string, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.deviceID != "" {
		return c.deviceID, nil
	}
	return c.loginLocked(ctx)
}

// invalidate drops the session after a failed call. Requests held back by
// the rate guard never reached the vendor and keep the session.
func (c *Client) invalidate(err error) {
	var limited rate.RateLimitError
	if errors.As(err, &limited) {
		log.WithError(err).Debug("besmart call rate limited, keeping session")
		return
	}
	c.sessionMu.Lock()
	c.deviceID = ""
	c.sessionMu.Unlock()
	log.WithError(err).Debug("besmart session invalidated")
}

// Rooms lists the rooms of the device. Entries without an id are dropped.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	deviceID, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var entries []roomEntry
	query := url.Values{"deviceId": {deviceID}}
	if err := c.call(ctx, http.MethodPost, roomListPath, query, nil, &entries); err != nil {
		c.invalidate(err)
		return nil, err
	}

	rooms := make([]Room, 0, len(entries))
	for _, entry := range entries {
		if !entry.ID.Present() {
			continue
		}
		rooms = append(rooms, Room{
			ID:     entry.ID.String(""),
			Name:   entry.Name.String(""),
			TherID: entry.TherID.String(""),
		})
	}
	return rooms, nil
}

// RoomByName finds a room by case-insensitive name.
func (c *Client) RoomByName(ctx context.Context, name string) (Room, error) {
	rooms, err := c.Rooms(ctx)
	if err != nil {
		return Room{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, room := range rooms {
		if strings.ToLower(room.Name) == needle {
			return room, nil
		}
	}
	return Room{}, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
}

// RoomData fetches the current payload of a room. The payload's own error
// field is not checked here; see RoomData.Valid.
func (c *Client) RoomData(ctx context.Context, room RoomRef) (RoomData, error) {
	deviceID, err := c.session(ctx)
	if err != nil {
		return RoomData{}, err
	}

	query := url.Values{
		"therId":            {room.TherID},
		"deviceId":          {deviceID},
		"boilerIsConnected": {"1"},
	}
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, roomDataPath, query, nil, &raw); err != nil {
		c.invalidate(err)
		return RoomData{}, err
	}

	var data RoomData
	if err := json.Unmarshal(raw, &data); err != nil {
		err = fmt.Errorf("decode room data: %w", err)
		c.invalidate(err)
		return RoomData{}, err
	}
	data.Raw = raw
	return data, nil
}

// target is a room resolved for a write.
type target struct {
	deviceID string
	therID   string
	unitCode string
}

// resolve re-reads the room before every write; writes address the room by
// the payload's roomMark.
func (c *Client) resolve(ctx context.Context, room RoomRef) (target, error) {
	data, err := c.RoomData(ctx, room)
	if err != nil {
		return target{}, err
	}
	mark := data.RoomMark.String("")
	if mark == "" {
		return target{}, fmt.Errorf("%w: therId %s has no roomMark", ErrRoomNotFound, room.TherID)
	}
	deviceID, err := c.session(ctx)
	if err != nil {
		return target{}, err
	}
	return target{deviceID: deviceID, therID: mark, unitCode: data.TempUnit.String(defaultUnitCode)}, nil
}

// SetMode sets the room operating mode (see ModeForPreset).
func (c *Client) SetMode(ctx context.Context, room RoomRef, mode string) error {
	t, err := c.resolve(ctx, room)
	if err != nil {
		return err
	}
	form := url.Values{
		"deviceId": {t.deviceID},
		"therId":   {t.therID},
		"mode":     {mode},
	}
	return c.write(ctx, roomModePath, form)
}

// SetTemperature writes one of the three setpoints. value is in Celsius;
// rooms reporting a non-Celsius unit get the converted value.
func (c *Client) SetTemperature(ctx context.Context, room RoomRef, kind TemperatureKind, value float64) error {
	path, err := temperaturePath(kind)
	if err != nil {
		return err
	}
	t, err := c.resolve(ctx, room)
	if err != nil {
		return err
	}
	whole, frac := EncodeTemperature(value, t.unitCode)
	form := url.Values{
		"deviceId":     {t.deviceID},
		"therId":       {t.therID},
		"tempSet":      {whole},
		"tempSetFloat": {frac},
	}
	return c.write(ctx, path, form)
}

func temperaturePath(kind TemperatureKind) (string, error) {
	switch kind {
	case Comfort:
		return comfortTempPath, nil
	case Eco:
		return ecoTempPath, nil
	case Frost:
		return frostTempPath, nil
	default:
		return "", fmt.Errorf("unknown temperature kind %q", kind)
	}
}

// EncodeTemperature rounds to one decimal, converts when unitCode is not a
// Celsius code, and splits into integer and fractional digits.
func EncodeTemperature(value float64, unitCode string) (string, string) {
	v := round1(value)
	if !isCelsiusCode(unitCode) {
		v = round1((v - 32) / 1.8)
	}
	return splitDecimal(strconv.FormatFloat(v, 'f', 1, 64))
}

// round1 rounds half-even on the exact binary value.
func round1(v float64) float64 {
	out, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	return out
}

func splitDecimal(s string) (string, string) {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok {
		return whole, "0"
	}
	return whole, frac
}

// Settings reads the thermostat settings.
func (c *Client) Settings(ctx context.Context, room RoomRef) (Settings, error) {
	t, err := c.resolve(ctx, room)
	if err != nil {
		return Settings{}, err
	}
	return c.settings(ctx, t)
}

func (c *Client) settings(ctx context.Context, t target) (Settings, error) {
	form := url.Values{
		"deviceId": {t.deviceID},
		"therId":   {t.therID},
	}
	var settings Settings
	if err := c.call(ctx, http.MethodPost, getSettingsPath, nil, form, &settings); err != nil {
		c.invalidate(err)
		return Settings{}, err
	}
	if code, ok := settings.Error.Code(); !ok || code != 0 {
		return Settings{}, APIError{Endpoint: getSettingsPath, Code: settings.Error.String("")}
	}
	return settings, nil
}

// ApplySettings changes the season. The vendor resets any field the write
// omits, so the current settings are read first and carried over.
func (c *Client) ApplySettings(ctx context.Context, room RoomRef, season string) error {
	t, err := c.resolve(ctx, room)
	if err != nil {
		return err
	}
	current, err := c.settings(ctx, t)
	if err != nil {
		return fmt.Errorf("read settings before write: %w", err)
	}

	minWhole, minFrac := splitDecimal(current.MinTempSetPoint.String(defaultMinSetPoint))
	maxWhole, maxFrac := splitDecimal(current.MaxTempSetPoint.String(defaultMaxSetPoint))
	curveWhole, curveFrac := splitDecimal(current.TempCurver.String(defaultTempCurve))

	form := url.Values{
		"deviceId":          {t.deviceID},
		"therId":            {t.therID},
		"minTempSetPointIP": {minWhole},
		"minTempSetPointFP": {minFrac},
		"maxTempSetPointIP": {maxWhole},
		"maxTempSetPointFP": {maxFrac},
		"sensorInfluence":   {current.SensorInfluence.String("0")},
		"tempCurveIP":       {curveWhole},
		"tempCurveFP":       {curveFrac},
		"unit":              {current.Unit.String("0")},
		"season":            {season},
		"boilerIsOnline":    {current.BoilerIsOnline.String("0")},
	}

	var ack struct {
		Error Value `json:"error"`
	}
	if err := c.call(ctx, http.MethodPost, setSettingsPath, nil, form, &ack); err != nil {
		c.invalidate(err)
		return err
	}
	if code, ok := ack.Error.Code(); !ok || code != 0 {
		return APIError{Endpoint: setSettingsPath, Code: ack.Error.String("")}
	}
	return nil
}

// write posts a mode or temperature change; these endpoints ack with error=1.
func (c *Client) write(ctx context.Context, path string, form url.Values) error {
	var ack struct {
		Error Value `json:"error"`
	}
	if err := c.call(ctx, http.MethodPost, path, nil, form, &ack); err != nil {
		c.invalidate(err)
		return err
	}
	if code, ok := ack.Error.Code(); !ok || code != 1 {
		return APIError{Endpoint: path, Code: ack.Error.String("")}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, query, form url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("besmart %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return HTTPStatusError{Endpoint: path, Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
