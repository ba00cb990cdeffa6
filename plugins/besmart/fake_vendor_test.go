package besmart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeVendor is an in-memory stand-in for the cloud API.
type fakeVendor struct {
	t *testing.T

	mu        sync.Mutex
	deviceID  string
	roomData  map[string]string
	settings  string
	ack       map[string]string
	failPaths map[string]int
	calls     []fakeCall
	logins    int
}

type fakeCall struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
}

func newFakeVendor(t *testing.T) (*fakeVendor, *httptest.Server) {
	t.Helper()
	f := &fakeVendor{
		t:        t,
		deviceID: "dev-1",
		roomData: map[string]string{
			"42": `{"error":0,"roomMark":"7","therId":"42","name":"Casa","tempNow":"19.5","tempOut":"8.0","comfT":"21.0","saveT":"17.0","frostT":"6.0","bat":"1","heating":"1","mode":"1","season":"1","tempUnit":"0"}`,
		},
		settings:  `{"error":0,"minTempSetPoint":"5.5","maxTempSetPoint":"28.0","tempCurver":"1.2","sensorInfluence":"3","unit":"0","season":"1","boilerIsOnline":"1"}`,
		ack:       map[string]string{},
		failPaths: map[string]int{},
	}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:  server.URL + "/api",
		Username: "user",
		Password: "secret",
	}, &http.Client{Timeout: 5 * time.Second})
}

func (f *fakeVendor) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse form: %v", err)
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Method: r.Method, Path: path, Query: r.URL.Query(), Form: r.PostForm})

	if n := f.failPaths[path]; n != 0 {
		if n > 0 {
			f.failPaths[path] = n - 1
		}
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch path {
	case loginPath:
		f.logins++
		if r.PostForm.Get("un") != "user" || r.PostForm.Get("pwd") != "secret" || r.PostForm.Get("version") != "32" {
			_, _ = w.Write([]byte(`{"error":1}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"deviceId": f.deviceID})
	case roomListPath:
		_, _ = w.Write([]byte(`[{"id":"7","name":"Casa","therId":"42"},{"id":null,"name":"ghost"},{"id":8,"name":"Studio"}]`))
	case roomDataPath:
		body, ok := f.roomData[r.URL.Query().Get("therId")]
		if !ok {
			_, _ = w.Write([]byte(`{"error":1}`))
			return
		}
		_, _ = w.Write([]byte(body))
	case getSettingsPath:
		_, _ = w.Write([]byte(f.settings))
	case setSettingsPath:
		_, _ = w.Write([]byte(f.ackFor(path, `{"error":0}`)))
	case roomModePath, comfortTempPath, ecoTempPath, frostTempPath:
		_, _ = w.Write([]byte(f.ackFor(path, `{"error":1}`)))
	default:
		f.t.Errorf("unexpected path %q", path)
		http.NotFound(w, r)
	}
}

func (f *fakeVendor) ackFor(path, def string) string {
	if body, ok := f.ack[path]; ok {
		return body
	}
	return def
}

func (f *fakeVendor) setRoomData(therID, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomData[therID] = body
}

func (f *fakeVendor) failNext(path string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[path] = times
}

func (f *fakeVendor) setAck(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ack[path] = body
}

func (f *fakeVendor) callsTo(path string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeVendor) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeVendor) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.logins = 0
}
