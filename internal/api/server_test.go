package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/vbus/internal/attribute"
	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/component"
	"github.com/nerrad567/vbus/internal/hotplug"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
	"github.com/nerrad567/vbus/internal/infrastructure/database"
	"github.com/nerrad567/vbus/internal/infrastructure/logging"
	"github.com/nerrad567/vbus/internal/journal"
	"github.com/nerrad567/vbus/internal/uevent"
	_ "github.com/nerrad567/vbus/migrations"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "vbusd"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	bus     *bus.Bus
	channel *uevent.Channel
	token   string
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

// newTestEnv builds a bus with driver "sculld" bound to device "sculld0",
// a journal fed synchronously from the channel, and a hotplug bridge.
func newTestEnv(t *testing.T, withJournal bool) *testEnv {
	t.Helper()

	ch := uevent.NewChannel(0)
	b, err := bus.New(bus.Config{Name: "ldd", Channel: ch})
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}
	t.Cleanup(b.Close)

	var (
		repo      journal.Repository
		auditRepo audit.Repository
	)
	if withJournal {
		db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
		if err != nil {
			t.Fatalf("database.Open: %v", err)
		}
		t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
		if err := db.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		sqlRepo := journal.NewSQLiteRepository(db.DB)
		repo = sqlRepo
		auditRepo = audit.NewSQLiteRepository(db.DB)
		unsubscribe := ch.Subscribe(func(ev uevent.Event) {
			if err := sqlRepo.Record(context.Background(), ev); err != nil {
				t.Errorf("Record: %v", err)
			}
		})
		t.Cleanup(unsubscribe)
	}

	drv := bus.NewDriver("sculld", "1.0")
	if err := b.RegisterDriver(drv); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}
	dev := bus.NewDevice("sculld0", bus.WithDeviceAttributes(
		attribute.Static("dev", "254:0"),
	))
	if _, err := b.RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: testIssuer}},
		Logger:   log,
		Bus:      b,
		Channel:  ch,
		Journal:  repo,
		Audit:    auditRepo,
		Hotplug:  hotplug.NewBridge(b),
		Checks:   map[string]HealthChecker{"mqtt": failingCheck{}},
		Queues:   []QueueStats{uevent.NewQueue("mqtt", uevent.SinkFunc(func(context.Context, uevent.Event) error { return nil }), 1)},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, err := IssueToken(testSecret, testIssuer, "admin", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	return &testEnv{srv: srv, handler: srv.Handler(), bus: b, channel: ch, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without bus should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	var body struct {
		Status string            `json:"status"`
		Bus    string            `json:"bus"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, rec, &body)
	if body.Status != "degraded" || body.Bus != "ldd" || body.Checks["mqtt"] != "broker unreachable" {
		t.Errorf("health = %+v", body)
	}
}

func TestGetBus(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/bus", "", false)
	var got busResponse
	decode(t, rec, &got)

	want := busResponse{Name: "ldd", Root: "ldd0", Version: bus.DefaultVersion, Autoprobe: true,
		Stats: bus.Stats{Devices: 1, Drivers: 1, Bound: 1}}
	if got != want {
		t.Errorf("GET /bus = %+v, want %+v", got, want)
	}
}

func TestReadAttributes(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/v1/bus/attributes/version", http.StatusOK, "1.9\n"},
		{"/api/v1/bus/attributes/drivers_autoprobe", http.StatusOK, "1\n"},
		{"/api/v1/drivers/sculld/attributes/version", http.StatusOK, "1.0\n"},
		{"/api/v1/devices/sculld0/attributes/dev", http.StatusOK, "254:0\n"},
		{"/api/v1/devices/sculld0/attributes/missing", http.StatusNotFound, ""},
		{"/api/v1/devices/nope/attributes/dev", http.StatusNotFound, ""},
		{"/api/v1/drivers/nope/attributes/version", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "", false)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody == "" {
				return
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestListAttributes(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/bus/attributes", "", false)
	var body struct {
		Attributes []string `json:"attributes"`
	}
	decode(t, rec, &body)
	if strings.Join(body.Attributes, ",") != "version,drivers_autoprobe" {
		t.Errorf("bus attributes = %v", body.Attributes)
	}
}

func TestDevicesAndDrivers(t *testing.T) {
	env := newTestEnv(t, false)

	var devices struct {
		Devices []struct {
			Name   string `json:"name"`
			Parent string `json:"parent"`
			Driver string `json:"driver"`
			State  string `json:"state"`
		} `json:"devices"`
		Count int `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/devices", "", false), &devices)
	if devices.Count != 1 {
		t.Fatalf("count = %d, want 1", devices.Count)
	}
	if d := devices.Devices[0]; d.Driver != "sculld" || d.Parent != "ldd0" || d.State != "registered" {
		t.Errorf("device = %+v", d)
	}

	var drv struct {
		Version string   `json:"version"`
		Devices []string `json:"devices"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/drivers/sculld", "", false), &drv)
	if drv.Version != "1.0" || len(drv.Devices) != 1 || drv.Devices[0] != "sculld0" {
		t.Errorf("driver = %+v", drv)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/devices/nope", "", false); rec.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d", rec.Code)
	}
}

func TestDriverModule(t *testing.T) {
	env := newTestEnv(t, false)

	m := component.FromConfig(config.ComponentConfig{
		Name:    "scullc",
		Driver:  config.DriverConfig{Name: "scullc", Version: "2.0"},
		Devices: []string{"scullc0"},
	})
	if err := m.Load(env.bus); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { m.Unload() }) //nolint:errcheck // test cleanup

	var drv struct {
		Version string `json:"version"`
		Module  string `json:"module"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/drivers/scullc", "", false), &drv)
	if drv.Module != "scullc" || drv.Version != "2.0" {
		t.Errorf("driver = %+v", drv)
	}

	var plain map[string]any
	decode(t, env.do(t, http.MethodGet, "/api/v1/drivers/sculld", "", false), &plain)
	if _, ok := plain["module"]; ok {
		t.Errorf("driver without a module reports one: %v", plain)
	}
}

func TestReadAttribute_OwnerUnloaded(t *testing.T) {
	env := newTestEnv(t, false)

	unloaded := component.FromConfig(config.ComponentConfig{
		Name:   "scullp",
		Driver: config.DriverConfig{Name: "scullp", Version: "1"},
	})
	err := env.bus.Attrs().Publish(attribute.Attribute{
		Name:  "scullp_quantum",
		Mode:  attribute.ModeReadOnly,
		Owner: unloaded,
		Show:  func() (string, error) { return "4000", nil },
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/bus/attributes/scullp_quantum", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (%s)", rec.Code, rec.Body.String())
	}
}

func TestWriteAttribute(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name       string
		path       string
		body       string
		auth       bool
		wantStatus int
	}{
		{"no token", "/api/v1/bus/attributes/drivers_autoprobe", "0", false, http.StatusUnauthorized},
		{"read only", "/api/v1/bus/attributes/version", "2.0", true, http.StatusForbidden},
		{"bad value", "/api/v1/bus/attributes/drivers_autoprobe", "maybe", true, http.StatusBadRequest},
		{"missing attribute", "/api/v1/drivers/sculld/attributes/nope", "x", true, http.StatusNotFound},
		{"disable autoprobe", "/api/v1/bus/attributes/drivers_autoprobe", "0\n", true, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body, tt.auth)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if env.bus.Autoprobe() {
		t.Error("autoprobe should be disabled after the write")
	}
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, false)

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ //nolint:errcheck // test fixture
		Issuer:    testIssuer,
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	wrongIssuer, _ := IssueToken(testSecret, "someone-else", "admin", time.Hour)          //nolint:errcheck // test fixture
	wrongSecret, _ := IssueToken(strings.Repeat("x", 40), testIssuer, "admin", time.Hour) //nolint:errcheck // test fixture

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"wrong secret": wrongSecret,
		"garbage":      "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rescan", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}

	if _, err := ParseToken(expired, testSecret, testIssuer); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken(expired) error = %v, want ErrTokenInvalid", err)
	}
}

func TestRescan(t *testing.T) {
	env := newTestEnv(t, false)
	env.bus.SetAutoprobe(false)

	if _, err := env.bus.RegisterDevice(bus.NewDevice("sculld1")); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	env.bus.SetAutoprobe(true)

	rec := env.do(t, http.MethodPost, "/api/v1/rescan", "", true)
	var body map[string]int
	decode(t, rec, &body)
	if body["bound"] != 1 {
		t.Errorf("rescan bound = %d, want 1", body["bound"])
	}
}

func TestHotplug(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/hotplug/sculld1", `{"action":"add"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d (%s)", rec.Code, rec.Body.String())
	}
	var added hotplugResponse
	decode(t, rec, &added)
	if added.Driver != "sculld" {
		t.Errorf("hotplug add = %+v", added)
	}

	steps := []struct {
		name       string
		device     string
		body       string
		wantStatus int
	}{
		{"duplicate", "sculld1", `{"action":"add"}`, http.StatusConflict},
		{"not owned", "sculld0", `{"action":"remove"}`, http.StatusConflict},
		{"bad action", "x", `{"action":"reset"}`, http.StatusBadRequest},
		{"bad json", "x", `add`, http.StatusBadRequest},
		{"remove", "sculld1", `{"action":"remove"}`, http.StatusNoContent},
	}
	for _, st := range steps {
		rec := env.do(t, http.MethodPost, "/api/v1/hotplug/"+st.device, st.body, true)
		if rec.Code != st.wantStatus {
			t.Errorf("%s: status = %d, want %d (%s)", st.name, rec.Code, st.wantStatus, rec.Body.String())
		}
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, true)

	var res journal.ListResult
	decode(t, env.do(t, http.MethodGet, "/api/v1/events?device=sculld0", "", false), &res)
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2 (add, bind)", res.Total)
	}
	if res.Entries[0].Action != uevent.ActionBind || res.Entries[1].Action != uevent.ActionAdd {
		t.Errorf("entries = %+v", res.Entries)
	}

	for _, q := range []string{"action=explode", "limit=x", "after_seq=-1"} {
		if rec := env.do(t, http.MethodGet, "/api/v1/events?"+q, "", false); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t, true)

	if rec := env.do(t, http.MethodPut, "/api/v1/bus/attributes/drivers_autoprobe", "0", true); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/hotplug/sculld5", `{"action":"add"}`, true); rec.Code != http.StatusCreated {
		t.Fatalf("hotplug status = %d", rec.Code)
	}

	// Flush the queued entries synchronously.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.srv.drainAuditLog(ctx)

	if rec := env.do(t, http.MethodGet, "/api/v1/audit", "", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated audit status = %d, want 401", rec.Code)
	}

	var res audit.ListResult
	decode(t, env.do(t, http.MethodGet, "/api/v1/audit?kind=bus", "", true), &res)
	if res.Total != 1 {
		t.Fatalf("bus audit entries = %d, want 1", res.Total)
	}
	got := res.Logs[0]
	if got.Action != audit.ActionAttributeWrite || got.Name != "ldd" || got.Subject != "admin" || got.Details["value"] != "0" {
		t.Errorf("audit entry = %+v", got)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/audit?action=hotplug_add", "", true), &res)
	if res.Total != 1 || res.Logs[0].Name != "sculld5" {
		t.Errorf("hotplug audit = %+v", res)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/audit?kind=class", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", rec.Code)
	}
}

func TestEvents_NoJournal(t *testing.T) {
	env := newTestEnv(t, false)
	if rec := env.do(t, http.MethodGet, "/api/v1/events", "", false); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	var m SystemMetrics
	decode(t, env.do(t, http.MethodGet, "/api/v1/metrics", "", false), &m)
	if m.Bus.Devices != 1 || len(m.Queues) != 1 || m.Queues[0].Name != "mqtt" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bus", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("origin not echoed")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, false)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t, false)
	env.channel.Subscribe(env.srv.hub.BroadcastEvent)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/ws?channels=" + EventChannel(uevent.ActionBind)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for env.srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := env.bus.RegisterDevice(bus.NewDevice("sculld7")); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var msg struct {
		Type      string       `json:"type"`
		EventType string       `json:"event_type"`
		Payload   uevent.Event `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	// Only the bind event is delivered; the add was filtered out.
	if msg.EventType != "uevent.bind" || msg.Payload.Device != "sculld7" || msg.Payload.Driver != "sculld" {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/events/ws?channels=uevent.bind,uevent.change", "", false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !knownChannel("uevent.unbind") || knownChannel("uevent.change") {
		t.Error("knownChannel misclassifies uevent channels")
	}
}

func TestStartClose(t *testing.T) {
	env := newTestEnv(t, false)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/bus/attributes/version")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test
	resp.Body.Close()
	if string(body) != "1.9\n" {
		t.Errorf("body = %q", body)
	}

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
