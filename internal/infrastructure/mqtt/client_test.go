package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vbus/internal/infrastructure/config"
)

// Broker-free tests. Tests that talk to a real broker live in
// integration_test.go behind the integration build tag.

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ pahomqtt.Message = fakeMessage{}

// captureLogger records log calls.
type captureLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *captureLogger) Info(string, ...any) {}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func disconnectedClient() *Client {
	return newClient(config.MQTTConfig{QoS: 1})
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "vbus/ldd/event/add/x", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "vbus/ldd/event/add/x", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "not connected", topic: "vbus/ldd/event/add/x", payload: []byte("{}"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, handler: noop, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "vbus/#", qos: 5, handler: noop, wantErr: ErrInvalidQoS},
		{name: "nil handler", topic: "vbus/#", qos: 1, handler: nil, wantErr: ErrSubscribeFailed},
		{name: "not connected", topic: "vbus/#", qos: 1, handler: noop, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failed subscribes", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("vbus/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClose_NilClient(t *testing.T) {
	c := disconnectedClient()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := disconnectedClient()
	logger := &captureLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error { panic("boom") })
	wrapped(nil, fakeMessage{topic: "vbus/ldd/hotplug/x"})

	if len(logger.errs) != 1 {
		t.Errorf("expected 1 error log, got %v", logger.errs)
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	c := disconnectedClient()
	logger := &captureLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "vbus/ldd/hotplug/sculld0", payload: []byte("x")})

	if gotTopic != "vbus/ldd/hotplug/sculld0" || string(gotPayload) != "x" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected 1 warn log, got %v", logger.warns)
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	c := disconnectedClient()
	wrapped := c.wrapHandler(func(string, []byte) error { panic("boom") })
	wrapped(nil, fakeMessage{topic: "t"})
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "vbusd-test"},
		Auth:   config.MQTTAuthConfig{Username: "vbus", Password: "secret"},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "vbusd-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "vbus" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession should be true")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "vbusd")

	if !opts.WillEnabled || opts.WillTopic != "vbus/system/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var msg statusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("LWT payload is not JSON: %v", err)
	}
	if msg.Status != statusOffline || msg.Reason != "unexpected_disconnect" || msg.ClientID != "vbusd" {
		t.Errorf("LWT payload = %+v", msg)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SystemStatus", topics.SystemStatus(), "vbus/system/status"},
		{"BusEvent", topics.BusEvent("ldd", "add", "sculld0"), "vbus/ldd/event/add/sculld0"},
		{"AllBusEvents", topics.AllBusEvents("ldd"), "vbus/ldd/event/#"},
		{"Hotplug", topics.Hotplug("ldd", "sculld0"), "vbus/ldd/hotplug/sculld0"},
		{"AllHotplug", topics.AllHotplug("ldd"), "vbus/ldd/hotplug/+"},
		{"AllTopics", topics.AllTopics(), "vbus/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseHotplug(t *testing.T) {
	tests := []struct {
		topic      string
		wantBus    string
		wantDevice string
		wantErr    bool
	}{
		{topic: "vbus/ldd/hotplug/sculld0", wantBus: "ldd", wantDevice: "sculld0"},
		{topic: "vbus/ldd/event/add/sculld0", wantErr: true},
		{topic: "vbus/ldd/hotplug/", wantErr: true},
		{topic: "vbus/ldd/hotplug/+", wantErr: true},
		{topic: "other/ldd/hotplug/sculld0", wantErr: true},
		{topic: "vbus/ldd/hotplug/a/b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.topic, "/", "_"), func(t *testing.T) {
			bus, device, err := ParseHotplug(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseHotplug() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHotplug() error = %v", err)
			}
			if bus != tt.wantBus || device != tt.wantDevice {
				t.Errorf("ParseHotplug() = (%q, %q), want (%q, %q)", bus, device, tt.wantBus, tt.wantDevice)
			}
		})
	}
}

func TestValidSegment(t *testing.T) {
	for s, want := range map[string]bool{
		"sculld0": true,
		"":        false,
		"a/b":     false,
		"a+":      false,
		"#":       false,
	} {
		if got := ValidSegment(s); got != want {
			t.Errorf("ValidSegment(%q) = %v, want %v", s, got, want)
		}
	}
}
