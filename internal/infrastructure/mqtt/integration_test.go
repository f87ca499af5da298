//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/vbus/internal/infrastructure/config"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_HotplugRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig("vbus-int-hotplug"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	type received struct {
		topic   string
		payload string
	}
	got := make(chan received, 1)

	err = client.Subscribe(Topics{}.AllHotplug("inttest"), 1, func(topic string, payload []byte) error {
		got <- received{topic, string(payload)}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllHotplug("inttest")) {
		t.Error("subscription should be tracked for reconnect")
	}

	time.Sleep(100 * time.Millisecond)

	topic := Topics{}.Hotplug("inttest", "sculld0")
	if err := client.Publish(topic, []byte(`{"action":"add"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case r := <-got:
		if r.topic != topic || r.payload != `{"action":"add"}` {
			t.Errorf("received %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(Topics{}.AllHotplug("inttest")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig("vbus-int-refused")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() expected error for closed port")
	}
}
