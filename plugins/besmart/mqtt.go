package besmart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-besmart/internal/config"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttCommandTimeout = 60 * time.Second
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge mirrors thermostat state to MQTT and accepts commands on
// <prefix>/<room>/<setting>/set.
type Bridge struct {
	prefix string
	client mqtt.Client
	pub    publisher
	lookup func(room string) (*Thermostat, bool)
}

// ConnectBridge connects to the broker. An unreachable broker is retried in
// the background; state published meanwhile is dropped.
func ConnectBridge(cfg *config.MQTTConfig, lookup func(string) (*Thermostat, bool)) (*Bridge, error) {
	if cfg == nil || strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}

	b := &Bridge{prefix: cfg.TopicPrefix, lookup: lookup}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		password, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	// commands block on vendor round trips
	opts.SetOrderMatters(false)
	opts.SetWill(b.statusTopic(), "offline", 1, true)
	opts.OnConnect = func(client mqtt.Client) {
		client.Publish(b.statusTopic(), 1, true, "online")
		if token := client.Subscribe(b.commandFilter(), 1, b.onMessage); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Warn("mqtt subscribe failed")
			return
		}
		log.WithField("filter", b.commandFilter()).Info("mqtt bridge subscribed")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttConnectTimeout) {
		log.WithField("broker", cfg.Broker).Warn("mqtt broker not reachable yet, retrying")
	} else if token.Error() != nil {
		return nil, token.Error()
	}

	b.client = client
	b.pub = client
	return b, nil
}

func (b *Bridge) statusTopic() string {
	return b.prefix + "/status"
}

func (b *Bridge) commandFilter() string {
	return b.prefix + "/+/+/set"
}

// StateTopic is the retained state topic of a room.
func (b *Bridge) StateTopic(room string) string {
	return b.prefix + "/" + roomKey(room) + "/state"
}

// Publish sends the retained state of th.
func (b *Bridge) Publish(th *Thermostat) error {
	payload, err := json.Marshal(View(th))
	if err != nil {
		return err
	}
	token := b.pub.Publish(b.StateTopic(th.Room().Name), 1, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish %s: timeout", b.StateTopic(th.Room().Name))
	}
	return token.Error()
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), mqttCommandTimeout)
	defer cancel()

	entry := log.WithField("topic", msg.Topic())
	if err := b.handleCommand(ctx, msg.Topic(), msg.Payload()); err != nil {
		entry.WithError(err).Warn("mqtt command failed")
		return
	}
	entry.Debug("mqtt command applied")
}

// handleCommand applies one <prefix>/<room>/<setting>/set message.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return fmt.Errorf("topic outside prefix %q", b.prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" {
		return fmt.Errorf("unexpected command topic")
	}

	th, ok := b.lookup(parts[0])
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, parts[0])
	}
	cmd, err := ParseCommand(parts[1], string(payload))
	if err != nil {
		return err
	}
	return cmd.Apply(ctx, th)
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	if b.client.IsConnected() {
		b.client.Publish(b.statusTopic(), 1, true, "offline").WaitTimeout(mqttPublishTimeout)
	}
	b.client.Disconnect(250)
}
