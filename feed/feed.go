// Package feed publishes broadcast envelopes to an MQTT topic so downstream
// consumers (dashboards, collectors) can follow the log stream without
// holding a WebSocket to this server. Delivery is best-effort: a broker
// outage is logged and envelopes published meanwhile are dropped.
package feed

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"loghub/config"
	"loghub/hub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	connectTimeout       = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// Publisher forwards envelopes to a single MQTT topic at QoS 0.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// New connects to the configured broker and returns a publisher. The client
// reconnects automatically; a lost connection never fails the caller.
func New(cfg config.FeedConfig) (*Publisher, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(connectTimeout)

	opts.OnConnect = func(mqtt.Client) {
		log.Printf("feed: connected to %s (topic %s)", broker, cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("feed: connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("feed: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("feed: connect to %s: %w", broker, err)
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

// Publish forwards an envelope to the topic, fire-and-forget. Safe on a nil
// receiver so callers can hold an optional publisher without guards.
func (p *Publisher) Publish(env hub.Envelope) {
	if p == nil || p.client == nil {
		return
	}
	if !p.client.IsConnected() {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("feed: marshal %s envelope: %v", env.Type, err)
		return
	}
	// QoS 0, not retained; the token is intentionally not awaited.
	p.client.Publish(p.topic, 0, false, data)
}

// Stop disconnects from the broker, allowing in-flight work to finish.
func (p *Publisher) Stop() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
