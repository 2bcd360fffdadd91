package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type paramsMessage struct {
	Run    string         `json:"run"`
	Time   float64        `json:"time"`
	Params map[string]any `json:"params"`
}

type consoleMessage struct {
	Run     string  `json:"run"`
	Time    float64 `json:"time"`
	Message string  `json:"message"`
}

// MQTT publishes records as JSON to <prefix>/params and <prefix>/console with
// QoS 0, without waiting for delivery.
type MQTT struct {
	client mqtt.Client
	prefix string
	run    string
	failed atomic.Uint64
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig, runID string) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "lanebot"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lanebot-" + runID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Printf("mqtt telemetry connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt telemetry connection lost, will auto-reconnect: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, token.Error())
	}

	return &MQTT{client: client, prefix: cfg.TopicPrefix, run: runID}, nil
}

// LogParams publishes a parameter record.
func (m *MQTT) LogParams(names []string, values []any) {
	payload, err := encodeParams(m.run, time.Now(), names, values)
	if err != nil {
		m.failed.Add(1)
		return
	}
	m.client.Publish(m.prefix+"/params", 0, false, payload)
}

// Print publishes a console message.
func (m *MQTT) Print(message string) {
	payload, err := json.Marshal(consoleMessage{Run: m.run, Time: unixSeconds(time.Now()), Message: message})
	if err != nil {
		m.failed.Add(1)
		return
	}
	m.client.Publish(m.prefix+"/console", 0, false, payload)
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if n := m.failed.Load(); n > 0 {
		log.Printf("mqtt telemetry: %d records could not be encoded", n)
	}
	m.client.Disconnect(250)
	return nil
}

func encodeParams(run string, at time.Time, names []string, values []any) ([]byte, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("%d names for %d values", len(names), len(values))
	}
	params := make(map[string]any, len(names))
	for i, name := range names {
		params[name] = values[i]
	}
	return json.Marshal(paramsMessage{Run: run, Time: unixSeconds(at), Params: params})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
