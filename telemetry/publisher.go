// Package telemetry publishes completed captures to an MQTT broker so host
// tooling can pick traces up without polling the console. Publishing happens
// from the capture completion consumer; a broker outage never blocks the
// sampling path and failed publishes are logged and dropped.
package telemetry

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"diagconsole/recorder"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const publishTimeout = 5 * time.Second

// CaptureDocument is the JSON payload published per completed capture.
type CaptureDocument struct {
	Device  string        `json:"device"`
	Taken   time.Time     `json:"taken"`
	Meta    recorder.Meta `json:"meta"`
	Rows    [][]float32   `json:"rows"`
	Elapsed string        `json:"elapsed,omitempty"`
}

// Publisher maintains a persistent MQTT connection and publishes capture
// documents to a fixed topic.
type Publisher struct {
	broker string
	port   int
	topic  string
	device string
	client mqtt.Client
}

// NewPublisher configures a publisher for the given broker and topic. The
// device name is embedded in every document.
func NewPublisher(broker string, port int, topic, device string) *Publisher {
	return &Publisher{broker: broker, port: port, topic: topic, device: device}
}

// Connect establishes the broker connection with auto-reconnect.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.broker, p.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("diagconsole-%s-%d", p.device, time.Now().Unix()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("Telemetry: connection lost: %v (auto-reconnecting)", err)
	})

	p.client = mqtt.NewClient(opts)
	log.Printf("Telemetry: connecting to MQTT broker at %s...", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: connect to broker: %w", token.Error())
	}
	log.Printf("Telemetry: connected, publishing captures to %s", p.topic)
	return nil
}

// PublishCapture encodes and publishes one capture document at QoS 0.
func (p *Publisher) PublishCapture(doc CaptureDocument) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("telemetry: not connected")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("telemetry: encode capture: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("telemetry: publish timed out after %s", publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: publish: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection, allowing in-flight work to finish.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
