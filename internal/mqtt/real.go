package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/tank-gateway/internal/state"
)

// DefaultBufferSize is the number of messages held while the broker is unreachable.
const DefaultBufferSize = 100

// Config configures a RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int

	// OnCommand receives relay commands. Nil disables the subscription.
	OnCommand CommandHandler
	// OnConnectionChange is called when the broker connection goes up or down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	cfg    Config

	mu     sync.Mutex
	buffer *ringBuffer
	wasUp  bool
}

// NewRealPublisher creates a publisher for the given broker. The broker being
// unreachable at startup is not an error: the client keeps retrying in the
// background and messages are buffered meanwhile.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "tank-gateway"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Topics.Prefix == "" {
		cfg.Topics = TopicsFor(DefaultTopicPrefix)
	}

	p := &RealPublisher{
		cfg:    cfg,
		buffer: newRingBuffer(cfg.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.Topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected to %s", p.cfg.Broker)
	if p.cfg.OnConnectionChange != nil {
		p.cfg.OnConnectionChange(true)
	}

	if p.cfg.OnCommand != nil {
		c.Subscribe(p.cfg.Topics.RelaySet, 1, p.onMessage)
	}

	p.mu.Lock()
	pending, dropped := p.buffer.drainAll()
	reconnect := p.wasUp
	p.wasUp = true
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(pending), dropped)
	}
	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}

	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		if err != nil {
			log.Printf("mqtt: format reconnected payload: %v", err)
			return
		}
		c.Publish(p.cfg.Topics.System, 1, false, payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	if p.cfg.OnConnectionChange != nil {
		p.cfg.OnConnectionChange(false)
	}
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	id, on, err := p.cfg.Topics.ParseRelayCommand(msg.Topic(), msg.Payload())
	if err != nil {
		log.Printf("mqtt: ignoring command: %v", err)
		return
	}
	p.cfg.OnCommand(id, on)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishTelemetry sends the telemetry snapshot, retained, QoS 0.
func (p *RealPublisher) PublishTelemetry(snap state.Snapshot) error {
	payload, err := FormatTelemetryPayload(snap)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.publish(p.cfg.Topics.Telemetry, 0, true, payload)
}

// PublishRelays sends the relay states, retained, QoS 1.
func (p *RealPublisher) PublishRelays(snap state.Snapshot) error {
	payload, err := FormatRelaysPayload(snap)
	if err != nil {
		return fmt.Errorf("format relays payload: %w", err)
	}
	return p.publish(p.cfg.Topics.Relays, 1, true, payload)
}

// PublishSystem sends a system lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.cfg.Topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
