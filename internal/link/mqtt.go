package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/telemetry"
)

// MQTTConfig selects the broker and topics.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	CommandTopic   string `yaml:"command_topic"`
	AckTopic       string `yaml:"ack_topic"`
	TelemetryTopic string `yaml:"telemetry_topic"`
	QoS            byte   `yaml:"qos"`
	QueueSize      int    `yaml:"queue_size"`
}

// MQTT bridges a broker to the dispatcher.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	enc    telemetry.Encoding
	log    *slog.Logger

	queue       chan dispatch.Event
	acks        chan dispatch.Ack
	dropped     atomic.Uint64
	droppedAcks atomic.Uint64
	published   atomic.Uint64
}

// Dial connects to the broker described by cfg.
func Dial(cfg MQTTConfig, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	log.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// NewMQTT wraps a connected client.
func NewMQTT(cfg MQTTConfig, client mqtt.Client, enc telemetry.Encoding, log *slog.Logger) *MQTT {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &MQTT{
		cfg:    cfg,
		client: client,
		enc:    enc,
		log:    log.With("component", "mqtt"),
		queue:  make(chan dispatch.Event, cfg.QueueSize),
		acks:   make(chan dispatch.Ack, cfg.QueueSize),
	}
}

// Run subscribes to the command topic and forwards events to out until
// ctx is canceled. Acks are published from a separate goroutine so the
// dispatcher never waits on the broker.
func (m *MQTT) Run(ctx context.Context, out chan<- dispatch.Envelope) error {
	token := m.client.Subscribe(m.cfg.CommandTopic, m.cfg.QoS, m.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("command subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("command subscription failed: %w", err)
	}
	m.log.Info("subscribed to commands", "topic", m.cfg.CommandTopic, "qos", m.cfg.QoS)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.drainAcks(ctx)
	}()
	defer wg.Wait()

	defer func() {
		if m.client.IsConnected() {
			m.client.Unsubscribe(m.cfg.CommandTopic).WaitTimeout(time.Second)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-m.queue:
			select {
			case out <- dispatch.Envelope{Event: e, Reply: m.reply}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var e dispatch.Event
	if err := m.enc.Unmarshal(msg.Payload(), &e); err != nil {
		m.log.Warn("failed to parse command", "topic", msg.Topic(), "error", err)
		m.reply(dispatch.Ack{
			Event:  "unknown",
			Status: dispatch.StatusIgnored,
			Reason: "invalid payload",
			At:     time.Now(),
		})
		return
	}

	select {
	case m.queue <- e:
	default:
		n := m.dropped.Add(1)
		m.log.Warn("command queue full, dropping command", "event", e.Name, "dropped", n)
	}
}

// reply queues an ack for publishing. It never blocks; when the queue is
// full the ack is dropped.
func (m *MQTT) reply(ack dispatch.Ack) {
	select {
	case m.acks <- ack:
	default:
		n := m.droppedAcks.Add(1)
		m.log.Warn("ack queue full, dropping ack", "command_ack", ack.Event, "dropped", n)
	}
}

func (m *MQTT) drainAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-m.acks:
			m.publishAck(ack)
		}
	}
}

func (m *MQTT) publishAck(ack dispatch.Ack) {
	if m.cfg.AckTopic == "" {
		return
	}
	payload, err := m.enc.Marshal(ack)
	if err != nil {
		m.log.Error("failed to marshal ack", "error", err)
		return
	}
	token := m.client.Publish(m.cfg.AckTopic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		m.log.Error("ack publish timeout", "event", ack.Event)
		return
	}
	if err := token.Error(); err != nil {
		m.log.Error("failed to publish ack", "error", err)
		return
	}
	m.log.Debug("ack sent", "command_ack", ack.Event, "status", ack.Status)
}

// Dropped returns how many commands were discarded on a full queue.
func (m *MQTT) Dropped() uint64 { return m.dropped.Load() }

// DroppedAcks returns how many acks were discarded on a full queue.
func (m *MQTT) DroppedAcks() uint64 { return m.droppedAcks.Load() }

// Name implements telemetry.Sink.
func (m *MQTT) Name() string { return "mqtt" }

// Send publishes a snapshot to the telemetry topic.
func (m *MQTT) Send(_ context.Context, s telemetry.Snapshot) error {
	if m.cfg.TelemetryTopic == "" {
		return nil
	}
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := m.enc.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	token := m.client.Publish(m.cfg.TelemetryTopic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	m.published.Add(1)
	return nil
}

// Published returns the number of telemetry messages sent.
func (m *MQTT) Published() uint64 { return m.published.Load() }

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.log.Info("mqtt disconnected")
	}
}
