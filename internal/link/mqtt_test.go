package link

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/telemetry"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	handler    mqtt.MessageHandler
	subscribed chan struct{}
	pubs       []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscribed: make(chan struct{})}
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return doneToken{} }
func (c *fakeClient) Disconnect(uint)        {}
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic, payload.([]byte)})
	return doneToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	close(c.subscribed)
	return doneToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token         { return doneToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)     {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, fakeMessage{topic, payload})
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.pubs...)
}

func waitForPublish(t *testing.T, c *fakeClient, n int) []published {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pubs := c.sent(); len(pubs) >= n {
			return pubs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no %d publications within 1s, got %+v", n, c.sent())
	return nil
}

// pendingToken never completes until released, like a QoS 1 publish held
// while paho reconnects.
type pendingToken struct{ release chan struct{} }

func (t pendingToken) Wait() bool { <-t.release; return true }
func (t pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.release:
		return true
	case <-time.After(d):
		return false
	}
}
func (t pendingToken) Done() <-chan struct{} { return t.release }
func (t pendingToken) Error() error          { return nil }

type stalledClient struct {
	*fakeClient
	release chan struct{}
}

func (c *stalledClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return pendingToken{release: c.release}
}

var testMQTT = MQTTConfig{
	CommandTopic:   "quadfc/cmd",
	AckTopic:       "quadfc/ack",
	TelemetryTopic: "quadfc/telemetry",
	QueueSize:      2,
}

func TestMQTTForwardsCommands(t *testing.T) {
	client := newFakeClient()
	m := NewMQTT(testMQTT, client, telemetry.JSON, quiet)
	out := make(chan dispatch.Envelope)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, out)
	<-client.subscribed

	client.deliver("quadfc/cmd", []byte(`{"event":"arm"}`))
	env := <-out
	if env.Event.Name != "arm" {
		t.Fatalf("event = %+v", env.Event)
	}
	env.Reply(dispatch.Ack{Event: "arm", Status: dispatch.StatusRejected, Reason: "sensor unavailable"})

	pubs := waitForPublish(t, client, 1)
	if len(pubs) != 1 || pubs[0].topic != "quadfc/ack" {
		t.Fatalf("published = %+v", pubs)
	}
	var ack map[string]any
	if err := json.Unmarshal(pubs[0].payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack["command_ack"] != "arm" || ack["status"] != "rejected" {
		t.Errorf("ack = %v", ack)
	}
}

func TestMQTTDropsWhenQueueFull(t *testing.T) {
	client := newFakeClient()
	m := NewMQTT(testMQTT, client, telemetry.JSON, quiet)
	client.handler = m.onMessage

	for i := 0; i < 5; i++ {
		client.deliver("quadfc/cmd", []byte(`{"event":"heartbeat"}`))
	}
	if got := m.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestMQTTInvalidPayloadAcked(t *testing.T) {
	client := newFakeClient()
	m := NewMQTT(testMQTT, client, telemetry.JSON, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, make(chan dispatch.Envelope))
	<-client.subscribed

	client.deliver("quadfc/cmd", []byte(`garbage`))
	pubs := waitForPublish(t, client, 1)
	if len(pubs) != 1 || pubs[0].topic != "quadfc/ack" {
		t.Fatalf("published = %+v", pubs)
	}
}

func TestMQTTTelemetrySink(t *testing.T) {
	client := newFakeClient()
	m := NewMQTT(testMQTT, client, telemetry.MsgPack, quiet)
	if err := m.Send(context.Background(), telemetry.Snapshot{Seq: 3, ArmState: "armed"}); err != nil {
		t.Fatal(err)
	}
	pubs := client.sent()
	if len(pubs) != 1 || pubs[0].topic != "quadfc/telemetry" {
		t.Fatalf("published = %+v", pubs)
	}
	var s telemetry.Snapshot
	if err := telemetry.MsgPack.Unmarshal(pubs[0].payload, &s); err != nil {
		t.Fatal(err)
	}
	if s.Seq != 3 || m.Published() != 1 {
		t.Errorf("snapshot %+v published %d", s, m.Published())
	}
}

func TestMQTTReplyNeverBlocks(t *testing.T) {
	client := &stalledClient{fakeClient: newFakeClient(), release: make(chan struct{})}
	defer close(client.release)
	m := NewMQTT(testMQTT, client, telemetry.JSON, quiet)

	start := time.Now()
	for i := 0; i < testMQTT.QueueSize+3; i++ {
		m.reply(dispatch.Ack{Event: "heartbeat", Status: dispatch.StatusApplied})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("reply blocked for %s", elapsed)
	}
	if got := m.DroppedAcks(); got != 3 {
		t.Errorf("DroppedAcks() = %d, want 3", got)
	}
}

func TestMQTTStalledBrokerDoesNotDelayHalt(t *testing.T) {
	client := &stalledClient{fakeClient: newFakeClient(), release: make(chan struct{})}
	defer close(client.release)
	m := NewMQTT(testMQTT, client, telemetry.JSON, quiet)

	c := craft.New()
	disp, err := dispatch.New(c, dispatch.WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	in := make(chan dispatch.Envelope, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx, in)
	go m.Run(ctx, in)
	<-client.fakeClient.subscribed

	client.deliver("quadfc/cmd", []byte(`{"event":"heartbeat"}`))
	client.deliver("quadfc/cmd", []byte(`{"event":"heartbeat"}`))

	acked := make(chan dispatch.Ack, 1)
	start := time.Now()
	in <- dispatch.Envelope{Event: dispatch.Event{Name: "halt"}, Reply: func(a dispatch.Ack) { acked <- a }}
	select {
	case a := <-acked:
		if a.Status != dispatch.StatusApplied {
			t.Errorf("halt ack = %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("halt not applied while the broker was stalled")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("halt applied after %s", elapsed)
	}
	if c.ArmState() != flight.Halted {
		t.Errorf("state = %s, want halted", c.ArmState())
	}
}
