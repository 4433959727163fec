package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/goleak"

	"github.com/ghalamif/AegisRT/internal/ports"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	paho.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient embeds the interface so only the methods under test need bodies.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	open         bool
	connectErrs  []error
	connects     int
	published    [][]byte
	publishTok   paho.Token
	subscribed   map[string]paho.MessageHandler
	unsubscribed []string
	disconnected bool
}

func newFakeClient(open bool) *fakeClient {
	return &fakeClient{open: open, subscribed: map[string]paho.MessageHandler{}}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.connects < len(f.connectErrs) {
		err = f.connectErrs[f.connects]
	}
	f.connects++
	if err == nil {
		f.open = true
	}
	return doneToken(err)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.disconnected = true
}

func (f *fakeClient) Publish(_ string, _ byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload.([]byte))
	if f.publishTok != nil {
		return f.publishTok
	}
	return doneToken(nil)
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = cb
	return doneToken(nil)
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	for _, t := range topics {
		delete(f.subscribed, t)
	}
	return doneToken(nil)
}

func (f *fakeClient) handler(topic string) paho.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[topic]
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}

func testClient(fc *fakeClient) *Client {
	return &Client{
		cfg:    Config{Broker: "tcp://127.0.0.1:1883", MetricsTopic: MetricsTopic("device1"), CmdTopic: CmdTopic("device1")},
		client: fc,
		obs:    nopObs{},
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	fc := newFakeClient(false)
	c := testClient(fc)

	err := c.Publish(context.Background(), &ports.Outbound{Payload: []byte("{}")})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(fc.published) != 0 {
		t.Fatalf("nothing should be published while disconnected")
	}
}

func TestPublishSendsPayload(t *testing.T) {
	fc := newFakeClient(true)
	c := testClient(fc)

	if err := c.Publish(context.Background(), &ports.Outbound{Payload: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fc.published) != 1 || string(fc.published[0]) != `{"a":1}` {
		t.Fatalf("unexpected published payloads %q", fc.published)
	}
}

func TestPublishHonoursContext(t *testing.T) {
	fc := newFakeClient(true)
	fc.publishTok = pendingToken()
	c := testClient(fc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Publish(ctx, &ports.Outbound{Payload: []byte("{}")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCommandSubscriptionDeliversAndResubscribes(t *testing.T) {
	fc := newFakeClient(false)
	c := testClient(fc)

	var got [][]byte
	if err := c.Start(func(p []byte) { got = append(got, p) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if fc.handler(c.cfg.CmdTopic) != nil {
		t.Fatalf("must not subscribe while disconnected")
	}

	if err := c.ConnectWithBackoff(context.Background(), time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.onConnect()
	h := fc.handler("tp/device1/cmd")
	if h == nil {
		t.Fatalf("expected subscription after connect")
	}
	h(fc, fakeMessage{payload: []byte(`{"Mode":"DEGRADED"}`)})
	if len(got) != 1 || string(got[0]) != `{"Mode":"DEGRADED"}` {
		t.Fatalf("unexpected deliveries %q", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(fc.unsubscribed) != 1 || fc.handler("tp/device1/cmd") != nil {
		t.Fatalf("expected unsubscribe on stop")
	}
	if err := c.Close(); err != nil || !fc.disconnected {
		t.Fatalf("expected disconnect on close, err=%v", err)
	}
}

func TestConnectWithBackoffRetries(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := newFakeClient(false)
	fc.connectErrs = []error{errors.New("refused"), errors.New("refused")}
	c := testClient(fc)

	if err := c.ConnectWithBackoff(context.Background(), time.Millisecond, 4*time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if fc.connects != 3 {
		t.Fatalf("expected 3 connect attempts, got %d", fc.connects)
	}
}

func TestConnectWithBackoffCancelled(t *testing.T) {
	fc := newFakeClient(false)
	fc.connectErrs = []error{errors.New("refused")}
	c := testClient(fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.ConnectWithBackoff(ctx, time.Hour, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, nopObs{}); err == nil {
		t.Fatalf("expected missing broker to fail")
	}
	if _, err := New(Config{Broker: BrokerURL("192.168.1.1"), MetricsTopic: "m", QoS: 3}, nopObs{}); err == nil {
		t.Fatalf("expected invalid qos to fail")
	}
	c, err := New(Config{Broker: BrokerURL("192.168.1.1"), MetricsTopic: "m"}, nopObs{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.cfg.ClientID == "" {
		t.Fatalf("expected generated client id")
	}
	if BrokerURL("10.0.0.2") != "tcp://10.0.0.2:1883" {
		t.Fatalf("unexpected broker url %s", BrokerURL("10.0.0.2"))
	}
}
