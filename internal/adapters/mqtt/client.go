package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ghalamif/AegisRT/internal/ports"
)

const DefaultPort = 1883

var ErrNotConnected = errors.New("mqtt: not connected")

type Config struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MetricsTopic string `yaml:"metrics_topic"`
	CmdTopic     string `yaml:"cmd_topic"`
	QoS          byte   `yaml:"qos"`
}

func (c Config) Enabled() bool { return c.Broker != "" }

// BrokerURL builds the broker address for a bare gateway IP.
func BrokerURL(host string) string {
	return fmt.Sprintf("tcp://%s:%d", host, DefaultPort)
}

// MetricsTopic and CmdTopic are the per-device default topics.
func MetricsTopic(deviceID string) string { return "tp/" + deviceID + "/metrics" }
func CmdTopic(deviceID string) string     { return "tp/" + deviceID + "/cmd" }

// Client is one broker session used both to publish telemetry and to
// receive mode commands. Paho runs callbacks on its own goroutines, so
// nothing here ever touches the scheduler thread.
type Client struct {
	cfg    Config
	client paho.Client
	obs    ports.Observability

	mu      sync.Mutex
	deliver func(payload []byte)
}

func New(cfg Config, obs ports.Observability) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if cfg.MetricsTopic == "" {
		return nil, errors.New("mqtt: metrics topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "aegisrt-" + uuid.NewString()[:8]
	}

	c := &Client{cfg: cfg, obs: obs}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(paho.Client) { c.onConnect() }
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.obs.LogError("mqtt connection lost", err, ports.Field{Key: "broker", Value: cfg.Broker})
	}

	c.client = paho.NewClient(opts)
	return c, nil
}

// ConnectWithBackoff retries the initial connection, doubling the wait up to
// max, until it succeeds or ctx is done. Paho handles reconnects afterwards.
func (c *Client) ConnectWithBackoff(ctx context.Context, start, max time.Duration) error {
	backoff := start
	for {
		token := c.client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		err := token.Error()
		if err == nil {
			return nil
		}
		c.obs.LogError("mqtt connect failed", err,
			ports.Field{Key: "broker", Value: c.cfg.Broker},
			ports.Field{Key: "retry_in", Value: backoff.String()},
		)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
				if backoff > max {
					backoff = max
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) onConnect() {
	c.obs.LogInfo("mqtt connected", ports.Field{Key: "broker", Value: c.cfg.Broker})
	c.mu.Lock()
	deliver := c.deliver
	c.mu.Unlock()
	if deliver != nil {
		c.subscribe(deliver)
	}
}

func (c *Client) subscribe(deliver func([]byte)) {
	handler := func(_ paho.Client, msg paho.Message) {
		deliver(msg.Payload())
	}
	token := c.client.Subscribe(c.cfg.CmdTopic, c.cfg.QoS, handler)
	if !token.WaitTimeout(5 * time.Second) {
		c.obs.LogError("mqtt subscribe failed", errors.New("timed out"), ports.Field{Key: "topic", Value: c.cfg.CmdTopic})
		return
	}
	if err := token.Error(); err != nil {
		c.obs.LogError("mqtt subscribe failed", err, ports.Field{Key: "topic", Value: c.cfg.CmdTopic})
		return
	}
	c.obs.LogInfo("mqtt subscribed", ports.Field{Key: "topic", Value: c.cfg.CmdTopic})
}

// Name identifies the client both as a sink and as a command source.
func (c *Client) Name() string { return "mqtt" }

// Publish sends the wire payload to the metrics topic. It fails fast while
// the session is down instead of queueing.
func (c *Client) Publish(ctx context.Context, out *ports.Outbound) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(c.cfg.MetricsTopic, c.cfg.QoS, false, out.Payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start subscribes to the command topic now if connected and again after
// every reconnect.
func (c *Client) Start(deliver func(payload []byte)) error {
	if c.cfg.CmdTopic == "" {
		return errors.New("mqtt: command topic is required")
	}
	c.mu.Lock()
	c.deliver = deliver
	c.mu.Unlock()
	if c.client.IsConnectionOpen() {
		c.subscribe(deliver)
	}
	return nil
}

// Stop drops the command subscription. The session itself stays up until Close.
func (c *Client) Stop() error {
	c.mu.Lock()
	had := c.deliver != nil
	c.deliver = nil
	c.mu.Unlock()
	if !had || !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Unsubscribe(c.cfg.CmdTopic)
	token.WaitTimeout(time.Second)
	return token.Error()
}

func (c *Client) Close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

var (
	_ ports.TelemetrySink = (*Client)(nil)
	_ ports.CommandSource = (*Client)(nil)
)
