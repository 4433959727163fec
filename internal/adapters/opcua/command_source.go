package opcua

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisRT/internal/ports"
)

const commandHandle uint32 = 1

// Config captures the runtime details required to open an OPC UA session
// and watch the node that carries mode commands.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	NodeID          string        `yaml:"node_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	Interval        time.Duration `yaml:"interval"`
}

func (c Config) Enabled() bool { return c.Endpoint != "" }

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisRT"
	}
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.NodeID == "" {
		return errors.New("node_id is required")
	}
	if !hasNodeIDForm(c.NodeID) {
		return fmt.Errorf("node_id %q: expected [ns=<n>;]<i|s|g|b>=<id>", c.NodeID)
	}
	if _, err := ua.ParseNodeID(c.NodeID); err != nil {
		return fmt.Errorf("node_id: %w", err)
	}
	return nil
}

// hasNodeIDForm checks the textual node id layout; ua.ParseNodeID falls back
// to a string identifier for anything it does not recognise.
func hasNodeIDForm(id string) bool {
	if rest, ok := strings.CutPrefix(id, "ns="); ok {
		ns, tail, found := strings.Cut(rest, ";")
		if !found || ns == "" {
			return false
		}
		if _, err := strconv.ParseUint(ns, 10, 16); err != nil {
			return false
		}
		id = tail
	}
	if len(id) < 3 || id[1] != '=' {
		return false
	}
	switch id[0] {
	case 'i':
		_, err := strconv.ParseUint(id[2:], 10, 32)
		return err == nil
	case 's', 'g', 'b':
		return true
	}
	return false
}

// CommandSource subscribes to a single string node. Every data change is
// forwarded as a command payload.
type CommandSource struct {
	cfg    Config
	obs    ports.Observability
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	started bool
}

func NewCommandSource(cfg Config, obs ports.Observability) (*CommandSource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CommandSource{cfg: cfg, obs: obs}, nil
}

func (c *CommandSource) Name() string { return "opcua" }

func (c *CommandSource) Start(deliver func(payload []byte)) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua command source already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 8)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.Interval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	nodeID, err := ua.ParseNodeID(c.cfg.NodeID)
	if err != nil {
		c.cleanupOnError(ctx, cancel, sub, client)
		return fmt.Errorf("parse node id %q: %w", c.cfg.NodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, commandHandle)
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		c.cleanupOnError(ctx, cancel, sub, client)
		return fmt.Errorf("monitor node %q: %w", c.cfg.NodeID, err)
	}
	if len(res.Results) == 0 {
		c.cleanupOnError(ctx, cancel, sub, client)
		return fmt.Errorf("monitor node %q failed: empty result", c.cfg.NodeID)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		c.cleanupOnError(ctx, cancel, sub, client)
		return fmt.Errorf("monitor node %q failed: %s", c.cfg.NodeID, res.Results[0].StatusCode)
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, deliver)
	return nil
}

func (c *CommandSource) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	sub := c.sub
	client := c.client
	c.started = false
	c.cancel = nil
	c.sub = nil
	c.client = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *CommandSource) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, deliver func([]byte)) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogError("opcua notification error", notif.Error)
				continue
			}
			c.processNotification(notif.Value, deliver)
		}
	}
}

func (c *CommandSource) processNotification(val interface{}, deliver func([]byte)) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	for _, item := range data.MonitoredItems {
		if item == nil || item.ClientHandle != commandHandle || item.Value == nil {
			continue
		}
		payload, ok := variantToCommand(item.Value.Value)
		if !ok {
			c.obs.LogError("opcua command node holds a non-string value", nil,
				ports.Field{Key: "node_id", Value: c.cfg.NodeID})
			continue
		}
		deliver(payload)
	}
}

// variantToCommand accepts a JSON command object or a bare mode name, which
// is wrapped into the object form.
func variantToCommand(v *ua.Variant) ([]byte, bool) {
	if v == nil {
		return nil, false
	}
	var s string
	switch val := v.Value().(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "{") {
		return []byte(s), true
	}
	b, err := json.Marshal(map[string]string{"Mode": s})
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *CommandSource) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (c *CommandSource) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.CommandSource = (*CommandSource)(nil)
