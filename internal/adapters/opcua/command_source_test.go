package opcua

import (
	"testing"

	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisRT/internal/ports"
)

type countingObs struct {
	errors int
}

func (o *countingObs) LogInfo(string, ...ports.Field)            {}
func (o *countingObs) LogError(string, error, ...ports.Field)    { o.errors++ }
func (o *countingObs) LogCritical(string, error, ...ports.Field) {}
func (o *countingObs) IncCounter(string, float64)                {}
func (o *countingObs) ObserveLatency(string, float64)            {}
func (o *countingObs) SetGauge(string, float64)                  {}

func TestVariantToCommand(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
		ok   bool
	}{
		{"DEGRADED", `{"Mode":"DEGRADED"}`, true},
		{"  NORMAL\n", `{"Mode":"NORMAL"}`, true},
		{`{"Mode":"DEGRADED"}`, `{"Mode":"DEGRADED"}`, true},
		{[]byte("NORMAL"), `{"Mode":"NORMAL"}`, true},
		{"", "", false},
		{int32(1), "", false},
	}
	for _, tc := range cases {
		got, ok := variantToCommand(ua.MustVariant(tc.in))
		if ok != tc.ok || string(got) != tc.want {
			t.Fatalf("%v: expected (%q,%v), got (%q,%v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}
	if _, ok := variantToCommand(nil); ok {
		t.Fatalf("nil variant must be rejected")
	}
}

func TestProcessNotificationDeliversCommands(t *testing.T) {
	obs := &countingObs{}
	c := &CommandSource{cfg: Config{NodeID: "ns=2;s=Mode"}, obs: obs}

	var got []string
	deliver := func(p []byte) { got = append(got, string(p)) }

	c.processNotification(&ua.DataChangeNotification{
		MonitoredItems: []*ua.MonitoredItemNotification{
			{ClientHandle: commandHandle, Value: &ua.DataValue{Value: ua.MustVariant("DEGRADED")}},
			{ClientHandle: 99, Value: &ua.DataValue{Value: ua.MustVariant("NORMAL")}},
			{ClientHandle: commandHandle, Value: &ua.DataValue{Value: ua.MustVariant(float64(3))}},
			nil,
		},
	}, deliver)

	if len(got) != 1 || got[0] != `{"Mode":"DEGRADED"}` {
		t.Fatalf("unexpected deliveries %q", got)
	}
	if obs.errors != 1 {
		t.Fatalf("expected the numeric value to be logged, got %d errors", obs.errors)
	}

	// Other notification kinds are ignored.
	c.processNotification(&ua.EventNotificationList{}, deliver)
	if len(got) != 1 {
		t.Fatalf("event notifications must not deliver")
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://localhost:4840", NodeID: "ns=2;s=Mode"}
	cfg.ApplyDefaults()
	if cfg.SecurityMode != "None" || cfg.Interval <= 0 || cfg.ApplicationName == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	for _, id := range []string{"not a node", "Mode", "ns=x;s=Mode", "ns=2;Mode", "i=abc", "s="} {
		bad := Config{Endpoint: "opc.tcp://localhost:4840", NodeID: id}
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected node id %q to fail", id)
		}
	}
	for _, id := range []string{"i=2258", "ns=3;i=1001", "s=Mode", "ns=2;s=Line/Mode"} {
		good := Config{Endpoint: "opc.tcp://localhost:4840", NodeID: id}
		if err := good.Validate(); err != nil {
			t.Fatalf("expected node id %q to pass, got %v", id, err)
		}
	}
	if _, err := NewCommandSource(Config{}, obs()); err == nil {
		t.Fatalf("expected missing endpoint to fail")
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	for in, want := range map[string]string{"sign": "Sign", "SignAndEncrypt": "SignAndEncrypt", "": "None", "bogus": "None"} {
		if got := normalizeSecurityMode(in); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	c, err := NewCommandSource(Config{Endpoint: "opc.tcp://localhost:4840", NodeID: "i=2258"}, obs())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop before start should be a no-op, got %v", err)
	}
}

func obs() ports.Observability { return &countingObs{} }
