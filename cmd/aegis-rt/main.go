package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/AegisRT"
	"github.com/ghalamif/AegisRT/internal/adapters/csvlog"
	"github.com/ghalamif/AegisRT/internal/adapters/journal"
	"github.com/ghalamif/AegisRT/internal/app/report"
	"github.com/ghalamif/AegisRT/internal/app/workload"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/pkg/integrity"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "verify":
		err = verifyCommand(os.Args[2:])
	case "report":
		err = reportCommand(os.Args[2:])
	case "stress":
		err = stressCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-rt %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (built-in defaults when empty)")
	periodMs := fs.Float64("period-ms", 20, "Cycle period in milliseconds")
	durationS := fs.Float64("duration-s", 120, "Run duration in seconds")
	epsilonMs := fs.Float64("epsilon-ms", 2, "Deadline miss tolerance in milliseconds")
	out := fs.String("out", "logs/rt_adaptive.csv", "Measurement log path")
	gateway := fs.String("gateway-ip", "192.168.1.1", "MQTT broker host; sets mqtt.broker to tcp://<ip>:1883")
	keyPath := fs.String("key", "", "HMAC key file (default secrets/<device_id>.key)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Only flags given on the command line override the config file.
	var o aegisrt.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "period-ms":
			o.PeriodMs = periodMs
		case "duration-s":
			o.DurationS = durationS
		case "epsilon-ms":
			o.EpsilonMs = epsilonMs
		case "out":
			o.Out = out
		case "gateway-ip":
			o.GatewayIP = gateway
		case "key":
			o.KeyPath = keyPath
		}
	})

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Apply(o)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := aegisrt.NewRuntime(cfg)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func loadConfig(path string) (*aegisrt.Config, error) {
	if path == "" {
		return aegisrt.DefaultConfig(), nil
	}
	return aegisrt.LoadConfig(path)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := aegisrt.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func verifyCommand(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	keyPath := fs.String("key", "secrets/device1.key", "HMAC key file")
	file := fs.String("file", "-", "Envelope JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := integrity.LoadKey(*keyPath)
	if err != nil {
		return err
	}
	raw, err := readInput(*file)
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if err := integrity.Verify(key, raw); err != nil {
		return fmt.Errorf("envelope rejected: %w", err)
	}

	var env integrity.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	fmt.Printf("envelope OK device=%s ts=%s nonce=%s\n",
		env.DeviceID,
		time.UnixMilli(env.TsMs).UTC().Format(time.RFC3339Nano),
		env.Nonce,
	)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func reportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	logPath := fs.String("log", "logs/rt_adaptive.csv", "Measurement log to summarize")
	format := fs.String("format", "", "csv or journal (guessed from the extension when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := *format
	if f == "" {
		f = aegisrt.FormatCSV
		if ext := strings.ToLower(filepath.Ext(*logPath)); ext != ".csv" {
			f = aegisrt.FormatJournal
		}
	}

	var read func(fn func(domain.CycleRecord) error) error
	switch f {
	case aegisrt.FormatCSV:
		read = func(fn func(domain.CycleRecord) error) error { return csvlog.ReadFile(*logPath, fn) }
	case aegisrt.FormatJournal:
		read = func(fn func(domain.CycleRecord) error) error { return journal.ReadFile(*logPath, fn) }
	default:
		return fmt.Errorf("unknown format %q", f)
	}

	s, err := report.Build(read)
	if err != nil {
		return err
	}
	return report.Write(os.Stdout, *logPath, s)
}

func stressCommand(args []string) error {
	fs := flag.NewFlagSet("stress", flag.ExitOnError)
	seconds := fs.Int("seconds", 130, "How long to keep the CPU busy")
	workers := fs.Int("workers", 1, fmt.Sprintf("Busy goroutines (this host has %d CPUs)", runtime.NumCPU()))
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	chunks := workload.Stress(ctx, time.Duration(*seconds)*time.Second, *workers)
	fmt.Printf("stress done: %d chunks of %d in %s\n", chunks, workload.StressChunk, time.Since(start).Round(time.Millisecond))
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsMetrics = []string{
	"aegisrt_cycles_total",
	"aegisrt_deadline_misses_total",
	"aegisrt_mode",
	"aegisrt_cpu_load_percent",
	"aegisrt_telemetry_published_total",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := parseMetrics(resp.Body, statsMetrics)
	mode := "NORMAL"
	if values["aegisrt_mode"] == 1 {
		mode = "DEGRADED"
	}
	fmt.Printf("[%s] cycles=%.0f misses=%.0f mode=%s cpu=%.1f%% published=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["aegisrt_cycles_total"],
		values["aegisrt_deadline_misses_total"],
		mode,
		values["aegisrt_cpu_load_percent"],
		values["aegisrt_telemetry_published_total"],
	)
	return nil
}

// parseMetrics picks unlabelled samples out of the Prometheus text format.
func parseMetrics(r io.Reader, names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range names {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					out[key] = value
				}
			}
		}
	}
	return out
}

func printUsage() {
	fmt.Printf(`AegisRT CLI

Usage:
  aegis-rt <command> [flags]

Commands:
  run        Run the adaptive real-time loop
  validate   Load and validate a config file without running
  verify     Check the integrity tag of a signed telemetry envelope
  report     Summarize a finished measurement log
  stress     Burn CPU to provoke DEGRADED mode on a running loop
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  aegis-rt run -config ./data/config.yaml
  aegis-rt run -period-ms 10 -duration-s 60 -gateway-ip 10.0.0.2
  aegis-rt verify -key secrets/device1.key -file envelope.json
  aegis-rt report -log logs/rt_adaptive.csv
  aegis-rt stress -seconds 130
  aegis-rt stats -url http://localhost:9100/metrics -interval 1s
`)
}
