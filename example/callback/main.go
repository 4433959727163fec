package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ghalamif/AegisRT/pkg/aegisrt"
)

func main() {
	flow, err := aegisrt.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Print locally instead of publishing to the gateway broker.
	flow.Config().MQTT.Broker = ""

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	callback := func(t aegisrt.Telemetry) error {
		s := t.Summary
		fmt.Printf("%s device=%s mode=%s jitter_mean=%.3fms jitter_max=%.3fms miss=%.2f%% cpu=%.1f%% signed=%v\n",
			time.Unix(0, int64(s.Timestamp*1e9)).Format(time.RFC3339Nano),
			t.DeviceID,
			s.Mode,
			s.JitterMeanMs,
			s.JitterMaxMs,
			s.MissRatePct,
			s.CPULoad,
			t.Signed,
		)
		return nil
	}

	if err := flow.Run(ctx, aegisrt.ToCallback("stdout", callback)); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
