package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ghalamif/AegisRT"
)

func main() {
	flow, err := aegisrt.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sink, summaries, closeSummaries := aegisrt.NewChannelSink("fanout", 32)
	defer closeSummaries()

	go degradedWatcher("watch", summaries)

	if err := flow.Run(ctx, aegisrt.ToSink(sink)); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func degradedWatcher(name string, summaries <-chan aegisrt.Telemetry) {
	for t := range summaries {
		if t.Summary.Mode == aegisrt.ModeDegraded {
			fmt.Printf("[%s] %s degraded: miss rate %.2f%% at %.1f%% cpu\n",
				name, t.DeviceID, t.Summary.MissRatePct, t.Summary.CPULoad)
		}
	}
}
