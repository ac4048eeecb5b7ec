// Command simulate generates synthetic wearable traffic. Three targets:
// a Kafka reading topic, stdout, or an in-process session that exercises
// the whole engine and prints its final state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/session"
	"github.com/pedalhouse/engine/internal/simulator"
	"github.com/pedalhouse/engine/pkg/logger"
)

// Default simulation constants.
const (
	defaultDevices  = 8
	defaultInterval = time.Second
	defaultDuration = 5 * time.Minute
	defaultTopic    = "device-readings"
	localTick       = 5 * time.Second
)

func main() {
	var (
		brokers  = flag.String("brokers", "", "Comma-separated Kafka brokers (empty: stdout or -local)")
		topic    = flag.String("topic", defaultTopic, "Reading topic")
		devices  = flag.Int("devices", defaultDevices, "Number of simulated devices")
		interval = flag.Duration("interval", defaultInterval, "Per-device reporting interval")
		duration = flag.Duration("duration", defaultDuration, "How long to run")
		dropout  = flag.Float64("dropout", 0.05, "Probability a device skips a report")
		seed     = flag.Int64("seed", 0, "Deterministic seed (0: time-based)")
		local    = flag.Bool("local", false, "Feed an in-process session and print its final state")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get().Named("simulate")

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	opts := []simulator.Option{
		simulator.WithDevices(*devices),
		simulator.WithInterval(*interval),
		simulator.WithDropout(*dropout),
		simulator.WithLogger(log),
	}
	if *seed != 0 {
		opts = append(opts, simulator.WithSeed(*seed))
	}
	sim := simulator.New(opts...)

	switch {
	case *local:
		runLocal(ctx, log, sim)
	case *brokers != "":
		ke := simulator.NewKafkaEmitter(strings.Split(*brokers, ","), *topic)
		defer func() {
			if err := ke.Close(); err != nil {
				log.Warn(ctx, "writer close failed", logger.Error(err))
			}
		}()
		runEmit(ctx, sim, ke)
	default:
		enc := json.NewEncoder(os.Stdout)
		runEmit(ctx, sim, simulator.EmitFunc(func(_ context.Context, r model.Reading) error {
			return enc.Encode(r)
		}))
	}
}

func runEmit(ctx context.Context, sim *simulator.Simulator, emit simulator.Emitter) {
	if err := sim.Run(ctx, emit); err != nil &&
		err != context.DeadlineExceeded && err != context.Canceled {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
	}
}

// runLocal exercises the full engine in one process: simulated readings
// feed a real session, and the final governance and coin state prints
// when the run ends.
func runLocal(ctx context.Context, log logger.Logger, sim *simulator.Simulator) {
	ses := session.New(
		session.WithLogger(log.Named("session")),
		session.WithTickInterval(localTick),
	)
	if err := ses.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start session: " + err.Error() + "\n")
		return
	}

	runEmit(ctx, sim, simulator.EmitFunc(func(c context.Context, r model.Reading) error {
		ses.Offer(c, r)
		return nil
	}))

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ses.End(endCtx, "simulation_complete"); err != nil {
		log.Warn(endCtx, "final save failed", logger.Error(err))
	}

	sum := ses.TreasureSummary()
	fmt.Printf("session %s ran for %s\n", ses.ID(), ses.Duration())
	fmt.Printf("coins: %d total, buckets %v\n", sum.TotalCoins, sum.Buckets)
	snap := ses.GovernanceSnapshot()
	fmt.Printf("governance: %s", snap.Status)
	if len(snap.Offenders) > 0 {
		fmt.Printf(", %d below required zone", len(snap.Offenders))
	}
	fmt.Println()
}
