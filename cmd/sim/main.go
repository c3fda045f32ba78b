package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/internal/telemetry"
	"github.com/ryandielhenn/lightmesh/pkg/sim"
)

func main() {
	def := sim.DefaultConfig()
	n := flag.Int("n", def.Nodes, "nodes in the line, sink and source included")
	loss := flag.Float64("loss", 0, "per-frame loss probability")
	seed := flag.Uint64("seed", def.Seed, "loss RNG seed")
	period := flag.Duration("period", def.FakeSendPeriod, "source toggle period")
	beaconPeriod := flag.Duration("beacon", def.BeaconPeriod, "beacon period")
	events := flag.Uint("events", 5, "source events to wait for")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after")
	delay := flag.Bool("delay", false, "stamp records and log sink delay")
	debug := flag.Bool("debug", false, "log every flood send/receive/drop/forward")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := telemetry.NewLogger(*level, true)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg := def
	cfg.Nodes = *n
	cfg.Loss = *loss
	cfg.Seed = *seed
	cfg.FakeSendPeriod = *period
	cfg.BeaconPeriod = *beaconPeriod
	cfg.SyncTimeout = 20 * *beaconPeriod
	cfg.MeasureDelay = *delay
	cfg.Debug = *debug
	cfg.Logger = logger

	nw, err := sim.NewLine(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	nw.Start(ctx)
	r, werr := nw.WaitConverged(ctx, uint16(*events), 5*time.Millisecond)
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	snap, _ := nw.Snapshot(sctx)
	scancel()
	if err := nw.Stop(); err != nil {
		logger.Warn("stop", zap.Error(err))
	}

	for i, s := range snap {
		fmt.Printf("hop %2d  %-6s id=%04x rank=%-5d seq=%-4d state=%-5t synced=%t\n",
			i, s.Role, s.ID, s.Rank, s.Seq, s.State, s.Synced)
	}
	if werr != nil {
		fmt.Printf("Not converged after %s: source seq=%d sink seq=%d\n", time.Since(start).Round(time.Millisecond), r.SourceSeq, r.SinkSeq)
		os.Exit(1)
	}
	fmt.Printf("Converged at seq %d (state=%t) in %s over %d nodes\n", r.SinkSeq, r.SinkState, time.Since(start).Round(time.Millisecond), cfg.Nodes)
}
