package sim

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
)

func TestNewLineRejectsTinyNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 1
	if _, err := NewLine(cfg); err == nil {
		t.Fatalf("NewLine accepted a single node")
	}
}

func TestLineLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 4
	nw, err := NewLine(cfg)
	if err != nil {
		t.Fatalf("NewLine: %v", err)
	}
	if nw.Sink().Role() != flood.Sink || nw.Source().Role() != flood.Source {
		t.Fatalf("ends = %v/%v", nw.Sink().Role(), nw.Source().Role())
	}
	for i := 1; i < 3; i++ {
		if nw.Nodes[i].Role() != flood.Relay {
			t.Fatalf("hop %d role = %v", i, nw.Nodes[i].Role())
		}
	}
	for i, n := range nw.Nodes {
		if got, want := n.Tracker().Rank(), uint16(256*(i+1)); got != want {
			t.Fatalf("hop %d rank = %d, want %d", i, got, want)
		}
	}
	if got := len(nw.Medium.Neighbors(AddrFor(firstRelay + 1).String())); got != 2 {
		t.Fatalf("middle hop has %d neighbors, want 2", got)
	}
	if got := len(nw.Medium.Neighbors(AddrFor(SensorID).String())); got != 1 {
		t.Fatalf("source has %d neighbors, want 1", got)
	}
}

func TestLineConverges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 4
	cfg.FakeSendPeriod = 150 * time.Millisecond
	cfg.BeaconPeriod = 20 * time.Millisecond
	cfg.SyncTimeout = 400 * time.Millisecond
	cfg.Logger = zaptest.NewLogger(t)

	nw, err := NewLine(cfg)
	if err != nil {
		t.Fatalf("NewLine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	nw.Start(ctx)

	r, err := nw.WaitConverged(ctx, 2, 5*time.Millisecond)
	if stopErr := nw.Stop(); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
	if err != nil {
		t.Fatalf("WaitConverged: %v (last %+v)", err, r)
	}
	if !r.Converged || r.SinkSeq < 2 {
		t.Fatalf("result = %+v", r)
	}
}
