// Package sim runs a line of flood nodes over an in-process medium.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/pkg/beacon"
	"github.com/ryandielhenn/lightmesh/pkg/flood"
	"github.com/ryandielhenn/lightmesh/pkg/mesh"
	"github.com/ryandielhenn/lightmesh/pkg/node"
)

const (
	SensorID uint16 = 0x0001
	SinkID   uint16 = 0x0002
	// relays are numbered from here
	firstRelay uint16 = 0x0010
)

type Config struct {
	Nodes int
	Loss  float64
	Seed  uint64

	FakeSendPeriod time.Duration
	BurstSize      uint8
	BurstInterval  time.Duration
	TriggerPeriod  time.Duration
	BeaconPeriod   time.Duration
	SyncTimeout    time.Duration
	PoolSize       int
	Debug          bool
	MeasureDelay   bool

	Logger *zap.Logger
}

func DefaultConfig() Config {
	d := flood.DefaultConfig()
	return Config{
		Nodes:          5,
		Seed:           1,
		FakeSendPeriod: 500 * time.Millisecond,
		BurstSize:      d.BurstSize,
		BurstInterval:  d.BurstInterval,
		TriggerPeriod:  10 * time.Millisecond,
		BeaconPeriod:   50 * time.Millisecond,
		SyncTimeout:    time.Second,
		PoolSize:       10,
	}
}

func AddrFor(id uint16) flood.Addr {
	return flood.Addr{0x14, 0x15, 0x92, 0x00, 0x00, 0x00, byte(id >> 8), byte(id)}
}

// Network is a line: the sink at hop 0 (the root) and the source at the far
// end, relays in between. Only adjacent nodes hear each other.
type Network struct {
	Medium *mesh.Medium
	Nodes  []*node.Node

	log    *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
}

func NewLine(cfg Config) (*Network, error) {
	if cfg.Nodes < 2 {
		return nil, fmt.Errorf("sim: need at least 2 nodes, got %d", cfg.Nodes)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	nw := &Network{Medium: mesh.NewMedium(cfg.Loss, cfg.Seed), log: cfg.Logger}

	var prev *mesh.Port
	for hop := 0; hop < cfg.Nodes; hop++ {
		id := firstRelay + uint16(hop)
		switch hop {
		case 0:
			id = SinkID
		case cfg.Nodes - 1:
			id = SensorID
		}

		fc := flood.DefaultConfig()
		fc.Self = AddrFor(id)
		fc.SensorID = SensorID
		fc.SinkID = SinkID
		fc.BurstSize = cfg.BurstSize
		fc.BurstInterval = cfg.BurstInterval
		fc.FakeSend = id == SensorID
		fc.FakeSendPeriod = cfg.FakeSendPeriod
		fc.Debug = cfg.Debug
		fc.MeasureDelay = cfg.MeasureDelay

		port := nw.Medium.Attach(fc.Self.String(), 128)
		if prev != nil {
			nw.Medium.Connect(prev.ID(), port.ID())
		}
		prev = port

		n, err := node.New(port, node.Options{
			Flood:         fc,
			Rank:          beacon.RootRank + uint16(hop)*beacon.RankIncrease,
			PoolSize:      cfg.PoolSize,
			TriggerPeriod: cfg.TriggerPeriod,
			BeaconPeriod:  cfg.BeaconPeriod,
			SyncTimeout:   cfg.SyncTimeout,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", hop, err)
		}
		nw.Nodes = append(nw.Nodes, n)
	}
	return nw, nil
}

func (nw *Network) Sink() *node.Node { return nw.Nodes[0] }

func (nw *Network) Source() *node.Node { return nw.Nodes[len(nw.Nodes)-1] }

// Start runs every node until Stop.
func (nw *Network) Start(ctx context.Context) {
	ctx, nw.cancel = context.WithCancel(ctx)
	for _, n := range nw.Nodes {
		nw.wg.Add(1)
		go func(n *node.Node) {
			defer nw.wg.Done()
			if err := n.Run(ctx); err != nil {
				nw.mu.Lock()
				nw.errs = append(nw.errs, fmt.Errorf("node %04x: %w", n.ID(), err))
				nw.mu.Unlock()
			}
		}(n)
	}
}

func (nw *Network) Stop() error {
	if nw.cancel != nil {
		nw.cancel()
	}
	nw.wg.Wait()
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return errors.Join(nw.errs...)
}

// Result compares the two ends of the line.
type Result struct {
	SourceSeq   uint16
	SourceState bool
	SinkSeq     uint16
	SinkState   bool
	Converged   bool
	Elapsed     time.Duration
}

func (nw *Network) Snapshot(ctx context.Context) ([]node.Status, error) {
	out := make([]node.Status, 0, len(nw.Nodes))
	for _, n := range nw.Nodes {
		s, err := n.Status(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// WaitConverged polls until the source has produced at least minSeq events
// and the sink holds the same seq and state, or ctx ends.
func (nw *Network) WaitConverged(ctx context.Context, minSeq uint16, poll time.Duration) (Result, error) {
	start := time.Now()
	tk := time.NewTicker(poll)
	defer tk.Stop()
	for {
		src, err := nw.Source().Status(ctx)
		if err != nil {
			return Result{}, err
		}
		snk, err := nw.Sink().Status(ctx)
		if err != nil {
			return Result{}, err
		}
		r := Result{
			SourceSeq:   src.Seq,
			SourceState: src.State,
			SinkSeq:     snk.Seq,
			SinkState:   snk.State,
			Elapsed:     time.Since(start),
		}
		r.Converged = src.Seq >= minSeq && src.Seq == snk.Seq && src.State == snk.State
		if r.Converged {
			nw.log.Info("converged", zap.Uint16("seq", r.SinkSeq), zap.Bool("state", r.SinkState), zap.Duration("elapsed", r.Elapsed))
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-tk.C:
		}
	}
}
