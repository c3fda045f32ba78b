// Package node assembles one mesh node: the flood engine, its task loop, the
// packet pool, the beacon stand-in and a transport.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/internal/telemetry"
	"github.com/ryandielhenn/lightmesh/pkg/beacon"
	"github.com/ryandielhenn/lightmesh/pkg/flood"
	"github.com/ryandielhenn/lightmesh/pkg/mesh"
	"github.com/ryandielhenn/lightmesh/pkg/queue"
	"github.com/ryandielhenn/lightmesh/pkg/sched"
)

// Options configure a Node. Zero periods and sizes take the defaults below.
type Options struct {
	Flood flood.Config
	Rank  uint16

	PoolSize      int
	TriggerPeriod time.Duration
	BeaconPeriod  time.Duration
	SyncTimeout   time.Duration

	Sensor     flood.Sensor
	TxLight    flood.Indicator
	RxLight    flood.Indicator
	Publishers []flood.Publisher
	Rand       func() uint16
	Logger     *zap.Logger
}

func (o *Options) defaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.TriggerPeriod <= 0 {
		o.TriggerPeriod = 100 * time.Millisecond
	}
	if o.BeaconPeriod <= 0 {
		o.BeaconPeriod = time.Second
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 5 * o.BeaconPeriod
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type Node struct {
	opts Options
	self uint16
	log  *zap.Logger

	t       mesh.Transport
	loop    *sched.Loop
	pool    *queue.Pool
	tracker *beacon.Tracker
	emitter *beacon.Emitter
	engine  *flood.Engine

	started time.Time
	ran     sync.Once
}

// New builds a node on top of t. The node owns t from here on and closes it
// when Run returns.
func New(t mesh.Transport, o Options) (*Node, error) {
	if t == nil {
		return nil, errors.New("node: transport is required")
	}
	o.defaults()
	self := o.Flood.Self.ShortID()
	log := o.Logger.With(zap.Uint16("node", self))

	n := &Node{
		opts:    o,
		self:    self,
		log:     log,
		t:       t,
		loop:    sched.New(256, log),
		pool:    queue.NewPool(o.PoolSize),
		tracker: beacon.NewTracker(o.Rank, o.SyncTimeout, time.Now),
	}
	eng, err := flood.New(o.Flood, flood.Deps{
		Pool:       n.pool,
		Link:       mesh.NewLink(t),
		Clock:      n.loop,
		Sync:       n.tracker,
		Rank:       n.tracker,
		Sensor:     o.Sensor,
		Rand:       o.Rand,
		TxLight:    o.TxLight,
		RxLight:    o.RxLight,
		Publishers: o.Publishers,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	n.engine = eng
	n.emitter = beacon.NewEmitter(self, n.tracker, eng, t, log)
	return n, nil
}

func (n *Node) ID() uint16 { return n.self }

func (n *Node) Role() flood.Role { return n.engine.Role() }

func (n *Node) Tracker() *beacon.Tracker { return n.tracker }

// Run drives the node until ctx is cancelled. It may be called once, and
// not after Close.
func (n *Node) Run(ctx context.Context) error {
	err := errors.New("node: already run or closed")
	n.ran.Do(func() { err = n.run(ctx) })
	return err
}

// Close releases the transport of a node that will not be run. Once Run has
// been called it does nothing; Run closes the transport when it returns.
func (n *Node) Close() error {
	var err error
	n.ran.Do(func() { err = ignoreClosed(n.t.Close()) })
	return err
}

func (n *Node) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.dispatch(ctx)
	}()

	var timers []flood.Timer
	n.loop.Post(func() {
		n.started = time.Now()
		n.engine.Init()
		n.log.Info("node started",
			zap.Stringer("role", n.engine.Role()),
			zap.Uint16("rank", n.tracker.Rank()),
		)
		timers = append(timers,
			n.loop.Every(n.opts.TriggerPeriod, n.engine.Trigger),
			n.emitter.Start(n.loop, n.opts.BeaconPeriod),
			n.loop.Every(n.opts.SyncTimeout, n.prune),
		)
	})

	err := n.loop.Run(ctx)
	for _, t := range timers {
		t.Stop()
	}
	cerr := n.t.Close()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, ignoreClosed(cerr))
}

func (n *Node) prune() {
	if pruned := n.tracker.Prune(3 * n.opts.SyncTimeout); pruned > 0 {
		n.log.Debug("neighbors pruned", zap.Int("count", pruned))
	}
}

func (n *Node) dispatch(ctx context.Context) {
	frames := n.t.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			n.handleFrame(f)
		}
	}
}

// handleFrame runs on the dispatch goroutine. Anything that touches flood
// state is posted to the loop.
func (n *Node) handleFrame(f mesh.Frame) {
	typ, ok := f.Type()
	if !ok {
		n.log.Debug("runt frame", zap.String("from", f.From))
		return
	}
	switch typ {
	case flood.RecordType:
		buf := n.pool.Get(queue.OwnerRx)
		if buf == nil {
			telemetry.BufferExhausted.WithLabelValues("rx").Inc()
			n.log.Warn("no free packet buffer", zap.String("site", "rx"))
			return
		}
		if err := buf.Fill(f.Data); err != nil {
			n.log.Debug("oversized frame", zap.String("from", f.From), zap.Error(err))
			n.free(buf)
			return
		}
		if !n.loop.Post(func() { n.engine.ReceiveData(buf) }) {
			n.free(buf)
		}
	case mesh.BeaconType:
		b, err := mesh.DecodeBeacon(f.Data)
		if err != nil {
			n.log.Debug("bad beacon", zap.String("from", f.From), zap.Error(err))
			return
		}
		if b.From == n.self {
			return
		}
		n.tracker.Observe(b, f.From)
		n.loop.Post(func() { n.engine.ReceiveBeacon(b) })
	default:
		n.log.Debug("unknown frame type", zap.Uint16("type", typ), zap.String("from", f.From))
	}
}

func (n *Node) free(b *queue.Buffer) {
	if err := n.pool.Free(b); err != nil {
		n.log.Error("free packet buffer", zap.Error(err))
	}
}

// Status is a point-in-time view of the node.
type Status struct {
	ID        uint16            `json:"id"`
	Addr      string            `json:"addr"`
	Role      string            `json:"role"`
	Rank      uint16            `json:"rank"`
	Synced    bool              `json:"synced"`
	Seq       uint16            `json:"seq"`
	State     bool              `json:"state"`
	Busy      bool              `json:"busy_forwarding"`
	Phase     string            `json:"phase"`
	LastEvent *time.Time        `json:"last_event,omitempty"`
	PoolInUse int               `json:"pool_in_use"`
	PoolCap   int               `json:"pool_cap"`
	Neighbors []beacon.Neighbor `json:"neighbors"`
	Uptime    float64           `json:"uptime_seconds"`
}

// Status reads the flood state on the loop so it never races the engine.
func (n *Node) Status(ctx context.Context) (Status, error) {
	var s Status
	err := n.loop.Call(ctx, func() {
		st := n.engine.FloodState()
		s = Status{
			ID:    n.self,
			Addr:  n.opts.Flood.Self.String(),
			Role:  n.engine.Role().String(),
			Seq:   st.Seq,
			State: st.State,
			Busy:  st.BusyForwarding,
			Phase: n.engine.Phase().String(),
		}
		if !st.LastEvent.IsZero() {
			le := st.LastEvent
			s.LastEvent = &le
		}
		if !n.started.IsZero() {
			s.Uptime = time.Since(n.started).Seconds()
		}
	})
	if err != nil {
		return Status{}, err
	}
	s.Rank = n.tracker.Rank()
	s.Synced = n.tracker.IsSynced()
	s.PoolInUse = n.pool.InUse()
	s.PoolCap = n.pool.Cap()
	s.Neighbors = n.tracker.Neighbors()
	return s, nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, mesh.ErrClosed) {
		return nil
	}
	return err
}
