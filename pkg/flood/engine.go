package flood

import (
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/internal/telemetry"
	"github.com/ryandielhenn/lightmesh/pkg/queue"
)

// Config holds the flood constants and the optional behaviors.
type Config struct {
	Self     Addr
	SensorID uint16
	SinkID   uint16

	Threshold     uint16
	Hysteresis    uint16
	BurstSize     uint8
	BurstInterval time.Duration
	// JitterMask bounds the forward delay: delay = rand & JitterMask ms.
	JitterMask uint16

	// FakeSend synthesizes a light level that toggles every FakeSendPeriod
	// instead of reading the sensor.
	FakeSend       bool
	FakeSendPeriod time.Duration
	// PrintoutReading logs one sensor reading at Init for calibration.
	PrintoutReading bool
	// Debug logs every send, receive, drop and forward.
	Debug bool
	// MeasureDelay stamps records with the source event time so the sink can
	// report end-to-end delay.
	MeasureDelay bool
}

func DefaultConfig() Config {
	return Config{
		Threshold:      2000,
		Hysteresis:     100,
		BurstSize:      3,
		BurstInterval:  10 * time.Millisecond,
		JitterMask:     0x3f,
		FakeSendPeriod: 2 * time.Second,
	}
}

// Deps are the collaborators an Engine drives. Pool, Link, Clock, Sync and
// Rank are required.
type Deps struct {
	Pool  *queue.Pool
	Link  Link
	Clock Clock
	Sync  SyncState
	Rank  RankSource

	// Sensor is nil when no light sensor is attached.
	Sensor Sensor
	// Rand returns uniformly distributed 16-bit values for forward jitter.
	Rand func() uint16

	TxLight    Indicator
	RxLight    Indicator
	Publishers []Publisher
	Logger     *zap.Logger
}

type forwardSession struct {
	pkt    *queue.Buffer
	jitter time.Duration
	timer  Timer
}

// Engine runs the flood for one node.
type Engine struct {
	cfg  Config
	role Role
	self uint16

	st      FloodState
	reading uint16
	burst   *burstSession
	fwd     *forwardSession
	// last {state, seq} handed to publishers
	published *FloodState

	pool    *queue.Pool
	link    Link
	clock   Clock
	sync    SyncState
	rank    RankSource
	sensor  Sensor
	rand    func() uint16
	txLight Indicator
	rxLight Indicator
	pubs    []Publisher
	log     *zap.Logger
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Pool == nil || d.Link == nil || d.Clock == nil || d.Sync == nil || d.Rank == nil {
		return nil, errors.New("flood: pool, link, clock, sync and rank are required")
	}
	if cfg.BurstSize == 0 {
		return nil, errors.New("flood: burst size must be positive")
	}
	if cfg.BurstInterval <= 0 {
		return nil, errors.New("flood: burst interval must be positive")
	}

	role, err := ResolveRole(cfg.Self, cfg.SensorID, cfg.SinkID, d.Sensor != nil || cfg.FakeSend)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		role:    role,
		self:    cfg.Self.ShortID(),
		pool:    d.Pool,
		link:    d.Link,
		clock:   d.Clock,
		sync:    d.Sync,
		rank:    d.Rank,
		sensor:  d.Sensor,
		rand:    d.Rand,
		txLight: d.TxLight,
		rxLight: d.RxLight,
		pubs:    d.Publishers,
		log:     d.Logger,
	}
	if e.rand == nil {
		e.rand = func() uint16 { return uint16(rand.N(1 << 16)) }
	}
	if e.txLight == nil {
		e.txLight = nopIndicator{}
	}
	if e.rxLight == nil {
		e.rxLight = nopIndicator{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.With(zap.Stringer("role", role), zap.Uint16("id", e.self))
	return e, nil
}

// Init clears the indicators and, with PrintoutReading, logs the current
// light level on the source.
func (e *Engine) Init() {
	e.rxLight.Set(false)
	e.txLight.Set(false)

	if !e.cfg.PrintoutReading || e.role != Source || e.sensor == nil {
		return
	}
	lvl, err := e.sensor.ReadLight()
	if err != nil {
		e.log.Warn("light reading failed", zap.Error(err))
		return
	}
	e.log.Info("light reading", zap.Uint16("lux", lvl), zap.Uint16("threshold", e.cfg.Threshold))
}

func (e *Engine) Role() Role { return e.role }

// FloodState returns a copy of the local state.
func (e *Engine) FloodState() FloodState { return e.st }

func (e *Engine) Seq() uint16 { return e.st.Seq }

func (e *Engine) LightState() bool { return e.st.State }

func (e *Engine) Phase() Phase {
	p := PhaseIdle
	if e.burst != nil {
		p |= PhaseBursting
	}
	if e.st.BusyForwarding {
		p |= PhaseForwardPending
	}
	return p
}

//=== transmitting

// Trigger samples the light level and starts a burst on an edge. Only the
// source does anything.
func (e *Engine) Trigger() {
	if e.role != Source {
		return
	}
	now := e.clock.Now()

	if e.cfg.FakeSend {
		if now.Sub(e.st.LastEvent) > e.cfg.FakeSendPeriod {
			if e.reading < e.cfg.Threshold {
				e.reading = uint16(min(2*uint32(e.cfg.Threshold), 0xffff))
			} else {
				e.reading = 0
			}
		}
	} else {
		lvl, err := e.sensor.ReadLight()
		if err != nil {
			e.log.Warn("light reading failed", zap.Error(err))
			return
		}
		e.reading = lvl
	}

	effs := lightEdge(&e.st, e.reading, e.cfg.Threshold, e.cfg.Hysteresis, now)
	if effs == nil {
		return
	}
	e.log.Info("light edge",
		zap.Bool("state", e.st.State),
		zap.Uint16("seq", e.st.Seq),
		zap.Uint16("lux", e.reading),
	)
	e.apply(effs)
}

func (e *Engine) onBurstTick(b *burstSession) {
	if e.burst != b {
		return
	}
	e.apply(burstTick(b, e.cfg.BurstSize))
}

func (e *Engine) sendBurstPacket() {
	pkt := e.pool.Get(queue.OwnerLight)
	if pkt == nil {
		e.noBuffer("burst")
		return
	}
	if err := e.format(pkt); err != nil {
		e.log.Error("format record", zap.Error(err))
		e.free(pkt)
		return
	}
	e.trace("flood send")
	e.send(pkt, "burst")
}

// format writes the current local state into pkt.
func (e *Engine) format(pkt *queue.Buffer) error {
	pkt.Owner = queue.OwnerLight
	pkt.Creator = queue.OwnerLight

	rec := Record{Type: RecordType, Source: e.self, Seq: e.st.Seq, State: e.st.State}
	if e.cfg.MeasureDelay {
		rec.EventTime = e.st.LastEvent
	}
	dst, err := pkt.Reserve(rec.size())
	if err != nil {
		return err
	}
	rec.AppendBinary(dst[:0])
	return nil
}

func (e *Engine) send(pkt *queue.Buffer, kind string) {
	pkt.Owner = queue.OwnerLink
	e.link.Send(pkt, func(b *queue.Buffer, err error) {
		e.sendDone(kind, b, err)
	})
}

// sendDone releases a buffer the link is finished with. It touches no
// flood state, so it is safe off the engine goroutine.
func (e *Engine) sendDone(kind string, b *queue.Buffer, err error) {
	result := "ok"
	if err != nil {
		result = "fail"
		if e.cfg.Debug {
			e.log.Info("link send failed", zap.String("kind", kind), zap.Error(err))
		}
	}
	telemetry.RecordsSent.WithLabelValues(kind, result).Inc()
	e.free(b)
}

//=== receiving

// ReceiveData handles a flood record from the data channel. The engine owns
// buf from here on and frees it once decoded.
func (e *Engine) ReceiveData(buf *queue.Buffer) {
	if !e.sync.IsSynced() {
		e.free(buf)
		e.count(verdictUnsynced)
		return
	}
	buf.Owner = queue.OwnerLight

	var rec Record
	err := rec.UnmarshalBinary(buf.Bytes())
	e.free(buf)
	if err != nil {
		e.count(verdictMalformed)
		e.trace("flood malformed", zap.Error(err))
		return
	}
	e.trace("flood receive", zap.Uint16("rx_seq", rec.Seq), zap.Bool("rx_state", rec.State), zap.Uint16("from", rec.Source))

	v, effs := receiveRecord(&e.st, e.role, rec)
	e.count(v)
	if v == verdictStale {
		e.trace("flood drop", zap.Uint16("rx_seq", rec.Seq), zap.Bool("rx_state", rec.State))
	}
	e.apply(effs)
}

// ReceiveBeacon inspects the flood fields of a routing beacon.
func (e *Engine) ReceiveBeacon(b Beacon) {
	if !e.sync.IsSynced() {
		telemetry.BeaconsReceived.WithLabelValues(string(verdictUnsynced)).Inc()
		return
	}
	v, effs := receiveBeacon(&e.st, e.role, b, e.rank.Rank())
	telemetry.BeaconsReceived.WithLabelValues(string(v)).Inc()
	e.apply(effs)
}

func (e *Engine) scheduleForward(trigger string) {
	pkt := e.pool.Get(queue.OwnerLight)
	if pkt == nil {
		e.noBuffer(trigger)
		return
	}
	if err := e.format(pkt); err != nil {
		e.log.Error("format record", zap.Error(err))
		e.free(pkt)
		return
	}

	f := &forwardSession{
		pkt:    pkt,
		jitter: time.Duration(e.rand()&e.cfg.JitterMask) * time.Millisecond,
	}
	e.fwd = f
	e.st.BusyForwarding = true
	f.timer = e.clock.After(f.jitter, func() { e.onForwardTimer(f) })

	telemetry.ForwardsScheduled.WithLabelValues(trigger).Inc()
	telemetry.ForwardJitter.Observe(f.jitter.Seconds())
	if trigger == triggerBeacon {
		e.trace("flood generate", zap.Duration("jitter", f.jitter))
	} else {
		e.trace("flood forward", zap.Duration("jitter", f.jitter))
	}
}

// onForwardTimer sends the pending packet once. There is no retry; the
// session ends whatever the link reports.
func (e *Engine) onForwardTimer(f *forwardSession) {
	e.send(f.pkt, "forward")
	f.pkt = nil
	if e.fwd == f {
		e.fwd = nil
	}
	e.st.BusyForwarding = false
}

//=== sink

func (e *Engine) processAtSink() {
	e.rxLight.Set(e.st.State)
	telemetry.SinkUpdates.Inc()

	var param int64
	if e.cfg.MeasureDelay && !e.st.LastEvent.IsZero() {
		param = e.clock.Now().Sub(e.st.LastEvent).Milliseconds()
	}
	e.log.Info("sink state",
		zap.Bool("state", e.st.State),
		zap.Int64("param", param),
		zap.Uint16("seq", e.st.Seq),
	)

	// A refresh of a state already published only drives the indicator.
	if p := e.published; p != nil && p.Seq == e.st.Seq && p.State == e.st.State {
		return
	}
	ok := true
	for _, p := range e.pubs {
		if err := p.PublishState(e.st.State, e.st.Seq); err != nil {
			e.log.Warn("publish sink state", zap.Error(err))
			ok = false
		}
	}
	if ok {
		e.published = &FloodState{Seq: e.st.Seq, State: e.st.State}
	}
}

//=== misc

func (e *Engine) apply(effs []effect) {
	for _, ef := range effs {
		switch ef := ef.(type) {
		case setTxLight:
			e.txLight.Set(ef.on)
		case startBurst:
			if e.burst != nil {
				e.burst.timer.Stop()
			}
			b := &burstSession{}
			e.burst = b
			b.timer = e.clock.Every(e.cfg.BurstInterval, func() { e.onBurstTick(b) })
		case sendBurstPacket:
			e.sendBurstPacket()
		case stopBurst:
			if e.burst != nil {
				e.burst.timer.Stop()
				e.burst = nil
			}
		case scheduleForward:
			e.scheduleForward(ef.trigger)
		case processAtSink:
			e.processAtSink()
		}
	}
	telemetry.LocalSeq.Set(float64(e.st.Seq))
	telemetry.LocalState.Set(telemetry.BoolGauge(e.st.State))
}

func (e *Engine) free(b *queue.Buffer) {
	if err := e.pool.Free(b); err != nil {
		e.log.Error("free packet buffer", zap.Error(err))
	}
}

func (e *Engine) noBuffer(site string) {
	telemetry.BufferExhausted.WithLabelValues(site).Inc()
	e.log.Error("no free packet buffer", zap.String("site", site))
}

func (e *Engine) count(v verdict) {
	telemetry.RecordsReceived.WithLabelValues(string(v)).Inc()
}

func (e *Engine) trace(msg string, fields ...zap.Field) {
	if !e.cfg.Debug {
		return
	}
	fields = append(fields, zap.Uint16("seq", e.st.Seq), zap.Bool("state", e.st.State))
	e.log.Info(msg, fields...)
}
