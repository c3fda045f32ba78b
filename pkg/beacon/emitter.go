package beacon

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
	"github.com/ryandielhenn/lightmesh/pkg/mesh"
)

// StateSource exposes the flood fields a beacon carries.
type StateSource interface {
	Seq() uint16
	LightState() bool
}

// Emitter broadcasts this node's beacon. Emit reads flood state, so it must
// run on the engine's goroutine.
type Emitter struct {
	self uint16
	rank flood.RankSource
	src  StateSource
	t    mesh.Transport
	log  *zap.Logger
}

func NewEmitter(self uint16, rank flood.RankSource, src StateSource, t mesh.Transport, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{self: self, rank: rank, src: src, t: t, log: log}
}

// Beacon builds the beacon this node would send now. The counter is the
// flood seq reinterpreted as int16.
func (e *Emitter) Beacon() flood.Beacon {
	return flood.Beacon{
		From:    e.self,
		Rank:    e.rank.Rank(),
		Counter: int16(e.src.Seq()),
		State:   e.src.LightState(),
	}
}

func (e *Emitter) Emit() {
	if err := e.t.Broadcast(mesh.EncodeBeacon(e.Beacon())); err != nil {
		e.log.Warn("beacon send failed", zap.Error(err))
	}
}

// Start emits a beacon every period until the returned timer is stopped.
func (e *Emitter) Start(clk flood.Clock, period time.Duration) flood.Timer {
	return clk.Every(period, e.Emit)
}
