package flood

import (
	"time"

	"github.com/ryandielhenn/lightmesh/pkg/queue"
)

// Timer is a running periodic or one-shot timer.
type Timer interface {
	Stop()
}

// Clock supplies time and timers. Timer callbacks must run on the same
// goroutine as every other Engine call.
type Clock interface {
	Now() time.Time
	Every(d time.Duration, fn func()) Timer
	After(d time.Duration, fn func()) Timer
}

// Sensor reads the raw light level.
type Sensor interface {
	ReadLight() (uint16, error)
}

// Link is the asynchronous single-hop broadcast primitive. Send takes
// ownership of buf and must call done exactly once, whether or not the
// frame went out. done may run on any goroutine.
type Link interface {
	Send(buf *queue.Buffer, done func(*queue.Buffer, error))
}

// SyncState reports whether the node is time-synchronized with the mesh.
type SyncState interface {
	IsSynced() bool
}

// RankSource reports the node's current routing rank. Lower is closer to
// the root.
type RankSource interface {
	Rank() uint16
}

// Indicator is an on/off output such as an LED or a debug pin.
type Indicator interface {
	Set(on bool)
}

// Publisher receives every state the sink settles on.
type Publisher interface {
	PublishState(state bool, seq uint16) error
}

// Beacon is the part of a routing beacon the flood reads.
type Beacon struct {
	From    uint16
	Rank    uint16
	Counter int16
	State   bool
}

type nopIndicator struct{}

func (nopIndicator) Set(bool) {}
