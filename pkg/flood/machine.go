package flood

import "time"

// FloodState is the per-node flood state.
type FloodState struct {
	State          bool
	Seq            uint16
	BusyForwarding bool
	LastEvent      time.Time
}

// Phase summarizes what an Engine has in flight. A source can be bursting
// and have a forward pending at the same time.
type Phase uint8

const (
	PhaseIdle     Phase = 0
	PhaseBursting Phase = 1 << iota
	PhaseForwardPending
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBursting:
		return "bursting"
	case PhaseForwardPending:
		return "forward-pending"
	default:
		return "bursting+forward-pending"
	}
}

type effect interface{ isEffect() }

type (
	setTxLight      struct{ on bool }
	startBurst      struct{}
	sendBurstPacket struct{}
	stopBurst       struct{}
	scheduleForward struct{ trigger string }
	processAtSink   struct{}
)

func (setTxLight) isEffect()      {}
func (startBurst) isEffect()      {}
func (sendBurstPacket) isEffect() {}
func (stopBurst) isEffect()       {}
func (scheduleForward) isEffect() {}
func (processAtSink) isEffect()   {}

const (
	triggerData   = "data"
	triggerBeacon = "beacon"
)

type verdict string

const (
	verdictUnsynced  verdict = "unsynced"
	verdictMalformed verdict = "malformed"
	verdictStale     verdict = "stale"
	verdictSink      verdict = "sink"
	verdictBusy      verdict = "busy"
	verdictForward   verdict = "forward"
	verdictAdopted   verdict = "adopted"
	verdictInSync    verdict = "in_sync"
	verdictFarther   verdict = "farther"
	verdictRepair    verdict = "repair"
)

// lightEdge applies the hysteresis band to level. It returns nil when the
// state does not change.
func lightEdge(s *FloodState, level, threshold, hysteresis uint16, now time.Time) []effect {
	lvl := int32(level)
	switch {
	case !s.State && lvl >= int32(threshold)+int32(hysteresis):
		s.State = true
	case s.State && lvl < int32(threshold)-int32(hysteresis):
		s.State = false
	default:
		return nil
	}
	s.LastEvent = now
	s.Seq++
	return []effect{setTxLight{on: s.State}, startBurst{}}
}

type burstSession struct {
	sent  uint8
	timer Timer
}

func burstTick(b *burstSession, size uint8) []effect {
	if b.sent >= size {
		return []effect{stopBurst{}}
	}
	b.sent++
	if b.sent == size {
		return []effect{sendBurstPacket{}, stopBurst{}}
	}
	return []effect{sendBurstPacket{}}
}

func receiveRecord(s *FloodState, role Role, rec Record) (verdict, []effect) {
	if rec.Seq <= s.Seq {
		return verdictStale, nil
	}
	s.Seq = rec.Seq
	s.State = rec.State
	// A record without an event time must not inherit the previous event's.
	if !rec.EventTime.IsZero() || role != Source {
		s.LastEvent = rec.EventTime
	}

	if role == Sink {
		return verdictSink, []effect{processAtSink{}}
	}
	if s.BusyForwarding {
		return verdictBusy, nil
	}
	return verdictForward, []effect{scheduleForward{trigger: triggerData}}
}

// receiveBeacon compares the beacon counter as a signed value against the
// unsigned local seq, so a negative counter never counts as newer.
func receiveBeacon(s *FloodState, role Role, b Beacon, myRank uint16) (verdict, []effect) {
	if int32(b.Counter) >= int32(s.Seq) {
		newer := int32(b.Counter) > int32(s.Seq)
		changed := s.State != b.State
		s.Seq = uint16(b.Counter)
		if changed && role != Source {
			s.State = b.State
		}
		// Beacons carry no event time.
		if (newer || changed) && role != Source {
			s.LastEvent = time.Time{}
		}
		if role == Sink {
			return verdictAdopted, []effect{processAtSink{}}
		}
		return verdictAdopted, nil
	}

	switch {
	case s.State == b.State:
		return verdictInSync, nil
	case s.BusyForwarding:
		return verdictBusy, nil
	case b.Rank >= myRank:
		return verdictFarther, nil
	}
	return verdictRepair, []effect{scheduleForward{trigger: triggerBeacon}}
}
