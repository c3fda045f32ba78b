package flood

import (
	"errors"
	"sort"
	"time"

	"github.com/ryandielhenn/lightmesh/pkg/queue"
)

type manualTimer struct {
	clk     *manualClock
	at      time.Time
	period  time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() { t.stopped = true }

// manualClock fires timers only from Advance, in deadline order.
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Every(d time.Duration, fn func()) Timer {
	t := &manualTimer{clk: c, at: c.now.Add(d), period: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) After(d time.Duration, fn func()) Timer {
	t := &manualTimer{clk: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		t := c.next(end)
		if t == nil {
			break
		}
		c.now = t.at
		if t.period > 0 {
			t.at = t.at.Add(t.period)
		} else {
			t.stopped = true
		}
		t.fn()
	}
	c.now = end
}

func (c *manualClock) next(end time.Time) *manualTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
	if len(c.timers) == 0 || c.timers[0].at.After(end) {
		return nil
	}
	return c.timers[0]
}

func (c *manualClock) pending() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fakeLink decodes every frame it is given and completes synchronously.
type fakeLink struct {
	sent []Record
	at   []time.Time
	clk  *manualClock
	err  error
}

var errLinkDown = errors.New("link down")

func (l *fakeLink) Send(buf *queue.Buffer, done func(*queue.Buffer, error)) {
	var r Record
	if err := r.UnmarshalBinary(buf.Bytes()); err == nil {
		l.sent = append(l.sent, r)
		if l.clk != nil {
			l.at = append(l.at, l.clk.Now())
		}
	}
	done(buf, l.err)
}

type fakeSync bool

func (s *fakeSync) IsSynced() bool { return bool(*s) }

type fakeRank uint16

func (r fakeRank) Rank() uint16 { return uint16(r) }

type fakeSensor struct {
	level uint16
	err   error
}

func (s *fakeSensor) ReadLight() (uint16, error) { return s.level, s.err }

type recIndicator struct{ history []bool }

func (i *recIndicator) Set(on bool) { i.history = append(i.history, on) }

type recPublisher struct {
	states []bool
	seqs   []uint16
	err    error
}

func (p *recPublisher) PublishState(state bool, seq uint16) error {
	p.states = append(p.states, state)
	p.seqs = append(p.seqs, seq)
	return p.err
}
