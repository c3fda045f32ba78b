package mesh

import (
	"errors"
	"math/rand/v2"
	"sync"
)

var ErrClosed = errors.New("mesh: transport closed")

// Transport sends a frame to every neighbor in radio range and delivers
// frames heard from them.
type Transport interface {
	Broadcast(frame []byte) error
	Frames() <-chan Frame
	Close() error
}

// Medium is an in-process shared radio. Links are symmetric; every copy of
// a broadcast is lost independently with probability loss. A receiver whose
// queue is full misses the frame, like a radio overrun.
type Medium struct {
	mu    sync.RWMutex
	ports map[string]*Port
	links map[string]map[string]struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
	loss  float64
}

func NewMedium(loss float64, seed uint64) *Medium {
	return &Medium{
		ports: make(map[string]*Port),
		links: make(map[string]map[string]struct{}),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		loss:  loss,
	}
}

// Attach adds a node to the medium. Attaching an existing id returns the
// existing port.
func (m *Medium) Attach(id string, queueLen int) *Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.ports[id]; ok {
		return p
	}
	if queueLen <= 0 {
		queueLen = 64
	}
	p := &Port{id: id, m: m, in: make(chan Frame, queueLen)}
	m.ports[id] = p
	return p
}

// Connect puts a and b in radio range of each other.
func (m *Medium) Connect(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link(a, b)
	m.link(b, a)
}

func (m *Medium) Disconnect(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links[a], b)
	delete(m.links[b], a)
}

func (m *Medium) link(from, to string) {
	if m.links[from] == nil {
		m.links[from] = make(map[string]struct{})
	}
	m.links[from][to] = struct{}{}
}

// Neighbors returns the ids in range of id.
func (m *Medium) Neighbors(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.links[id]))
	for n := range m.links[id] {
		out = append(out, n)
	}
	return out
}

func (m *Medium) lost() bool {
	if m.loss <= 0 {
		return false
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64() < m.loss
}

func (m *Medium) deliver(from string, frame []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.ports[from]; !ok {
		return ErrClosed
	}
	for to := range m.links[from] {
		p, ok := m.ports[to]
		if !ok || m.lost() {
			continue
		}
		select {
		case p.in <- Frame{From: from, Data: append([]byte(nil), frame...)}:
		default:
		}
	}
	return nil
}

// Port is one node's attachment to a Medium.
type Port struct {
	id string
	m  *Medium
	in chan Frame
}

func (p *Port) ID() string { return p.id }

func (p *Port) Broadcast(frame []byte) error {
	return p.m.deliver(p.id, frame)
}

func (p *Port) Frames() <-chan Frame { return p.in }

func (p *Port) Close() error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.m.ports[p.id] != p {
		return ErrClosed
	}
	delete(p.m.ports, p.id)
	close(p.in)
	return nil
}
