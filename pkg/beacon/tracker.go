// Package beacon stands in for the routing layer: it emits periodic beacons
// carrying a node's rank and flood state, and tracks the beacons heard from
// neighbors to decide whether the node is synchronized.
package beacon

import (
	"sort"
	"sync"
	"time"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
)

// RootRank is the rank of the mesh root. Each hop adds at least RankIncrease.
const (
	RootRank     uint16 = 256
	RankIncrease uint16 = 256
)

// Neighbor is what the tracker knows about one beacon sender.
type Neighbor struct {
	ID        uint16    `json:"id"`
	Addr      string    `json:"addr"`
	Rank      uint16    `json:"rank"`
	Counter   int16     `json:"counter"`
	State     bool      `json:"state"`
	LastHeard time.Time `json:"last_heard"`
}

// Tracker records heard beacons. A node counts as synchronized while it has
// heard a neighbor closer to the root within the sync timeout; the root is
// always synchronized.
type Tracker struct {
	mu          sync.RWMutex
	rank        uint16
	syncTimeout time.Duration
	now         func() time.Time
	neighbors   map[uint16]Neighbor
	lastParent  time.Time
}

func NewTracker(rank uint16, syncTimeout time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		rank:        rank,
		syncTimeout: syncTimeout,
		now:         now,
		neighbors:   make(map[uint16]Neighbor),
	}
}

func (t *Tracker) Rank() uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rank
}

func (t *Tracker) IsSynced() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rank <= RootRank {
		return true
	}
	return !t.lastParent.IsZero() && t.now().Sub(t.lastParent) <= t.syncTimeout
}

// Observe records a beacon heard from addr.
func (t *Tracker) Observe(b flood.Beacon, addr string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.neighbors[b.From] = Neighbor{
		ID:        b.From,
		Addr:      addr,
		Rank:      b.Rank,
		Counter:   b.Counter,
		State:     b.State,
		LastHeard: now,
	}
	if b.Rank < t.rank {
		t.lastParent = now
	}
}

// Neighbors returns the known neighbors ordered by rank, closest first.
func (t *Tracker) Neighbors() []Neighbor {
	t.mu.RLock()
	out := make([]Neighbor, 0, len(t.neighbors))
	for _, n := range t.neighbors {
		out = append(out, n)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Prune forgets neighbors not heard from within maxAge and returns how many
// were removed.
func (t *Tracker) Prune(maxAge time.Duration) int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, nb := range t.neighbors {
		if now.Sub(nb.LastHeard) > maxAge {
			delete(t.neighbors, id)
			n++
		}
	}
	return n
}
