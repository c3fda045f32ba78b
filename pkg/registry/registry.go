// Package registry keeps node membership and mesh configuration in etcd.
//
// Layout:
//
//	/lightmesh/nodes/<shortid>          leased NodeInfo JSON
//	/lightmesh/config/sensor_id         short ID of the source
//	/lightmesh/config/sink_id           short ID of the sink
//	/lightmesh/links/<shortid>/<peer>   UDP address of an in-range neighbor
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	NodesPrefix  = "/lightmesh/nodes/"
	ConfigPrefix = "/lightmesh/config/"
	LinksPrefix  = "/lightmesh/links/"

	SensorIDKey = ConfigPrefix + "sensor_id"
	SinkIDKey   = ConfigPrefix + "sink_id"
)

var ErrNoRoleConfig = errors.New("registry: sensor_id/sink_id not set")

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// NodeInfo is the value stored under a node's membership key.
type NodeInfo struct {
	ID   uint16 `json:"id"`
	Addr string `json:"addr"`
	UDP  string `json:"udp"`
	HTTP string `json:"http"`
	Rank uint16 `json:"rank"`
}

func NodeKey(id uint16) string { return fmt.Sprintf("%s%04x", NodesPrefix, id) }

func linksKey(id uint16) string { return fmt.Sprintf("%s%04x/", LinksPrefix, id) }

// RegisterNode writes info under a lease of ttl seconds and keeps the lease
// alive until the returned cancel is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, info NodeInfo, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	val, err := json.Marshal(info)
	if err != nil {
		return 0, nil, err
	}
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, NodeKey(info.ID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", NodeKey(info.ID), err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// ListNodes returns every registered node keyed by short ID.
func ListNodes(ctx context.Context, kv clientv3.KV) (map[uint16]NodeInfo, error) {
	resp, err := kv.Get(ctx, NodesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]NodeInfo, len(resp.Kvs))
	for _, item := range resp.Kvs {
		var ni NodeInfo
		if err := json.Unmarshal(item.Value, &ni); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key, err)
		}
		out[ni.ID] = ni
	}
	return out, nil
}

// LoadRoleIDs reads the sensor and sink short IDs. It returns
// ErrNoRoleConfig when either key is missing.
func LoadRoleIDs(ctx context.Context, kv clientv3.KV) (sensorID, sinkID uint16, err error) {
	resp, err := kv.Get(ctx, ConfigPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, 0, err
	}
	var haveSensor, haveSink bool
	for _, item := range resp.Kvs {
		v, perr := strconv.ParseUint(strings.TrimSpace(string(item.Value)), 0, 16)
		switch string(item.Key) {
		case SensorIDKey:
			if perr != nil {
				return 0, 0, fmt.Errorf("%s: %w", SensorIDKey, perr)
			}
			sensorID, haveSensor = uint16(v), true
		case SinkIDKey:
			if perr != nil {
				return 0, 0, fmt.Errorf("%s: %w", SinkIDKey, perr)
			}
			sinkID, haveSink = uint16(v), true
		}
	}
	if !haveSensor || !haveSink {
		return 0, 0, ErrNoRoleConfig
	}
	return sensorID, sinkID, nil
}

// Neighbors is a node's configured link set at an etcd revision.
type Neighbors struct {
	Peers map[string]string // peer short ID -> UDP address
	Rev   int64
}

// Addrs returns the neighbor addresses in peer order.
func (n Neighbors) Addrs() []string {
	ids := make([]string, 0, len(n.Peers))
	for id := range n.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.Peers[id])
	}
	return out
}

func GetNeighbors(ctx context.Context, kv clientv3.KV, self uint16) (Neighbors, error) {
	prefix := linksKey(self)
	resp, err := kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return Neighbors{}, err
	}
	n := Neighbors{Peers: make(map[string]string, len(resp.Kvs))}
	if resp.Header != nil {
		n.Rev = resp.Header.Revision
	}
	for _, item := range resp.Kvs {
		n.Peers[strings.TrimPrefix(string(item.Key), prefix)] = string(item.Value)
	}
	return n, nil
}

// WatchNeighbors applies link changes after from.Rev and calls fn with the
// updated set after every watch response that changed it. It blocks until
// ctx is done.
func WatchNeighbors(ctx context.Context, w clientv3.Watcher, self uint16, from Neighbors, log *zap.Logger, fn func(Neighbors)) error {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := linksKey(self)
	cur := Neighbors{Peers: make(map[string]string, len(from.Peers)), Rev: from.Rev}
	for k, v := range from.Peers {
		cur.Peers[k] = v
	}

	wch := w.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(from.Rev+1))
	for resp := range wch {
		if err := resp.Err(); err != nil {
			log.Warn("watch neighbors", zap.Error(err))
			continue
		}
		if applyEvents(cur.Peers, prefix, resp.Events) {
			cur.Rev = resp.Header.Revision
			fn(cur)
		}
	}
	return ctx.Err()
}

func applyEvents(peers map[string]string, prefix string, evs []*clientv3.Event) bool {
	changed := false
	for _, ev := range evs {
		id := strings.TrimPrefix(string(ev.Kv.Key), prefix)
		switch ev.Type {
		case mvccpb.PUT:
			if peers[id] != string(ev.Kv.Value) {
				peers[id] = string(ev.Kv.Value)
				changed = true
			}
		case mvccpb.DELETE:
			if _, ok := peers[id]; ok {
				delete(peers, id)
				changed = true
			}
		}
	}
	return changed
}
