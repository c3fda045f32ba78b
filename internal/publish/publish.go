// Package publish forwards the state the sink settles on to a message
// broker, so the result of the flood is visible outside the mesh.
package publish

import (
	"encoding/json"
	"time"
)

const (
	DefaultTopic   = "lightmesh/sink/state"
	DefaultSubject = "lightmesh.sink.state"
)

// StateMessage is the JSON body published for each sink update.
type StateMessage struct {
	Node  uint16 `json:"node"`
	State bool   `json:"state"`
	Seq   uint16 `json:"seq"`
	TS    int64  `json:"ts"`
}

func encode(node uint16, state bool, seq uint16, now time.Time) ([]byte, error) {
	return json.Marshal(StateMessage{Node: node, State: state, Seq: seq, TS: now.UnixMilli()})
}
