package publish

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATS publishes sink state to a subject. nats.Conn buffers outgoing
// messages, so PublishState never blocks on the network.
type NATS struct {
	conn    Conn
	subject string
	node    uint16
}

// DialNATS connects to url and returns the publisher with its connection.
func DialNATS(url, name, subject string, node uint16) (*NATS, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return NewNATS(nc, subject, node), nc, nil
}

func NewNATS(c Conn, subject string, node uint16) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: c, subject: subject, node: node}
}

func (n *NATS) PublishState(state bool, seq uint16) error {
	b, err := encode(n.node, state, seq, time.Now())
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, b)
}
