package mesh

import (
	"github.com/ryandielhenn/lightmesh/pkg/queue"
)

// Link adapts a Transport to the flood send primitive.
type Link struct {
	t Transport
}

func NewLink(t Transport) *Link {
	return &Link{t: t}
}

// Send broadcasts the buffer contents in the background and reports the
// outcome through done exactly once. The buffer stays untouched until done.
func (l *Link) Send(buf *queue.Buffer, done func(*queue.Buffer, error)) {
	buf.Owner = queue.OwnerLink
	frame := append([]byte(nil), buf.Bytes()...)
	go func() {
		done(buf, l.t.Broadcast(frame))
	}()
}
