package mesh

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

const maxFrame = 256

// UDPTransport emulates a one-hop broadcast over UDP: Broadcast writes the
// frame to each configured neighbor address. Frames from addresses that are
// not neighbors are still delivered; range is decided by the sender.
type UDPTransport struct {
	conn   net.PacketConn
	frames chan Frame
	log    *zap.Logger

	mu        sync.RWMutex
	neighbors []net.Addr

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func ListenUDP(addr string, neighbors []string, log *zap.Logger) (*UDPTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	u := &UDPTransport{
		conn:   conn,
		frames: make(chan Frame, 128),
		log:    log,
	}
	if err := u.SetNeighbors(neighbors); err != nil {
		conn.Close()
		return nil, err
	}
	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

func (u *UDPTransport) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// SetNeighbors replaces the set of addresses Broadcast writes to.
func (u *UDPTransport) SetNeighbors(addrs []string) error {
	resolved := make([]net.Addr, 0, len(addrs))
	for _, a := range addrs {
		ua, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return fmt.Errorf("resolve neighbor %s: %w", a, err)
		}
		resolved = append(resolved, ua)
	}
	u.mu.Lock()
	u.neighbors = resolved
	u.mu.Unlock()
	return nil
}

func (u *UDPTransport) Broadcast(frame []byte) error {
	u.mu.RLock()
	nbrs := u.neighbors
	u.mu.RUnlock()

	var errs []error
	for _, n := range nbrs {
		if _, err := u.conn.WriteTo(frame, n); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (u *UDPTransport) Frames() <-chan Frame { return u.frames }

func (u *UDPTransport) Close() error {
	var err error
	u.closeOnce.Do(func() {
		err = u.conn.Close()
		u.wg.Wait()
		close(u.frames)
	})
	return err
}

func (u *UDPTransport) readLoop() {
	defer u.wg.Done()
	buf := make([]byte, maxFrame)
	for {
		n, from, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warn("udp read", zap.Error(err))
			continue
		}
		f := Frame{From: from.String(), Data: append([]byte(nil), buf[:n]...)}
		select {
		case u.frames <- f:
		default:
			u.log.Warn("rx queue full, frame dropped", zap.String("from", f.From))
		}
	}
}
