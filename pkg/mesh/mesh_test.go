package mesh

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
	"github.com/ryandielhenn/lightmesh/pkg/queue"
)

func recv(t *testing.T, p Transport) (Frame, bool) {
	t.Helper()
	select {
	case f, ok := <-p.Frames():
		return f, ok
	case <-time.After(time.Second):
		return Frame{}, false
	}
}

func TestMediumDeliversToNeighborsOnly(t *testing.T) {
	m := NewMedium(0, 1)
	a, b, c := m.Attach("a", 4), m.Attach("b", 4), m.Attach("c", 4)
	m.Connect("a", "b")
	m.Connect("b", "c")

	if err := a.Broadcast([]byte("hi")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	f, ok := recv(t, b)
	if !ok || f.From != "a" || string(f.Data) != "hi" {
		t.Fatalf("b got %+v ok=%v, want hi from a", f, ok)
	}
	select {
	case f := <-c.Frames():
		t.Fatalf("c out of range but got %+v", f)
	case <-a.Frames():
		t.Fatalf("sender heard its own frame")
	default:
	}
}

func TestMediumTotalLoss(t *testing.T) {
	m := NewMedium(1, 1)
	a, b := m.Attach("a", 4), m.Attach("b", 4)
	m.Connect("a", "b")
	for i := 0; i < 10; i++ {
		_ = a.Broadcast([]byte{byte(i)})
	}
	select {
	case f := <-b.Frames():
		t.Fatalf("loss=1 still delivered %+v", f)
	default:
	}
}

func TestMediumDisconnectAndClose(t *testing.T) {
	m := NewMedium(0, 1)
	a, b := m.Attach("a", 4), m.Attach("b", 4)
	m.Connect("a", "b")
	m.Disconnect("b", "a")
	_ = a.Broadcast([]byte("x"))
	select {
	case <-b.Frames():
		t.Fatalf("frame crossed a removed link")
	default:
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	if err := b.Broadcast([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Broadcast after Close = %v, want ErrClosed", err)
	}
	if _, ok := <-b.Frames(); ok {
		t.Fatalf("Frames not closed")
	}
}

func TestMediumCopiesFrames(t *testing.T) {
	m := NewMedium(0, 1)
	a, b := m.Attach("a", 4), m.Attach("b", 4)
	m.Connect("a", "b")
	buf := []byte("abc")
	_ = a.Broadcast(buf)
	buf[0] = 'z'
	f, _ := recv(t, b)
	if string(f.Data) != "abc" {
		t.Fatalf("receiver saw sender's later write: %q", f.Data)
	}
}

func TestBeaconCodec(t *testing.T) {
	in := flood.Beacon{From: 0x0203, Rank: 768, Counter: -2, State: true}
	raw := EncodeBeacon(in)
	if len(raw) != BeaconLen {
		t.Fatalf("len = %d, want %d", len(raw), BeaconLen)
	}
	if typ, ok := (Frame{Data: raw}).Type(); !ok || typ != BeaconType {
		t.Fatalf("Type = %#x,%v want beacon", typ, ok)
	}
	out, err := DecodeBeacon(raw)
	if err != nil {
		t.Fatalf("DecodeBeacon: %v", err)
	}
	if out != in {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}

	if _, err := DecodeBeacon(raw[:5]); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("short beacon err = %v", err)
	}
	rec, _ := flood.Record{Seq: 1}.MarshalBinary()
	if _, err := DecodeBeacon(append(rec, 0, 0)); !errors.Is(err, ErrFrameType) {
		t.Fatalf("record decoded as beacon: %v", err)
	}
}

func TestLinkCompletesOnce(t *testing.T) {
	m := NewMedium(0, 1)
	a, b := m.Attach("a", 4), m.Attach("b", 4)
	m.Connect("a", "b")
	pool := queue.NewPool(1)

	buf := pool.Get(queue.OwnerLight)
	_ = buf.Fill([]byte{1, 2, 3})

	done := make(chan error, 2)
	NewLink(a).Send(buf, func(got *queue.Buffer, err error) {
		if got != buf {
			t.Errorf("done got a different buffer")
		}
		if got.Owner != queue.OwnerLink {
			t.Errorf("owner = %q, want link", got.Owner)
		}
		done <- pool.Free(got)
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Free in done: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("done never called")
	}
	f, _ := recv(t, b)
	if !bytes.Equal(f.Data, []byte{1, 2, 3}) {
		t.Fatalf("b got %v", f.Data)
	}
}

func TestLinkReportsTransportError(t *testing.T) {
	m := NewMedium(0, 1)
	a := m.Attach("a", 4)
	_ = a.Close()

	pool := queue.NewPool(1)
	buf := pool.Get(queue.OwnerLight)
	done := make(chan error, 1)
	NewLink(a).Send(buf, func(_ *queue.Buffer, err error) { done <- err })

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("done err = %v, want ErrClosed", err)
	}
}

func TestUDPTransportRoundTrip(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("ListenUDP a: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", []string{a.LocalAddr().String()}, nil)
	if err != nil {
		t.Fatalf("ListenUDP b: %v", err)
	}
	defer b.Close()

	if err := b.Broadcast([]byte("ping")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	f, ok := recv(t, a)
	if !ok || string(f.Data) != "ping" {
		t.Fatalf("a got %+v ok=%v, want ping", f, ok)
	}
	if f.From != b.LocalAddr().String() {
		t.Fatalf("From = %s, want %s", f.From, b.LocalAddr())
	}

	if err := a.SetNeighbors([]string{"not an address"}); err == nil {
		t.Fatalf("SetNeighbors accepted a bad address")
	}
}

func TestUDPTransportCloseEndsFrames(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-u.Frames(); ok {
		t.Fatalf("Frames still open after Close")
	}
	_ = u.Close()
}
