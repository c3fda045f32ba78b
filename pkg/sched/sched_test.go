package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v", got)
		}
	}
	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
}

func TestAfterFiresOnce(t *testing.T) {
	l := startLoop(t)
	var n atomic.Int32
	l.After(5*time.Millisecond, func() { n.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("After fired %d times, want 1", n.Load())
	}
}

func TestEveryStopsFromInsideCallback(t *testing.T) {
	l := startLoop(t)

	var n int
	var tm interface{ Stop() }
	done := make(chan struct{})
	_ = l.Call(context.Background(), func() {
		tm = l.Every(2*time.Millisecond, func() {
			n++
			if n == 3 {
				tm.Stop()
				close(done)
			}
		})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic timer never reached 3 fires")
	}
	time.Sleep(20 * time.Millisecond)
	var final int
	_ = l.Call(context.Background(), func() { final = n })
	if final != 3 {
		t.Fatalf("timer fired %d times after Stop, want 3", final)
	}
}

func TestStoppedTimerDoesNotFire(t *testing.T) {
	l := startLoop(t)
	var n atomic.Int32
	tm := l.After(20*time.Millisecond, func() { n.Add(1) })
	tm.Stop()
	tm.Stop()
	time.Sleep(60 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("stopped timer fired")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Call(context.Background(), func() { ran = true }); err != nil || !ran {
		t.Fatalf("loop dead after panic: err=%v ran=%v", err, ran)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { l.Run(ctx); close(stopped) }()
	cancel()
	<-stopped

	if l.Post(func() {}) {
		t.Fatalf("Post succeeded on a stopped loop")
	}
	if err := l.Call(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("Call on stopped loop = %v, want ErrStopped", err)
	}
}
