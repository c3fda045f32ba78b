// Package sched runs tasks one at a time on a single goroutine and provides
// timers whose callbacks are posted to that goroutine.
package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
)

var ErrStopped = errors.New("sched: loop stopped")

// Loop is a cooperative task queue. Every posted task runs to completion
// before the next one starts.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	log   *zap.Logger
}

func New(queueLen int, log *zap.Logger) *Loop {
	if queueLen <= 0 {
		queueLen = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		tasks: make(chan func(), queueLen),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() { fn(); close(ran) }) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Every runs fn on the loop every d until the timer is stopped.
func (l *Loop) Every(d time.Duration, fn func()) flood.Timer {
	t := &timer{}
	tk := time.NewTicker(d)
	t.halt = tk.Stop
	go func() {
		for {
			select {
			case <-tk.C:
				if t.stopped.Load() || !l.Post(t.wrap(fn)) {
					return
				}
			case <-t.quit():
				return
			case <-l.done:
				tk.Stop()
				return
			}
		}
	}()
	return t
}

// After runs fn on the loop once, d from now.
func (l *Loop) After(d time.Duration, fn func()) flood.Timer {
	t := &timer{}
	at := time.AfterFunc(d, func() {
		if !t.stopped.Load() {
			l.Post(t.wrap(fn))
		}
	})
	t.halt = func() { at.Stop() }
	return t
}

type timer struct {
	stopped atomic.Bool
	halt    func()
	qOnce   sync.Once
	q       chan struct{}
}

func (t *timer) quit() chan struct{} {
	t.qOnce.Do(func() { t.q = make(chan struct{}) })
	return t.q
}

// Stop cancels the timer. A fire already queued on the loop is dropped.
func (t *timer) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.halt()
	close(t.quit())
}

func (t *timer) wrap(fn func()) func() {
	return func() {
		if !t.stopped.Load() {
			fn()
		}
	}
}
