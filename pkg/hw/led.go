package hw

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// LED drives an on/off output through a brightness file, e.g.
// /sys/class/leds/<name>/brightness. Write errors are logged, not returned:
// a missing LED must never stall the flood.
type LED struct {
	Path string
	Log  *zap.Logger

	mu   sync.Mutex
	last *bool
}

func (l *LED) Set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last != nil && *l.last == on {
		return
	}
	v := []byte("0\n")
	if on {
		v = []byte("1\n")
	}
	if err := os.WriteFile(l.Path, v, 0o644); err != nil {
		if l.Log != nil {
			l.Log.Warn("led write", zap.String("path", l.Path), zap.Error(err))
		}
		return
	}
	l.last = &on
}
