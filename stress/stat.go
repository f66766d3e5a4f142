package stress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-spin/spinlock/logger"
)

// stat tracks how many sections the workers have entered and, when an
// interval is set, dumps progress through the package logger until stopped.
type stat struct {
	protocol  string
	performed int64
	done      chan struct{}
}

func newStat(protocol string, interval time.Duration) *stat {
	s := &stat{
		protocol: protocol,
		done:     make(chan struct{}),
	}
	if interval > 0 {
		go s.loop(interval)
	}
	return s
}

func (s *stat) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			total := atomic.LoadInt64(&s.performed)
			delta := total - last
			if delta == 0 {
				continue
			}
			last = total
			fields := map[string]interface{}{
				"protocol": s.protocol,
				"sections": total,
				"delta":    delta,
			}
			logger.Log(context.TODO(), logger.DebugLevel, fields, "stress progress")
		}
	}
}

func (s *stat) add(n int64) {
	atomic.AddInt64(&s.performed, n)
}

func (s *stat) total() int64 {
	return atomic.LoadInt64(&s.performed)
}

func (s *stat) stop() {
	close(s.done)
}
