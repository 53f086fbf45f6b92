package gateway

import (
	"sync"
	"time"
)

// publishPathStats accumulates latency and error counts for one of the
// gateway's two outbound publish paths.
type publishPathStats struct {
	Count        uint64
	Errors       uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
}

func (s *publishPathStats) observe(d time.Duration, err error) {
	s.Count++
	if err != nil {
		s.Errors++
	}
	s.TotalLatency += d
	if d > s.MaxLatency {
		s.MaxLatency = d
	}
}

func (s publishPathStats) avgLatency() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Count)
}

// publishTiming tracks the two publish paths §4.6 actually has: the
// inline attempt made from Handle's publish task, and the retry
// attempt made from the background drainer. There is no general metric
// registry here — only these two named paths ever get timed.
type publishTiming struct {
	mu     sync.Mutex
	direct publishPathStats
	drain  publishPathStats
}

// observeDirect records one inline publish attempt's outcome.
func (t *publishTiming) observeDirect(d time.Duration, err error) {
	t.mu.Lock()
	t.direct.observe(d, err)
	t.mu.Unlock()
}

// observeDrain records one drain-loop publish attempt's outcome.
func (t *publishTiming) observeDrain(d time.Duration, err error) {
	t.mu.Lock()
	t.drain.observe(d, err)
	t.mu.Unlock()
}

// snapshot returns a copy of both paths' accumulated stats.
func (t *publishTiming) snapshot() (direct, drain publishPathStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.direct, t.drain
}
