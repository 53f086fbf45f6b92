package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestPublishTimingTracksDirectAndDrainSeparately(t *testing.T) {
	var pt publishTiming
	pt.observeDirect(10*time.Millisecond, nil)
	pt.observeDirect(20*time.Millisecond, errors.New("boom"))
	pt.observeDrain(5*time.Millisecond, nil)

	direct, drain := pt.snapshot()

	if direct.Count != 2 {
		t.Errorf("direct.Count = %d, want 2", direct.Count)
	}
	if direct.Errors != 1 {
		t.Errorf("direct.Errors = %d, want 1", direct.Errors)
	}
	if direct.MaxLatency != 20*time.Millisecond {
		t.Errorf("direct.MaxLatency = %v, want 20ms", direct.MaxLatency)
	}
	if want := 15 * time.Millisecond; direct.avgLatency() != want {
		t.Errorf("direct.avgLatency() = %v, want %v", direct.avgLatency(), want)
	}

	if drain.Count != 1 || drain.Errors != 0 {
		t.Errorf("drain = %+v, want Count=1 Errors=0", drain)
	}
}

func TestPublishPathStatsAvgLatencyZeroWhenEmpty(t *testing.T) {
	var s publishPathStats
	if got := s.avgLatency(); got != 0 {
		t.Errorf("avgLatency() on empty stats = %v, want 0", got)
	}
}
