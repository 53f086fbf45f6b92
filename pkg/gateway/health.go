package gateway

import (
	"math"
	"sync/atomic"
	"time"
)

// HealthSnapshot is the §6 get_health_status() shape, including the
// nested rate_limit object with the exact rounding plugin.py applies.
type HealthSnapshot struct {
	Healthy            bool
	Enabled            bool
	Initialized        bool
	Connected          bool
	ConnectionCount    uint64
	DisconnectionCount uint64
	ReconnectionCount  uint64
	LastConnectTime    time.Time
	LastDisconnectTime time.Time
	MessagesReceived   uint64
	MessagesPublished  uint64
	MessagesQueued     uint64
	MessagesDropped    uint64
	LastPublishTime    time.Time
	PublishErrors      uint64
	MQTTPublishErrors  uint64
	QueueSize          int
	QueueMaxSize       int
	QueueUtilizationPct float64

	RateLimit RateLimitHealth
	Publish   PublishTimingHealth
}

// PublishTimingHealth reports latency and error counts for the
// gateway's two outbound publish paths (direct and drained).
type PublishTimingHealth struct {
	DirectCount      uint64
	DirectErrors     uint64
	DirectAvgLatency time.Duration
	DirectMaxLatency time.Duration
	DrainCount       uint64
	DrainErrors      uint64
	DrainAvgLatency  time.Duration
	DrainMaxLatency  time.Duration
}

// RateLimitHealth is the nested rate_limit object.
type RateLimitHealth struct {
	MaxMessagesPerSecond float64
	BurstCapacity        float64
	CurrentTokens        float64
	MessagesAllowed      uint64
	MessagesDelayed      uint64
	TotalWaitTime        float64
	MaxWaitTime          float64
	AvgWaitTime          float64
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round3(f float64) float64 { return math.Round(f*1000) / 1000 }

// Health returns a point-in-time snapshot for the upstream
// get_health_status() interface.
func (g *Gateway) Health() HealthSnapshot {
	enabled := g.settings.Enabled
	initialized := g.initialized.Load()

	if !enabled {
		return HealthSnapshot{
			Healthy:          false,
			Enabled:          false,
			Initialized:      initialized,
			MessagesReceived: atomic.LoadUint64(&g.stats.MessagesReceived),
		}
	}

	connStats := g.client.Stats()
	queueSize := g.queue.Size()
	queueMax := g.queue.MaxSize()

	var utilization float64
	if queueMax > 0 {
		utilization = round2(float64(queueSize) / float64(queueMax) * 100)
	}

	rl := g.limiter.Snapshot()
	direct, drain := g.timing.snapshot()

	connected := g.client.IsConnected()

	return HealthSnapshot{
		Healthy:             enabled && initialized && connected,
		Enabled:             enabled,
		Initialized:         initialized,
		Connected:           connected,
		ConnectionCount:     connStats.ConnectionCount,
		DisconnectionCount:  connStats.DisconnectionCount,
		ReconnectionCount:   connStats.ReconnectionCount,
		LastConnectTime:     connStats.LastConnectTime,
		LastDisconnectTime:  connStats.LastDisconnectTime,
		MessagesReceived:    atomic.LoadUint64(&g.stats.MessagesReceived),
		MessagesPublished:   atomic.LoadUint64(&g.stats.MessagesPublished),
		MessagesQueued:      atomic.LoadUint64(&g.stats.MessagesQueued),
		MessagesDropped:     atomic.LoadUint64(&g.stats.MessagesDropped),
		LastPublishTime:     g.stats.lastPublish(),
		PublishErrors:       atomic.LoadUint64(&g.stats.PublishErrors),
		MQTTPublishErrors:   connStats.PublishErrors,
		QueueSize:           queueSize,
		QueueMaxSize:        queueMax,
		QueueUtilizationPct: utilization,
		RateLimit: RateLimitHealth{
			MaxMessagesPerSecond: rl.MaxMessagesPerSecond,
			BurstCapacity:        rl.BurstCapacity,
			CurrentTokens:        round2(rl.CurrentTokens),
			MessagesAllowed:      rl.MessagesAllowed,
			MessagesDelayed:      rl.MessagesDelayed,
			TotalWaitTime:        round3(rl.TotalWaitTime),
			MaxWaitTime:          round3(rl.MaxWaitTime),
			AvgWaitTime:          round3(rl.AvgWaitTime),
		},
		Publish: PublishTimingHealth{
			DirectCount:      direct.Count,
			DirectErrors:     direct.Errors,
			DirectAvgLatency: direct.avgLatency(),
			DirectMaxLatency: direct.MaxLatency,
			DrainCount:       drain.Count,
			DrainErrors:      drain.Errors,
			DrainAvgLatency:  drain.avgLatency(),
			DrainMaxLatency:  drain.MaxLatency,
		},
	}
}
