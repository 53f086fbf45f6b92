// Package metrics exposes the gateway's Statistics and health snapshot
// as Prometheus gauges/counters, in the style of the teacher's metrics
// server (collector/metrics wiring across pkg/collector, pkg/telem):
// a periodic refresh of gauge values from a snapshot function rather
// than incrementing counters inline at each call site, since the
// gateway already owns its own atomic counters.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zephyrgate/mqtt-gateway/pkg/gateway"
	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

// Collector periodically samples a Gateway's health snapshot into a
// registered set of Prometheus metrics.
type Collector struct {
	gw     *gateway.Gateway
	logger *logx.Logger

	messagesReceived  prometheus.Gauge
	messagesPublished prometheus.Gauge
	messagesQueued    prometheus.Gauge
	messagesDropped   prometheus.Gauge
	publishErrors     prometheus.Gauge
	queueSize         prometheus.Gauge
	queueUtilization  prometheus.Gauge
	connected         prometheus.Gauge
	reconnections     prometheus.Gauge
	rateTokens        prometheus.Gauge
	rateDelayed       prometheus.Gauge
}

// NewCollector builds and registers the gateway's metrics under reg.
func NewCollector(reg prometheus.Registerer, gw *gateway.Gateway, logger *logx.Logger) *Collector {
	c := &Collector{
		gw:     gw,
		logger: logger,
		messagesReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "messages_received_total",
			Help: "Total mesh messages handed to the gateway.",
		}),
		messagesPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "messages_published_total",
			Help: "Total messages successfully published to the broker.",
		}),
		messagesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "messages_queued_total",
			Help: "Total messages enqueued for retry.",
		}),
		messagesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "messages_dropped_total",
			Help: "Total messages dropped by the gateway (enqueue refused or retry exhaustion).",
		}),
		publishErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "publish_errors_total",
			Help: "Total messages discarded because formatting failed.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "queue_size",
			Help: "Current retry queue depth.",
		}),
		queueUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "queue_utilization_percent",
			Help: "Retry queue depth as a percentage of queue_max_size.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "broker_connected",
			Help: "1 if the broker connection is currently Connected, else 0.",
		}),
		reconnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "reconnections_total",
			Help: "Total successful reconnections.",
		}),
		rateTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "rate_limiter_current_tokens",
			Help: "Current token count in the rate limiter bucket.",
		}),
		rateDelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyrgate", Subsystem: "mqtt_gateway", Name: "rate_limiter_messages_delayed_total",
			Help: "Total acquires that had to wait for a token.",
		}),
	}

	reg.MustRegister(
		c.messagesReceived, c.messagesPublished, c.messagesQueued, c.messagesDropped,
		c.publishErrors, c.queueSize, c.queueUtilization, c.connected, c.reconnections,
		c.rateTokens, c.rateDelayed,
	)
	return c
}

// Run samples the gateway's health snapshot into the registered
// gauges every interval, until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	h := c.gw.Health()

	c.messagesReceived.Set(float64(h.MessagesReceived))
	c.messagesPublished.Set(float64(h.MessagesPublished))
	c.messagesQueued.Set(float64(h.MessagesQueued))
	c.messagesDropped.Set(float64(h.MessagesDropped))
	c.publishErrors.Set(float64(h.PublishErrors))
	c.queueSize.Set(float64(h.QueueSize))
	c.queueUtilization.Set(h.QueueUtilizationPct)
	c.reconnections.Set(float64(h.ReconnectionCount))
	c.rateTokens.Set(h.RateLimit.CurrentTokens)
	c.rateDelayed.Set(float64(h.RateLimit.MessagesDelayed))

	if h.Connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}
