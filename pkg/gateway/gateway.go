// Package gateway wires the config validator, rate limiter, priority
// queue, formatter, and broker client into the uplink pipeline (C6):
// ingest a mesh message, filter it, format it, rate-limit it, publish
// or enqueue it, and drain the retry queue in the background. It plays
// the role the teacher's autonomyd controller plays for its own
// domain — a single owning task wiring leaf components together,
// exposing initialize/start/stop and a health snapshot to its host.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zephyrgate/mqtt-gateway/pkg/broker"
	"github.com/zephyrgate/mqtt-gateway/pkg/format"
	"github.com/zephyrgate/mqtt-gateway/pkg/gwconfig"
	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
	"github.com/zephyrgate/mqtt-gateway/pkg/mesh"
	"github.com/zephyrgate/mqtt-gateway/pkg/pqueue"
	"github.com/zephyrgate/mqtt-gateway/pkg/ratelimit"
)

const (
	publishQoS     = 0
	drainInterval  = time.Second
	queueAuditPath = "/var/lib/zephyrgate/queue-audit.db"
)

// Statistics holds the gateway's monotonic counters (§3). The counter
// fields are accessed only via atomic operations; lastPublishTime is
// guarded by lastPublishMu.
type Statistics struct {
	MessagesReceived   uint64
	MessagesPublished  uint64
	MessagesQueued     uint64
	MessagesDropped    uint64
	PublishErrors      uint64
	MQTTPublishErrors  uint64

	lastPublishMu   sync.Mutex
	lastPublishTime time.Time
}

func (s *Statistics) recordPublish() {
	atomic.AddUint64(&s.MessagesPublished, 1)
	s.lastPublishMu.Lock()
	s.lastPublishTime = time.Now()
	s.lastPublishMu.Unlock()
}

func (s *Statistics) lastPublish() time.Time {
	s.lastPublishMu.Lock()
	defer s.lastPublishMu.Unlock()
	return s.lastPublishTime
}

// Gateway is the uplink pipeline's single owning object.
type Gateway struct {
	settings gwconfig.Settings
	logger   *logx.Logger

	limiter *ratelimit.Limiter
	queue   *pqueue.Queue
	client  *broker.Client
	timing  publishTiming
	audit   *pqueue.AuditStore

	stats Statistics

	initialized atomic.Bool
	running     atomic.Bool

	drainCancel context.CancelFunc
	drainDone   chan struct{}
}

// New validates raw against gwconfig.Validate and constructs a Gateway.
// Construction does not open any network connection; call Start for
// that. A validation failure is a ConfigurationError: initialize()
// does not proceed and the caller must not call Start.
func New(raw map[string]interface{}, logger *logx.Logger) (*Gateway, error) {
	settings, err := gwconfig.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("gateway: configuration invalid: %w", err)
	}

	g := &Gateway{
		settings: settings,
		logger:   logger,
	}

	if !settings.Enabled {
		g.initialized.Store(true)
		return g, nil
	}

	g.limiter = ratelimit.New(float64(settings.MaxMessagesPerSecond), settings.BurstMultiplier, logger)
	g.queue = pqueue.New(settings.QueueMaxSize, logger)

	if settings.QueuePersist {
		audit, err := pqueue.OpenAuditStore(queueAuditPath, logger)
		if err != nil {
			logger.Error("failed to open queue audit store, continuing without drop persistence", "error", err)
		} else {
			g.audit = audit
			g.queue.WithAuditSink(audit.Sink)
		}
	}

	g.client = broker.New(broker.Config{
		BrokerAddress:                settings.BrokerAddress,
		BrokerPort:                   settings.BrokerPort,
		Username:                     settings.Username,
		Password:                     settings.Password,
		TLSEnabled:                   settings.TLSEnabled,
		CACert:                       settings.CACert,
		ClientCert:                   settings.ClientCert,
		ClientKey:                    settings.ClientKey,
		HostnameVerificationDisabled: settings.HostnameVerificationDisabled(),
		ReconnectEnabled:             settings.ReconnectEnabled,
		ReconnectInitialDelay:        settings.ReconnectInitialDelay,
		ReconnectMaxDelay:            settings.ReconnectMaxDelay,
		ReconnectMultiplier:          settings.ReconnectMultiplier,
		MaxReconnectAttempts:         settings.MaxReconnectAttempts,
	}, logger)

	g.initialized.Store(true)
	return g, nil
}

// Start connects the broker client and spawns the background drainer.
// If the initial connect fails, a reconnect task is spawned and the
// drainer still starts (it no-ops while disconnected).
func (g *Gateway) Start(ctx context.Context) error {
	if !g.settings.Enabled {
		g.logger.Info("gateway disabled by configuration, start is a no-op")
		return nil
	}

	if err := g.client.Connect(ctx); err != nil {
		g.logger.Warn("initial broker connect failed, will retry in background", "error", err)
		go func() {
			if rErr := g.client.Reconnect(context.Background()); rErr != nil {
				g.logger.Error("background reconnect loop exited", "error", rErr)
			}
		}()
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	g.drainCancel = cancel
	g.drainDone = make(chan struct{})
	go g.drainLoop(drainCtx)

	g.running.Store(true)
	return nil
}

// Stop cancels the drainer, disconnects the broker, and clears the
// queue (logging the count lost). Idempotent.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	if !g.settings.Enabled {
		return nil
	}

	if g.drainCancel != nil {
		g.drainCancel()
		<-g.drainDone
	}

	if err := g.client.Disconnect(ctx); err != nil {
		g.logger.Error("error disconnecting broker during stop", "error", err)
	}

	lost := g.queue.Clear()
	if lost > 0 {
		g.logger.Warn("queue cleared on stop", "items_lost", lost)
	}

	if g.audit != nil {
		if err := g.audit.Close(); err != nil {
			g.logger.Error("error closing queue audit store", "error", err)
		}
	}

	return nil
}

// Handle ingests a mesh message (the `on_mesh_message` upstream
// interface). It returns immediately; publication happens on a
// detached goroutine exactly as the spec's "mesh receiver returns
// immediately" requires.
func (g *Gateway) Handle(m mesh.Message) {
	atomic.AddUint64(&g.stats.MessagesReceived, 1)

	if !g.settings.Enabled || !g.initialized.Load() {
		return
	}

	channel := fmt.Sprintf("%d", m.Channel)
	if !g.settings.UplinkEnabled(channel) {
		return
	}
	if !g.settings.MessageTypeAllowed(channel, gwconfig.MessageType(m.MessageType)) {
		return
	}

	go g.publish(m)
}

// publish is the publication task described in §4.6: format, rate
// limit, then publish-or-enqueue.
func (g *Gateway) publish(m mesh.Message) {
	topic, payload, qos, err := g.render(m)
	if err != nil {
		g.logger.Error("message formatting failed, dropping", "message_id", m.ID, "error", err)
		atomic.AddUint64(&g.stats.PublishErrors, 1)
		return
	}

	ctx := context.Background()
	if err := g.limiter.Acquire(ctx); err != nil {
		// Fail-open: rate-limiter errors never block publication.
		g.logger.Error("rate limiter error, proceeding without throttling", "error", err)
	}

	priority := toPQueuePriority(m.Priority)

	if g.client.IsConnected() {
		start := time.Now()
		outcome, pubErr := g.client.Publish(ctx, topic, payload, qos, false)
		g.timing.observeDirect(time.Since(start), pubErr)
		if outcome == broker.PublishOK {
			g.stats.recordPublish()
			if g.settings.LogPublishedMessages {
				g.logger.Info("published message", "message_id", m.ID, "topic", topic,
					"message_type", string(m.MessageType), "sender_id", m.SenderID, "size", len(payload))
			}
			return
		}
		g.logger.Warn("publish failed, enqueueing for retry", "message_id", m.ID, "error", pubErr)
		g.enqueue(m, topic, payload, qos, priority)
		return
	}

	g.enqueue(m, topic, payload, qos, priority)
}

func (g *Gateway) enqueue(m mesh.Message, topic string, payload []byte, qos byte, priority pqueue.Priority) {
	item := pqueue.Item{
		Payload: &queuedItem{
			message: m,
			topic:   topic,
			payload: payload,
			qos:     qos,
		},
		Priority: priority,
	}
	if g.queue.Enqueue(item) {
		atomic.AddUint64(&g.stats.MessagesQueued, 1)
		return
	}
	atomic.AddUint64(&g.stats.MessagesDropped, 1)
	g.logger.Error("enqueue failed, message dropped", "message_id", m.ID)
}

// render computes topic and payload via the formatter, matching the
// two format modes C4 exposes.
func (g *Gateway) render(m mesh.Message) (topic string, payload []byte, qos byte, err error) {
	channel := m.Channel
	topic = format.Topic(g.settings.RootTopic, g.settings.EncryptionEnabled, channel, m.SenderID)

	if g.settings.Format == "protobuf" {
		payload, err = format.Protobuf(m, channel, g.settings.EncryptionEnabled, g.logger)
	} else {
		payload, err = format.JSON(m, channel)
	}
	return topic, payload, publishQoS, err
}

// queuedItem is the payload pqueue.Item carries for this gateway,
// corresponding to the spec's QueuedItem tuple (mesh_message, topic,
// payload, qos are kept; enqueued_at/priority live on pqueue.Item
// itself; retries is tracked here).
type queuedItem struct {
	message mesh.Message
	topic   string
	payload []byte
	qos     byte
	retries int
}

const maxRetries = 3

// drainLoop is the background drainer (§4.6): every ~1s, while
// connected and the queue is non-empty, dequeue highest-priority-first
// and attempt to publish, re-enqueueing on failure up to max_retries.
func (g *Gateway) drainLoop(ctx context.Context) {
	defer close(g.drainDone)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.drainOnce(ctx)
		}
	}
}

func (g *Gateway) drainOnce(ctx context.Context) {
	for g.client.IsConnected() {
		item, ok := g.queue.Dequeue()
		if !ok {
			return
		}
		qi, ok := item.Payload.(*queuedItem)
		if !ok {
			continue
		}

		if err := g.limiter.Acquire(ctx); err != nil {
			g.logger.Error("rate limiter error during drain, proceeding", "error", err)
		}

		start := time.Now()
		outcome, pubErr := g.client.Publish(ctx, qi.topic, qi.payload, qi.qos, false)
		g.timing.observeDrain(time.Since(start), pubErr)
		if outcome == broker.PublishOK {
			g.stats.recordPublish()
			if g.settings.LogPublishedMessages {
				g.logger.Info("published queued message", "message_id", qi.message.ID, "topic", qi.topic)
			}
			continue
		}

		qi.retries++
		if qi.retries < maxRetries {
			g.queue.Enqueue(pqueue.Item{Payload: qi, Priority: item.Priority, EnqueuedAt: item.EnqueuedAt})
			g.logger.Warn("drain publish failed, re-enqueued", "message_id", qi.message.ID,
				"retries", qi.retries, "error", pubErr)
		} else {
			atomic.AddUint64(&g.stats.MessagesDropped, 1)
			g.logger.Error("drain publish failed, max retries exceeded, dropping",
				"message_id", qi.message.ID, "error", pubErr)
		}
	}
}

func toPQueuePriority(p mesh.Priority) pqueue.Priority {
	switch p {
	case mesh.PriorityEmergency:
		return pqueue.Emergency
	case mesh.PriorityHigh:
		return pqueue.High
	case mesh.PriorityLow:
		return pqueue.Low
	default:
		return pqueue.Normal
	}
}
