// Package httpapi exposes the gateway's health snapshot and Prometheus
// metrics over HTTP, adapted from the teacher's pkg/api/autonomy_server.go
// (an optional, auth-key-gated status server) to this gateway's single
// health-snapshot surface instead of autonomyd's controller/telemetry
// set.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrgate/mqtt-gateway/pkg/gateway"
	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

// Config controls whether and how the status server runs.
type Config struct {
	Enabled bool
	Host    string
	Port    int
	AuthKey string // when non-empty, required as the X-Auth-Key header
}

// Server serves /health (the gateway's HealthSnapshot, JSON-encoded)
// and /metrics (Prometheus text exposition).
type Server struct {
	cfg    Config
	gw     *gateway.Gateway
	logger *logx.Logger
	srv    *http.Server
}

// New constructs a Server. It does not start listening until Start.
func New(cfg Config, gw *gateway.Gateway, logger *logx.Logger) *Server {
	return &Server{cfg: cfg, gw: gw, logger: logger}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.cfg.AuthKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Key") != s.cfg.AuthKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.gw.Health()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthJSON(h)); err != nil {
		s.logger.Error("failed to encode health snapshot", "error", err)
	}
}

// healthJSON mirrors the §6 health snapshot key set exactly.
func healthJSON(h gateway.HealthSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"healthy":                    h.Healthy,
		"enabled":                    h.Enabled,
		"initialized":                h.Initialized,
		"connected":                  h.Connected,
		"connection_count":           h.ConnectionCount,
		"disconnection_count":        h.DisconnectionCount,
		"reconnection_count":         h.ReconnectionCount,
		"last_connect_time":          unixOrNil(h.LastConnectTime),
		"last_disconnect_time":       unixOrNil(h.LastDisconnectTime),
		"messages_received":          h.MessagesReceived,
		"messages_published":        h.MessagesPublished,
		"messages_queued":            h.MessagesQueued,
		"messages_dropped":           h.MessagesDropped,
		"last_publish_time":          unixOrNil(h.LastPublishTime),
		"publish_errors":             h.PublishErrors,
		"mqtt_publish_errors":        h.MQTTPublishErrors,
		"queue_size":                 h.QueueSize,
		"queue_max_size":             h.QueueMaxSize,
		"queue_utilization_percent":  h.QueueUtilizationPct,
		"rate_limit": map[string]interface{}{
			"max_messages_per_second": h.RateLimit.MaxMessagesPerSecond,
			"burst_capacity":          h.RateLimit.BurstCapacity,
			"current_tokens":          h.RateLimit.CurrentTokens,
			"messages_allowed":        h.RateLimit.MessagesAllowed,
			"messages_delayed":        h.RateLimit.MessagesDelayed,
			"total_wait_time":         h.RateLimit.TotalWaitTime,
			"max_wait_time":           h.RateLimit.MaxWaitTime,
			"avg_wait_time":           h.RateLimit.AvgWaitTime,
		},
	}
}

func unixOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// Start begins serving in the background if cfg.Enabled; otherwise a
// no-op.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/health", s.authMiddleware(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", s.authMiddleware(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              addr(s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server exited unexpectedly", "error", err)
		}
	}()
	s.logger.Info("status server listening", "addr", s.srv.Addr)
	return nil
}

// Stop gracefully shuts the server down if it was started.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func addr(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(port)
}
