package gateway

import (
	"testing"

	"github.com/zephyrgate/mqtt-gateway/pkg/mesh"
)

func TestHealthWhenDisabled(t *testing.T) {
	g, _ := New(map[string]interface{}{}, testLogger())
	h := g.Health()
	if h.Healthy {
		t.Error("expected Healthy=false for a disabled gateway")
	}
	if h.Enabled {
		t.Error("expected Enabled=false")
	}
}

func TestHealthReportsMessagesReceivedEvenWhenDisabled(t *testing.T) {
	g, _ := New(map[string]interface{}{}, testLogger())
	g.Handle(mesh.Message{ID: "m1", SenderID: "!deadbeef", MessageType: mesh.Text})
	g.Handle(mesh.Message{ID: "m2", SenderID: "!deadbeef", MessageType: mesh.Text})

	h := g.Health()
	if h.Enabled {
		t.Fatal("expected Enabled=false")
	}
	if h.MessagesReceived != 2 {
		t.Errorf("MessagesReceived = %d, want 2 even though the gateway is disabled", h.MessagesReceived)
	}
}

func TestHealthWhenEnabledButDisconnected(t *testing.T) {
	g, err := New(map[string]interface{}{
		"enabled":        true,
		"broker_address": "localhost",
	}, testLogger())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	h := g.Health()
	if h.Healthy {
		t.Error("expected Healthy=false before Start/Connect")
	}
	if !h.Enabled || !h.Initialized {
		t.Errorf("Enabled=%v Initialized=%v, want both true", h.Enabled, h.Initialized)
	}
	if h.Connected {
		t.Error("expected Connected=false before Start/Connect")
	}
	if h.QueueMaxSize != 1000 {
		t.Errorf("QueueMaxSize = %d, want 1000 (default)", h.QueueMaxSize)
	}
	if h.QueueSize != 0 {
		t.Errorf("QueueSize = %d, want 0", h.QueueSize)
	}
	if h.QueueUtilizationPct != 0 {
		t.Errorf("QueueUtilizationPct = %v, want 0", h.QueueUtilizationPct)
	}
	if h.RateLimit.MaxMessagesPerSecond != 10 {
		t.Errorf("RateLimit.MaxMessagesPerSecond = %v, want 10 (default)", h.RateLimit.MaxMessagesPerSecond)
	}
}

func TestRound2And3(t *testing.T) {
	if got := round2(1.005); got != 1.0 && got != 1.01 {
		t.Errorf("round2(1.005) = %v, want 1.0 or 1.01 (float rounding edge)", got)
	}
	if got := round2(33.333333); got != 33.33 {
		t.Errorf("round2(33.333333) = %v, want 33.33", got)
	}
	if got := round3(1.23456); got != 1.235 {
		t.Errorf("round3(1.23456) = %v, want 1.235", got)
	}
}
