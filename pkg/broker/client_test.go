package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

func testLogger() *logx.Logger {
	return logx.NewLogger("error", "broker-test")
}

func newTestClient() *Client {
	return New(Config{
		BrokerAddress:         "localhost",
		BrokerPort:            1883,
		ReconnectEnabled:      true,
		ReconnectInitialDelay: 1,
		ReconnectMaxDelay:     60,
		ReconnectMultiplier:   2,
		MaxReconnectAttempts:  5,
	}, testLogger())
}

func TestNewStartsDisconnected(t *testing.T) {
	c := newTestClient()
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", c.State())
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
}

func TestNewAssignsUniqueClientIDs(t *testing.T) {
	a := newTestClient()
	b := newTestClient()
	if a.clientID == b.clientID {
		t.Error("expected distinct client IDs across instances")
	}
}

func TestStatsStartsZeroValued(t *testing.T) {
	c := newTestClient()
	s := c.Stats()
	if s.ConnectionCount != 0 || s.DisconnectionCount != 0 || s.MessagesPublished != 0 {
		t.Errorf("expected zero-valued Stats, got %+v", s)
	}
}

func TestPublishRejectsEmptyTopic(t *testing.T) {
	c := newTestClient()
	outcome, err := c.Publish(context.Background(), "", []byte("x"), 0, false)
	if outcome != PublishOtherError || err == nil {
		t.Errorf("Publish(empty topic) = (%v, %v), want (PublishOtherError, error)", outcome, err)
	}
}

func TestPublishRejectsInvalidQoS(t *testing.T) {
	c := newTestClient()
	outcome, err := c.Publish(context.Background(), "a/b", []byte("x"), 3, false)
	if outcome != PublishOtherError || err == nil {
		t.Errorf("Publish(qos=3) = (%v, %v), want (PublishOtherError, error)", outcome, err)
	}
}

func TestPublishWhenNotConnectedReturnsNotConnected(t *testing.T) {
	c := newTestClient()
	outcome, err := c.Publish(context.Background(), "a/b", []byte("x"), 0, false)
	if outcome != PublishNotConnected || err == nil {
		t.Errorf("Publish() on disconnected client = (%v, %v), want (PublishNotConnected, error)", outcome, err)
	}
}

func TestDisconnectWhenAlreadyDisconnectedIsNoOp(t *testing.T) {
	c := newTestClient()
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() on an already-disconnected client returned %v, want nil", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() after no-op Disconnect = %v, want Disconnected", c.State())
	}
}

func TestConnectReturnsFatalAuthErrorWhenLatched(t *testing.T) {
	c := newTestClient()
	c.fatalAuth = true
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrFatalAuthentication) {
		t.Errorf("Connect() with latched fatalAuth = %v, want ErrFatalAuthentication", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() after rejected Connect = %v, want Disconnected", c.State())
	}
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("not Authorized"), true},
		{errors.New("bad user name or password"), true},
		{errors.New("Not Authorized"), true},
		{errors.New("Bad Username or Password"), true},
		{errors.New("connection refused"), false},
		{errors.New("i/o timeout"), false},
	}
	for _, c := range cases {
		if got := isAuthError(c.err); got != c.want {
			t.Errorf("isAuthError(%q) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestReconnectReturnsImmediatelyWhenDisabled(t *testing.T) {
	c := newTestClient()
	c.cfg.ReconnectEnabled = false
	if err := c.Reconnect(context.Background()); err != nil {
		t.Errorf("Reconnect() with reconnect disabled returned %v, want nil", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() after disabled Reconnect = %v, want unchanged Disconnected", c.State())
	}
}

func TestReconnectStopsOnContextCancellation(t *testing.T) {
	c := newTestClient()
	c.cfg.BrokerAddress = "127.0.0.1"
	c.cfg.BrokerPort = 1 // nothing listens here; Connect should fail and loop into backoff
	c.cfg.ReconnectInitialDelay = 30
	c.cfg.MaxReconnectAttempts = -1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Reconnect(ctx)
	if err == nil {
		t.Error("expected Reconnect to return an error when the context is already cancelled")
	}
}

func TestBuildTLSConfigHonorsHostnameVerificationDisabled(t *testing.T) {
	c := newTestClient()
	c.cfg.TLSEnabled = true
	c.cfg.HostnameVerificationDisabled = true
	tlsConfig, err := c.buildTLSConfig()
	if err != nil {
		t.Fatalf("buildTLSConfig() returned error: %v", err)
	}
	if !tlsConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify=true when hostname verification is disabled")
	}
}

func TestBuildTLSConfigFailsOnMissingCACert(t *testing.T) {
	c := newTestClient()
	c.cfg.TLSEnabled = true
	c.cfg.CACert = "/nonexistent/ca.pem"
	if _, err := c.buildTLSConfig(); err == nil {
		t.Error("expected an error for a missing ca_cert file")
	}
}
