package broker

import "testing"

func TestConnectionStateString(t *testing.T) {
	cases := map[ConnectionState]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Disconnecting: "disconnecting",
		Reconnecting:  "reconnecting",
		ConnectionState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("ConnectionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
