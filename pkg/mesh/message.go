// Package mesh defines the MeshMessage type the gateway ingests from
// the mesh receiver (§3). It is intentionally minimal: the gateway
// treats almost all of a message's content as opaque, caring only
// about the fields listed in spec.md's Data Model.
package mesh

import "time"

// Priority is the admission priority carried by a mesh message,
// distinct from (but mapped 1:1 onto) pqueue.Priority so this package
// has no dependency on the queue implementation.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

// Message is the gateway's view of a received mesh packet.
type Message struct {
	ID          string
	SenderID    string // hex node id, optionally prefixed with "!"
	RecipientID string // node id, or the broadcast sentinel "^all"
	Channel     int
	MessageType MessageType
	Content     interface{} // string or []byte; may be nil
	Timestamp   time.Time
	HopLimit    *int
	SNR         *float64
	RSSI        *int
	Priority    Priority
	Metadata    map[string]interface{}
}

// MessageType enumerates the mesh message kinds, matching
// gwconfig.MessageType's tag vocabulary (kept as a distinct type to
// avoid a format/gateway->gwconfig->mesh import cycle risk; tags are
// compared by string value at the boundary).
type MessageType string

const (
	Text            MessageType = "text"
	Position        MessageType = "position"
	NodeInfo        MessageType = "nodeinfo"
	Routing         MessageType = "routing"
	Admin           MessageType = "admin"
	Telemetry       MessageType = "telemetry"
	RangeTest       MessageType = "range_test"
	DetectionSensor MessageType = "detection_sensor"
	Reply           MessageType = "reply"
	IPTunnel        MessageType = "ip_tunnel"
	Serial          MessageType = "serial"
	StoreForward    MessageType = "store_forward"
	Traceroute      MessageType = "traceroute"
	NeighborInfo    MessageType = "neighborinfo"
	Paxcounter      MessageType = "paxcounter"
	Private         MessageType = "private"
	ATAK            MessageType = "atak"
	Unknown         MessageType = "unknown"
)

// MetadataBytes returns md[key] as []byte when present and of that
// type, matching the "else empty bytes; warnings logged for wrong
// type" contract around metadata.encrypted_payload.
func (m Message) MetadataBytes(key string) ([]byte, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// MetadataString returns md[key] as a string when present.
func (m Message) MetadataString(key string) (string, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// MetadataInt returns md[key] coerced to int when present.
func (m Message) MetadataInt(key string) (int, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
