// Package meshwire hand-assembles the Meshtastic binary wire messages
// (Data, MeshPacket, ServiceEnvelope) the gateway publishes in protobuf
// mode. There is no vetted Go package for the Meshtastic .proto schema
// in the reference corpus, so encoding is built field-by-field on top
// of google.golang.org/protobuf/encoding/protowire — the same module
// the teacher depends on transitively through its gRPC/reflection
// stack, here doing the gateway's actual wire encoding work.
package meshwire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Data carries a decoded mesh application payload (MeshPacket.decoded).
type Data struct {
	Portnum int32
	Payload []byte
}

// Marshal encodes Data as a protobuf message:
//
//	field 1 (portnum)  varint
//	field 2 (payload)  bytes
func (d Data) Marshal() []byte {
	var b []byte
	if d.Portnum != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Portnum))
	}
	if len(d.Payload) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Payload)
	}
	return b
}

// MeshPacket is the core Meshtastic routing envelope, populated per
// message_formatter.py format_protobuf.
type MeshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	Decoded   *Data  // set when not encrypted
	Encrypted []byte // set when carrying an opaque encrypted payload
	ID        uint32
	RxTime    uint32
	RxSNR     float32
	HasRxSNR  bool
	RxRSSI    int32
	HasRxRSSI bool
	HopLimit  uint32
	HopStart  uint32
}

// Marshal encodes MeshPacket as a protobuf message using the field
// numbers from the public Meshtastic mesh.proto MeshPacket definition:
//
//	1 from, 2 to, 3 channel, 4 decoded (Data), 5 (oneof) encrypted,
//	6 id, 9 rx_time, 10 rx_snr (float), 12 rx_rssi (int32, sint encoding
//	not used — plain varint per the public schema), 13 hop_limit,
//	16 hop_start.
func (p MeshPacket) Marshal() []byte {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.From))
	}
	if p.To != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.To))
	}
	if p.Channel != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Decoded != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Decoded.Marshal())
	}
	if p.Encrypted != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Encrypted)
	}
	if p.ID != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ID))
	}
	if p.RxTime != 0 {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.RxTime))
	}
	if p.HasRxSNR {
		b = protowire.AppendTag(b, 10, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, float32bits(p.RxSNR))
	}
	if p.HasRxRSSI {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(p.RxRSSI)))
	}
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, 13, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.HopStart != 0 {
		b = protowire.AppendTag(b, 16, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopStart))
	}
	return b
}

// ServiceEnvelope wraps a MeshPacket with the broker-side routing
// fields the Meshtastic MQTT convention adds: channel_id, gateway_id.
type ServiceEnvelope struct {
	Packet    *MeshPacket
	ChannelID string
	GatewayID string
}

// Marshal encodes ServiceEnvelope per the public mqtt.proto
// ServiceEnvelope definition: 1 packet (MeshPacket), 2 channel_id
// (string), 3 gateway_id (string).
func (e ServiceEnvelope) Marshal() []byte {
	var b []byte
	if e.Packet != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Packet.Marshal())
	}
	if e.ChannelID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(e.ChannelID))
	}
	if e.GatewayID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(e.GatewayID))
	}
	return b
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}
