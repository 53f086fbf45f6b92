package meshwire

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestDataMarshalRoundTrips(t *testing.T) {
	d := Data{Portnum: 1, Payload: []byte("hello mesh")}
	b := d.Marshal()

	num, typ, n := protowire.ConsumeTag(b)
	if num != 1 || typ != protowire.VarintType {
		t.Fatalf("field 1 = (%v, %v), want (1, varint)", num, typ)
	}
	portnum, n2 := protowire.ConsumeVarint(b[n:])
	if portnum != 1 {
		t.Errorf("portnum = %d, want 1", portnum)
	}
	rest := b[n+n2:]

	num, typ, n = protowire.ConsumeTag(rest)
	if num != 2 || typ != protowire.BytesType {
		t.Fatalf("field 2 = (%v, %v), want (2, bytes)", num, typ)
	}
	payload, _ := protowire.ConsumeBytes(rest[n:])
	if string(payload) != "hello mesh" {
		t.Errorf("payload = %q, want %q", payload, "hello mesh")
	}
}

func TestDataMarshalOmitsZeroPortnumAndEmptyPayload(t *testing.T) {
	d := Data{}
	if b := d.Marshal(); len(b) != 0 {
		t.Errorf("expected empty encoding for zero-value Data, got %d bytes", len(b))
	}
}

func TestMeshPacketMarshalIncludesDecoded(t *testing.T) {
	p := MeshPacket{
		From:     0x12345678,
		To:       0xFFFFFFFF,
		Channel:  2,
		Decoded:  &Data{Portnum: 1, Payload: []byte("hi")},
		ID:       99,
		HopLimit: 3,
		HopStart: 3,
	}
	b := p.Marshal()
	if len(b) == 0 {
		t.Fatal("expected non-empty encoding")
	}

	// Walk the top-level fields and confirm field 4 (decoded) is present
	// and itself parses as a valid Data message.
	found := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("ConsumeTag failed at remaining %d bytes", len(b))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(b)
			b = b[n:]
		case protowire.BytesType:
			data, n := protowire.ConsumeBytes(b)
			if num == 4 {
				found = true
				innerNum, innerTyp, innerN := protowire.ConsumeTag(data)
				if innerNum != 1 || innerTyp != protowire.VarintType {
					t.Errorf("decoded submessage field 1 = (%v,%v), want (1,varint)", innerNum, innerTyp)
				}
				_ = innerN
			}
			b = b[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(b)
			b = b[n:]
		default:
			t.Fatalf("unexpected wire type %v", typ)
		}
	}
	if !found {
		t.Error("expected field 4 (decoded) to be present in the encoding")
	}
}

func TestMeshPacketMarshalEncodesRxSNRAsFixed32(t *testing.T) {
	p := MeshPacket{RxSNR: 7.25, HasRxSNR: true}
	b := p.Marshal()

	num, typ, n := protowire.ConsumeTag(b)
	if num != 10 || typ != protowire.Fixed32Type {
		t.Fatalf("field = (%v,%v), want (10, fixed32)", num, typ)
	}
	bits, _ := protowire.ConsumeFixed32(b[n:])
	if got := float32frombits(bits); got != 7.25 {
		t.Errorf("decoded RxSNR = %v, want 7.25", got)
	}
}

func float32frombits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func TestServiceEnvelopeMarshalIncludesChannelAndGatewayID(t *testing.T) {
	e := ServiceEnvelope{
		Packet:    &MeshPacket{From: 1},
		ChannelID: "LongFast",
		GatewayID: "!deadbeef",
	}
	b := e.Marshal()
	if len(b) == 0 {
		t.Fatal("expected non-empty encoding")
	}

	var sawChannelID, sawGatewayID bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		b = b[n:]
		if typ != protowire.BytesType {
			t.Fatalf("expected all ServiceEnvelope fields to be bytes-typed, got %v", typ)
		}
		data, n := protowire.ConsumeBytes(b)
		b = b[n:]
		switch num {
		case 2:
			sawChannelID = true
			if string(data) != "LongFast" {
				t.Errorf("channel_id = %q, want LongFast", data)
			}
		case 3:
			sawGatewayID = true
			if string(data) != "!deadbeef" {
				t.Errorf("gateway_id = %q, want !deadbeef", data)
			}
		}
	}
	if !sawChannelID || !sawGatewayID {
		t.Errorf("expected both channel_id and gateway_id present, got channelID=%v gatewayID=%v", sawChannelID, sawGatewayID)
	}
}
