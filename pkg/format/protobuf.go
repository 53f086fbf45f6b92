package format

import (
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
	"github.com/zephyrgate/mqtt-gateway/pkg/mesh"
	"github.com/zephyrgate/mqtt-gateway/pkg/meshwire"
)

// DefaultHopLimit is used when a message carries no hop_limit.
const DefaultHopLimit = 3

// DefaultGatewayID is used when a message's metadata carries no
// gateway_id.
const DefaultGatewayID = "zephyrgate"

// Protobuf renders m as a binary ServiceEnvelope, per §4.4's protobuf
// mode. encryptionEnabled and channel come from the validated
// Settings/topic computation rather than from m directly, mirroring
// message_formatter.py's format_protobuf signature.
func Protobuf(m mesh.Message, channel int, encryptionEnabled bool, logger *logx.Logger) ([]byte, error) {
	if strings.TrimSpace(m.SenderID) == "" {
		return nil, ErrEmptySenderID
	}

	packet := meshwire.MeshPacket{
		From:    nodeIDToUint32(m.SenderID),
		To:      recipientToUint32(m.RecipientID),
		Channel: uint32(channel),
		ID:      packetID(m.ID),
		RxTime:  uint32(m.Timestamp.Unix()),
	}

	hopLimit := DefaultHopLimit
	if m.HopLimit != nil {
		hopLimit = *m.HopLimit
	}
	packet.HopLimit = uint32(hopLimit)
	packet.HopStart = uint32(hopLimit)

	if m.SNR != nil {
		packet.HasRxSNR = true
		packet.RxSNR = float32(*m.SNR)
	}
	if m.RSSI != nil {
		packet.HasRxRSSI = true
		packet.RxRSSI = int32(*m.RSSI)
	}

	if encryptionEnabled {
		raw, ok := m.MetadataBytes("encrypted_payload")
		if !ok {
			if _, present := m.Metadata["encrypted_payload"]; present {
				logger.Warn("encrypted_payload metadata present but not bytes, using empty payload",
					"message_id", m.ID)
			}
			raw = []byte{}
		}
		packet.Encrypted = raw
	} else {
		packet.Decoded = &meshwire.Data{
			Portnum: PortnumForMessageType(m.MessageType),
			Payload: contentBytes(m.Content),
		}
	}

	envelope := meshwire.ServiceEnvelope{
		Packet:    &packet,
		ChannelID: strconv.Itoa(channel),
		GatewayID: DefaultGatewayID,
	}
	if gwID, ok := m.MetadataString("gateway_id"); ok && gwID != "" {
		envelope.GatewayID = gwID
	}

	return envelope.Marshal(), nil
}

// nodeIDToUint32 decodes a sender/recipient node id of the form
// "!a1b2c3d4" (or bare hex) into its 32-bit value, returning 0 on any
// parse failure per message_formatter.py _node_id_to_int.
func nodeIDToUint32(id string) uint32 {
	hexPart := strings.TrimPrefix(id, "!")
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// recipientToUint32 maps an absent or broadcast recipient to the
// broadcast node number, otherwise decodes it like a sender id.
func recipientToUint32(recipientID string) uint32 {
	if recipientID == "" || recipientID == BroadcastSentinel {
		return BroadcastNodeNum
	}
	return nodeIDToUint32(recipientID)
}

// packetID derives a stable 32-bit packet id from a message id via
// FNV-1a, falling back to a pseudorandom value if the id is empty
// (hashing "fails" in the sense the source's hash() would on a
// non-hashable/absent id).
func packetID(messageID string) uint32 {
	if messageID == "" {
		return rand.Uint32()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return h.Sum32()
}

// contentBytes renders a message's content as bytes: the UTF-8 encoding
// of a string, the bytes as-is for []byte, or empty for anything else
// (including nil), matching format_protobuf's payload carriage rule.
func contentBytes(content interface{}) []byte {
	switch v := content.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte{}
	}
}
