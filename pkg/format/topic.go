package format

import (
	"fmt"
	"strconv"
)

// TopicVersion is the fixed version segment of the Meshtastic MQTT
// topic path.
const TopicVersion = "2"

// BroadcastSentinel is the literal recipient value meaning "no specific
// recipient".
const BroadcastSentinel = "^all"

// BroadcastNodeNum is the 32-bit "to everyone" node number used in the
// binary MeshPacket.to field.
const BroadcastNodeNum uint32 = 0xFFFFFFFF

// Topic builds the MQTT topic path for a message, per the §6 EBNF:
//
//	topic = root "/" version "/" kind "/" channel "/" senderId
func Topic(rootTopic string, encryptionEnabled bool, channel int, senderID string) string {
	kind := "json"
	if encryptionEnabled {
		kind = "e"
	}
	return rootTopic + "/" + TopicVersion + "/" + kind + "/" + strconv.Itoa(channel) + "/" + senderID
}

// ErrEmptySenderID is returned by JSON and Protobuf when a message's
// sender_id is empty or only whitespace (Topic itself does not check);
// B4 requires rejection before any publish is attempted.
var ErrEmptySenderID = fmt.Errorf("sender_id must be non-empty")
