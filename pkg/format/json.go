package format

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zephyrgate/mqtt-gateway/pkg/mesh"
)

// jsonPayload mirrors message_formatter.py format_json's key set and
// optionality exactly; struct tags control both presence (omitempty)
// and ordering is irrelevant for JSON semantics but Go's encoder
// preserves field declaration order, which we keep stable for
// readability in logs/tests.
type jsonPayload struct {
	Sender    string   `json:"sender"`
	Timestamp int64    `json:"timestamp"`
	Channel   int      `json:"channel"`
	Type      string   `json:"type"`
	Payload   string   `json:"payload"`
	SNR       *float64 `json:"snr,omitempty"`
	RSSI      *int     `json:"rssi,omitempty"`
	To        string   `json:"to,omitempty"`
	HopLimit  *int     `json:"hop_limit,omitempty"`
	GatewayID string   `json:"gateway_id,omitempty"`
	HopCount  *int     `json:"hop_count,omitempty"`
}

// JSON renders m as a compact JSON payload, per §4.4's json mode.
// channel is passed separately because the gateway computes it once
// for both topic and payload construction.
func JSON(m mesh.Message, channel int) ([]byte, error) {
	if strings.TrimSpace(m.SenderID) == "" {
		return nil, ErrEmptySenderID
	}

	p := jsonPayload{
		Sender:    m.SenderID,
		Timestamp: m.Timestamp.Unix(),
		Channel:   channel,
		Type:      string(m.MessageType),
		Payload:   contentString(m.Content),
	}

	if m.SNR != nil {
		p.SNR = m.SNR
	}
	if m.RSSI != nil {
		p.RSSI = m.RSSI
	}
	if m.RecipientID != "" && m.RecipientID != BroadcastSentinel {
		p.To = m.RecipientID
	}
	if m.HopLimit != nil {
		p.HopLimit = m.HopLimit
	}
	if gwID, ok := m.MetadataString("gateway_id"); ok && gwID != "" {
		p.GatewayID = gwID
	}
	if hc, ok := m.MetadataInt("hop_count"); ok {
		p.HopCount = &hc
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; the source's
	// json.dumps with compact separators does not.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// contentString renders a message's content as the payload string: the
// textual content as-is, or UTF-8-with-replacement decoding of bytes
// content, or empty for anything else.
func contentString(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		return strings.ToValidUTF8(string(v), "�")
	default:
		return ""
	}
}

// topicChannelString renders a channel index as the decimal string
// used in ServiceEnvelope.channel_id and MQTT topic paths.
func topicChannelString(channel int) string {
	return strconv.Itoa(channel)
}
