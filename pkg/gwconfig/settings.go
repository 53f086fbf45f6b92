// Package gwconfig normalizes the free-form configuration map handed to
// the gateway by the host plugin framework into a typed, immutable
// Settings record. Validation follows the teacher's uci.ConfigValidator
// idiom: every recognized key is checked for type, then range or
// enumeration, then cross-field constraints, and every rejection names
// the offending field, the observed value, and the constraint violated.
package gwconfig

import (
	"fmt"
	"math"
	"strings"

	"github.com/zephyrgate/mqtt-gateway/pkg/mesh"
)

// MessageType is an alias of mesh.MessageType so channel filter records
// and mesh messages share one enumeration instead of two parallel ones.
type MessageType = mesh.MessageType

const (
	MessageTypeText            = mesh.Text
	MessageTypePosition        = mesh.Position
	MessageTypeNodeInfo        = mesh.NodeInfo
	MessageTypeTelemetry       = mesh.Telemetry
	MessageTypeRouting         = mesh.Routing
	MessageTypeAdmin           = mesh.Admin
	MessageTypeTraceroute      = mesh.Traceroute
	MessageTypeNeighborInfo    = mesh.NeighborInfo
	MessageTypeDetectionSensor = mesh.DetectionSensor
	MessageTypeReply           = mesh.Reply
	MessageTypeIPTunnel        = mesh.IPTunnel
	MessageTypePaxcounter      = mesh.Paxcounter
	MessageTypeSerial          = mesh.Serial
	MessageTypeStoreForward    = mesh.StoreForward
	MessageTypeRangeTest       = mesh.RangeTest
	MessageTypePrivate         = mesh.Private
	MessageTypeATAK            = mesh.ATAK
	MessageTypeUnknown         = mesh.Unknown
)

// allowedMessageTypeTags is the §6 enumeration of case-insensitive tags
// accepted in a channel's message_types filter list.
var allowedMessageTypeTags = map[MessageType]bool{
	MessageTypeText: true, MessageTypePosition: true, MessageTypeNodeInfo: true,
	MessageTypeTelemetry: true, MessageTypeRouting: true, MessageTypeAdmin: true,
	MessageTypeTraceroute: true, MessageTypeNeighborInfo: true, MessageTypeDetectionSensor: true,
	MessageTypeReply: true, MessageTypeIPTunnel: true, MessageTypePaxcounter: true,
	MessageTypeSerial: true, MessageTypeStoreForward: true, MessageTypeRangeTest: true,
	MessageTypePrivate: true, MessageTypeATAK: true,
}

// ChannelConfig is one entry of the channels list: per-channel uplink
// enablement and an optional message-type allowlist.
type ChannelConfig struct {
	Name          string
	UplinkEnabled bool
	MessageTypes  []MessageType
}

// Settings is the immutable, validated configuration record every
// gateway component is constructed from. Build one with Validate;
// never construct it directly outside this package.
type Settings struct {
	Enabled bool

	BrokerAddress string
	BrokerPort    int
	Username      string
	Password      string

	TLSEnabled bool
	CACert     string
	ClientCert string
	ClientKey  string

	RootTopic          string
	Region             string
	Format             string
	EncryptionEnabled  bool
	LogPublishedMessages bool

	MaxMessagesPerSecond int
	BurstMultiplier      float64

	QueueMaxSize int
	QueuePersist bool

	ReconnectEnabled      bool
	ReconnectInitialDelay float64
	ReconnectMaxDelay     float64
	ReconnectMultiplier   float64
	MaxReconnectAttempts  int

	LogLevel string

	Channels map[string]ChannelConfig

	// channelsConfigured records whether a channels key was present at
	// all, distinguishing "no channels list" (legacy: every channel
	// defaults to uplink-enabled) from "channels list present but this
	// channel absent from it" (defaults to uplink-disabled). See
	// message_formatter.py is_uplink_enabled / the B5 boundary scenario.
	channelsConfigured bool
}

// HostnameVerificationDisabled reports whether TLS hostname verification
// should be skipped: true whenever TLS is enabled and any one of the
// three certificate paths is empty (mirrors the Python mqtt_client.py
// _configure_client cert_reqs/tls_insecure_set logic).
func (s Settings) HostnameVerificationDisabled() bool {
	if !s.TLSEnabled {
		return false
	}
	return s.CACert == "" || s.ClientCert == "" || s.ClientKey == ""
}

// ChannelsConfigured reports whether a channels key was present in the
// source map at all (empty list counts as present-but-empty only if the
// key itself was given).
func (s Settings) ChannelsConfigured() bool {
	return s.channelsConfigured
}

// UplinkEnabled reports whether messages on the given channel name
// should be considered for forwarding at all, applying the legacy
// no-channels-list-configured default from message_formatter.py.
func (s Settings) UplinkEnabled(channel string) bool {
	if !s.channelsConfigured {
		return true
	}
	cfg, ok := s.Channels[channel]
	if !ok {
		return false
	}
	return cfg.UplinkEnabled
}

// MessageTypeAllowed reports whether mt passes the given channel's
// message_types filter: an absent or empty filter allows everything.
func (s Settings) MessageTypeAllowed(channel string, mt MessageType) bool {
	cfg, ok := s.Channels[channel]
	if !ok || len(cfg.MessageTypes) == 0 {
		return true
	}
	for _, t := range cfg.MessageTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// Error is a validation failure naming the offending field.
type Error struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gwconfig: field %q (value %v): %s", e.Field, e.Value, e.Message)
}

func fieldErr(field string, value interface{}, format string, args ...interface{}) *Error {
	return &Error{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// Validate normalizes raw into a Settings record. Unknown keys are
// ignored; missing optional keys take defaults; the first invalid
// recognized key aborts validation with a descriptive *Error — there is
// no partial success (§4.1, P8).
func Validate(raw map[string]interface{}) (Settings, error) {
	s := defaultSettings()

	if err := applyBool(raw, "enabled", &s.Enabled); err != nil {
		return Settings{}, err
	}

	if v, ok := raw["broker_address"]; ok {
		str, err := asString("broker_address", v)
		if err != nil {
			return Settings{}, err
		}
		if strings.TrimSpace(str) == "" {
			return Settings{}, fieldErr("broker_address", v, "must be non-empty after trimming")
		}
		s.BrokerAddress = str
	}

	if v, ok := raw["broker_port"]; ok {
		n, err := asInt("broker_port", v)
		if err != nil {
			return Settings{}, err
		}
		if n < 1 || n > 65535 {
			return Settings{}, fieldErr("broker_port", v, "must be in range 1-65535")
		}
		s.BrokerPort = n
	}

	if err := applyString(raw, "username", &s.Username); err != nil {
		return Settings{}, err
	}
	if err := applyString(raw, "password", &s.Password); err != nil {
		return Settings{}, err
	}
	if err := applyBool(raw, "tls_enabled", &s.TLSEnabled); err != nil {
		return Settings{}, err
	}
	if err := applyString(raw, "ca_cert", &s.CACert); err != nil {
		return Settings{}, err
	}
	if err := applyString(raw, "client_cert", &s.ClientCert); err != nil {
		return Settings{}, err
	}
	if err := applyString(raw, "client_key", &s.ClientKey); err != nil {
		return Settings{}, err
	}

	if v, ok := raw["root_topic"]; ok {
		str, err := asString("root_topic", v)
		if err != nil {
			return Settings{}, err
		}
		if strings.TrimSpace(str) == "" {
			return Settings{}, fieldErr("root_topic", v, "must be non-empty")
		}
		if strings.ContainsAny(str, "+#") {
			return Settings{}, fieldErr("root_topic", v, "must not contain MQTT wildcards '+' or '#'")
		}
		s.RootTopic = str
	}

	if v, ok := raw["region"]; ok {
		str, err := asString("region", v)
		if err != nil {
			return Settings{}, err
		}
		trimmed := strings.TrimSpace(str)
		if len(trimmed) < 2 || len(trimmed) > 10 {
			return Settings{}, fieldErr("region", v, "length after trimming must be 2-10")
		}
		s.Region = str
	}

	if v, ok := raw["format"]; ok {
		str, err := asString("format", v)
		if err != nil {
			return Settings{}, err
		}
		if str != "json" && str != "protobuf" {
			return Settings{}, fieldErr("format", v, `must be exactly "json" or "protobuf"`)
		}
		s.Format = str
	}

	if err := applyBool(raw, "encryption_enabled", &s.EncryptionEnabled); err != nil {
		return Settings{}, err
	}
	if err := applyBool(raw, "log_published_messages", &s.LogPublishedMessages); err != nil {
		return Settings{}, err
	}

	if v, ok := raw["max_messages_per_second"]; ok {
		n, err := asInt("max_messages_per_second", v)
		if err != nil {
			return Settings{}, err
		}
		if n < 1 || n > 1000 {
			return Settings{}, fieldErr("max_messages_per_second", v, "must be in range 1-1000")
		}
		s.MaxMessagesPerSecond = n
	}

	if v, ok := raw["burst_multiplier"]; ok {
		f, err := asFloat("burst_multiplier", v)
		if err != nil {
			return Settings{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Settings{}, fieldErr("burst_multiplier", v, "must be finite")
		}
		if f < 1.0 || f > 10.0 {
			return Settings{}, fieldErr("burst_multiplier", v, "must be in range 1.0-10.0")
		}
		s.BurstMultiplier = f
	}

	if v, ok := raw["queue_max_size"]; ok {
		n, err := asInt("queue_max_size", v)
		if err != nil {
			return Settings{}, err
		}
		if n < 10 || n > 100000 {
			return Settings{}, fieldErr("queue_max_size", v, "must be in range 10-100000")
		}
		s.QueueMaxSize = n
	}

	if err := applyBool(raw, "queue_persist", &s.QueuePersist); err != nil {
		return Settings{}, err
	}
	if err := applyBool(raw, "reconnect_enabled", &s.ReconnectEnabled); err != nil {
		return Settings{}, err
	}

	if v, ok := raw["reconnect_initial_delay"]; ok {
		f, err := asFloat("reconnect_initial_delay", v)
		if err != nil {
			return Settings{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Settings{}, fieldErr("reconnect_initial_delay", v, "must be finite")
		}
		if f < 0.1 || f > 60 {
			return Settings{}, fieldErr("reconnect_initial_delay", v, "must be in range 0.1-60")
		}
		s.ReconnectInitialDelay = f
	}

	if v, ok := raw["reconnect_max_delay"]; ok {
		f, err := asFloat("reconnect_max_delay", v)
		if err != nil {
			return Settings{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Settings{}, fieldErr("reconnect_max_delay", v, "must be finite")
		}
		if f < 1 || f > 3600 {
			return Settings{}, fieldErr("reconnect_max_delay", v, "must be in range 1-3600")
		}
		s.ReconnectMaxDelay = f
	}

	if s.ReconnectMaxDelay < s.ReconnectInitialDelay {
		return Settings{}, fieldErr("reconnect_max_delay", s.ReconnectMaxDelay,
			"must be >= reconnect_initial_delay (%.3f)", s.ReconnectInitialDelay)
	}

	if v, ok := raw["reconnect_multiplier"]; ok {
		f, err := asFloat("reconnect_multiplier", v)
		if err != nil {
			return Settings{}, err
		}
		if math.IsNaN(f) || f < 1.0 || f > 10.0 {
			return Settings{}, fieldErr("reconnect_multiplier", v, "must be in range 1.0-10.0")
		}
		s.ReconnectMultiplier = f
	}

	if v, ok := raw["max_reconnect_attempts"]; ok {
		n, err := asInt("max_reconnect_attempts", v)
		if err != nil {
			return Settings{}, err
		}
		if n < -1 {
			return Settings{}, fieldErr("max_reconnect_attempts", v, "must be >= -1")
		}
		s.MaxReconnectAttempts = n
	}

	if v, ok := raw["log_level"]; ok {
		str, err := asString("log_level", v)
		if err != nil {
			return Settings{}, err
		}
		upper := strings.ToUpper(strings.TrimSpace(str))
		switch upper {
		case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
			s.LogLevel = upper
		default:
			return Settings{}, fieldErr("log_level", v, "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
		}
	}

	if v, ok := raw["channels"]; ok {
		channels, err := parseChannels(v)
		if err != nil {
			return Settings{}, err
		}
		s.Channels = channels
		s.channelsConfigured = true
	}

	return s, nil
}

func defaultSettings() Settings {
	return Settings{
		Enabled:               false,
		BrokerAddress:         "mqtt.meshtastic.org",
		BrokerPort:            1883,
		RootTopic:             "msh/US",
		Region:                "US",
		Format:                "json",
		LogPublishedMessages:  true,
		MaxMessagesPerSecond:  10,
		BurstMultiplier:       2.0,
		QueueMaxSize:          1000,
		ReconnectEnabled:      true,
		ReconnectInitialDelay: 1.0,
		ReconnectMaxDelay:     60.0,
		ReconnectMultiplier:   2.0,
		MaxReconnectAttempts:  -1,
		LogLevel:              "INFO",
		Channels:              map[string]ChannelConfig{},
	}
}

func parseChannels(v interface{}) (map[string]ChannelConfig, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fieldErr("channels", v, "must be a list of channel records")
	}
	out := make(map[string]ChannelConfig, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, fieldErr(fmt.Sprintf("channels[%d]", i), item, "must be a record")
		}
		nameRaw, ok := rec["name"]
		if !ok {
			return nil, fieldErr(fmt.Sprintf("channels[%d].name", i), nil, "is required")
		}
		name, err := asString(fmt.Sprintf("channels[%d].name", i), nameRaw)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			return nil, fieldErr(fmt.Sprintf("channels[%d].name", i), nameRaw, "must be non-empty")
		}

		cc := ChannelConfig{Name: name, UplinkEnabled: true}
		if ue, ok := rec["uplink_enabled"]; ok {
			b, err := asBool(fmt.Sprintf("channels[%d].uplink_enabled", i), ue)
			if err != nil {
				return nil, err
			}
			cc.UplinkEnabled = b
		}
		if mts, ok := rec["message_types"]; ok {
			list, ok := mts.([]interface{})
			if !ok {
				return nil, fieldErr(fmt.Sprintf("channels[%d].message_types", i), mts, "must be a list of tags")
			}
			for _, raw := range list {
				tag, err := asString(fmt.Sprintf("channels[%d].message_types", i), raw)
				if err != nil {
					return nil, err
				}
				mt := MessageType(strings.ToLower(strings.TrimSpace(tag)))
				if !allowedMessageTypeTags[mt] {
					return nil, fieldErr(fmt.Sprintf("channels[%d].message_types", i), raw,
						"unrecognized message-type tag %q", tag)
				}
				cc.MessageTypes = append(cc.MessageTypes, mt)
			}
		}
		out[name] = cc
	}
	return out, nil
}

func applyBool(raw map[string]interface{}, key string, dst *bool) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	b, err := asBool(key, v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func applyString(raw map[string]interface{}, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	str, err := asString(key, v)
	if err != nil {
		return err
	}
	*dst = str
	return nil
}

func asBool(field string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fieldErr(field, v, "must be a boolean")
	}
	return b, nil
}

func asString(field string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fieldErr(field, v, "must be a string")
	}
	return s, nil
}

// asInt accepts ints, and numbers coerced to integers (matching
// "number coerced to integer" for max_messages_per_second), rejecting
// anything with a fractional part.
func asInt(field string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fieldErr(field, v, "must be an integer (no fractional part)")
		}
		return int(n), nil
	default:
		return 0, fieldErr(field, v, "must be an integer")
	}
}

func asFloat(field string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fieldErr(field, v, "must be a real number")
	}
}
