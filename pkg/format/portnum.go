package format

import "github.com/zephyrgate/mqtt-gateway/pkg/mesh"

// Meshtastic portnum constants, from the public mesh.proto PortNum
// enumeration. Only some of them are produced by the gateway (see
// portnumByMessageType); any message type not in that table maps to
// UnknownApp.
const (
	PortNumUnknownApp         int32 = 0
	PortNumTextMessageApp     int32 = 1
	PortNumRemoteHardwareApp  int32 = 2
	PortNumPositionApp        int32 = 3
	PortNumNodeInfoApp        int32 = 4
	PortNumRoutingApp         int32 = 5
	PortNumAdminApp           int32 = 6
	PortNumTextMessageCompressedApp int32 = 7
	PortNumWaypointApp        int32 = 8
	PortNumAudioApp           int32 = 9
	PortNumDetectionSensorApp int32 = 10
	PortNumReplyApp           int32 = 32
	PortNumIPTunnelApp        int32 = 33
	PortNumPaxcounterApp      int32 = 34
	PortNumSerialApp          int32 = 64
	PortNumStoreForwardApp    int32 = 65
	PortNumRangeTestApp       int32 = 66
	PortNumTelemetryApp       int32 = 67
	PortNumZPSApp             int32 = 68
	PortNumSimulatorApp       int32 = 69
	PortNumTracerouteApp      int32 = 70
	PortNumNeighborInfoApp    int32 = 71
	PortNumPrivateApp         int32 = 256
	PortNumATAKForwarderApp   int32 = 257
)

// portnumByMessageType is the §4.4 mapping table.
var portnumByMessageType = map[mesh.MessageType]int32{
	mesh.Text:            PortNumTextMessageApp,
	mesh.Position:        PortNumPositionApp,
	mesh.NodeInfo:        PortNumNodeInfoApp,
	mesh.Routing:         PortNumRoutingApp,
	mesh.Admin:           PortNumAdminApp,
	mesh.Telemetry:       PortNumTelemetryApp,
	mesh.RangeTest:       PortNumRangeTestApp,
	mesh.DetectionSensor: PortNumDetectionSensorApp,
	mesh.Reply:           PortNumReplyApp,
	mesh.IPTunnel:        PortNumIPTunnelApp,
	mesh.Serial:          PortNumSerialApp,
	mesh.StoreForward:    PortNumStoreForwardApp,
	mesh.Traceroute:      PortNumTracerouteApp,
	mesh.NeighborInfo:    PortNumNeighborInfoApp,
	mesh.Paxcounter:      PortNumPaxcounterApp,
	mesh.ATAK:            PortNumATAKForwarderApp,
}

// PortnumForMessageType returns the Meshtastic portnum for mt, or
// PortNumUnknownApp for anything not in the mapping (including the
// Unknown and Private tags; Private is not mapped to PortNumPrivateApp).
func PortnumForMessageType(mt mesh.MessageType) int32 {
	if p, ok := portnumByMessageType[mt]; ok {
		return p
	}
	return PortNumUnknownApp
}
