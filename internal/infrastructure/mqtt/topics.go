package mqtt

import "fmt"

// TopicPrefix is the root of every topic the gateway publishes or
// subscribes to.
//
// Bridge topics use the flat scheme: vitreagw/{category}/{protocol}/{device}
const TopicPrefix = "vitreagw"

// Topics provides builders for the gateway's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("vitrea", "N005-1")
//	// Returns: "vitreagw/state/vitrea/N005-1"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: vitreagw/state/vitrea/N005-1
func (Topics) BridgeState(protocol, device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, device)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: vitreagw/command/vitrea/N005-1
func (Topics) BridgeCommand(protocol, device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, device)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: vitreagw/ack/vitrea/N005-1
func (Topics) BridgeAck(protocol, device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, device)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: vitreagw/health/vitrea
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery returns the topic the discovered catalog is published on.
//
// Example: vitreagw/discovery/vitrea
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// SystemStatus returns the service status topic used for online/offline and LWT.
//
// Example: vitreagw/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllBridgeCommands returns a pattern matching every command for one protocol.
//
// Pattern: vitreagw/command/vitrea/+
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AllBridgeStates returns a pattern matching every state update of a protocol.
//
// Pattern: vitreagw/state/vitrea/+
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, protocol)
}

// AllTopics returns a pattern matching all gateway topics.
//
// Pattern: vitreagw/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
