package mqtt

import "fmt"

// Topic prefixes for the Conduit MQTT surface.
//
// All topics use the flat scheme: conduit/{category}/{address_or_id}.
// Endpoint addresses are host:port pairs; ':' is legal in MQTT topic
// segments and keeps the address usable as-is.
const (
	// TopicPrefix is the base for all Conduit topics.
	TopicPrefix = "conduit"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "conduit/system"
)

// Topics provides builders for Conduit MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("192.168.1.40:4999")
//	// Returns: "conduit/state/192.168.1.40:4999"
type Topics struct{}

// Event returns the topic for pool lifecycle events of one type.
//
// Example: conduit/event/connected
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// State returns the topic for device state updates from an endpoint.
//
// Example: conduit/state/192.168.1.40:4999
func (Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, address)
}

// Command returns the topic for commands to an endpoint.
//
// Example: conduit/command/192.168.1.40:4999
func (Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, address)
}

// Result returns the topic for command results from an endpoint.
//
// Example: conduit/result/192.168.1.40:4999
func (Topics) Result(address string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, address)
}

// SystemStatus returns the system status topic.
//
// Example: conduit/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching all pool lifecycle events.
//
// Pattern: conduit/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllStates returns a pattern matching all device state updates.
//
// Pattern: conduit/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllCommands returns a pattern matching all endpoint commands.
//
// Pattern: conduit/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllResults returns a pattern matching all command results.
//
// Pattern: conduit/result/+
func (Topics) AllResults() string {
	return fmt.Sprintf("%s/result/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Conduit topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: conduit/#
func (Topics) AllTopics() string {
	return "conduit/#"
}
