package mqtt

import "fmt"

// TopicRoot is the first level of every ParkFlow topic.
const TopicRoot = "parkflow"

// Topics builds the MQTT topics of one site.
//
//	topics := mqtt.Topics{Site: "park-001"}
//	topics.Point("10.0.0.21")
//	// Returns: "parkflow/park-001/points/10.0.0.21"
type Topics struct {
	Site string
}

func (t Topics) prefix() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.Site)
}

// Console returns the topic operator console entries are published on.
//
// Example: parkflow/park-001/console
func (t Topics) Console() string {
	return t.prefix() + "/console"
}

// Point returns the topic for the cached point row of one device.
//
// Example: parkflow/park-001/points/io-1
func (t Topics) Point(deviceID string) string {
	return fmt.Sprintf("%s/points/%s", t.prefix(), deviceID)
}

// FlowStatus returns the retained flow status topic.
//
// Example: parkflow/park-001/flow/status
func (t Topics) FlowStatus() string {
	return t.prefix() + "/flow/status"
}

// FlowCommand returns the topic remote start/stop commands arrive on.
//
// Example: parkflow/park-001/flow/command
func (t Topics) FlowCommand() string {
	return t.prefix() + "/flow/command"
}

// SystemStatus returns the retained online/offline topic, also used for the LWT.
//
// Example: parkflow/park-001/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
