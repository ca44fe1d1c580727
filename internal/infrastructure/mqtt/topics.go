package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "graytap"

// CommandTargetAll is the device segment of a command addressed to every device.
const CommandTargetAll = "all"

// Topics builds graytap MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("graytap")
//	topics.DeviceEvent("127.0.0.1:16384")
//	// Returns: "graytap/device/127.0.0.1:16384/event"
//
// Device IDs are used verbatim. They contain no MQTT wildcard characters
// because they are transport serials or host:port endpoints.
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// DeviceEvent returns the topic carrying user-facing events for one device.
//
// Example: graytap/device/emulator-5554/event
func (t Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/event", t.Prefix, deviceID)
}

// DeviceStatus returns the retained session status topic for one device.
//
// Example: graytap/device/emulator-5554/status
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", t.Prefix, deviceID)
}

// SystemEvent returns the topic carrying events not tied to a device.
//
// Example: graytap/system/event
func (t Topics) SystemEvent() string {
	return fmt.Sprintf("%s/system/event", t.Prefix)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: graytap/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}

// Command returns the command topic for one device, or for every device when
// deviceID is CommandTargetAll.
//
// Example: graytap/command/emulator-5554
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, deviceID)
}

// AllCommands returns a pattern matching every command topic.
//
// Pattern: graytap/command/#
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", t.Prefix)
}

// CommandTarget extracts the device segment from a command topic.
// Device IDs containing "/" are returned whole.
func (t Topics) CommandTarget(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
