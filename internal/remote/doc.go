// Package remote mirrors the engine onto MQTT.
//
// A Bridge does three things:
//   - Forwards every event bus record to graytap/device/{id}/event
//     (graytap/system/event for records without a device).
//   - Publishes retained session progress to graytap/device/{id}/status when
//     a session starts or ends, and periodically while it runs.
//   - Accepts JSON commands on graytap/command/{id} and graytap/command/all
//     and applies them to the worker supervisor.
//
// Command payload:
//
//	{"action": "start", "duration_minutes": 30}
//	{"action": "pause"}
//
// Actions are start, pause, resume, toggle and stop. A start addressed to
// "all" starts every device currently in the registry cache.
package remote
