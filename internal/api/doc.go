// Package api implements the HTTP control API and WebSocket stream for the
// graytap engine.
//
// This package provides:
//   - Device listing, with a forced rescan on ?refresh=true
//   - Per-device session control (start, pause, resume, toggle, stop) and
//     the all-device variants
//   - Session progress, recent events from the bus and archived history
//   - A WebSocket hub streaming event records and session transitions
//   - Prometheus exposition on /metrics
//   - Optional HS256 bearer authentication with ticket-based WebSocket auth
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/devices[?refresh=true]
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/devices/{id}/session
//	POST /api/v1/devices/{id}/session/{start|pause|resume|toggle|stop}
//	GET  /api/v1/sessions
//	POST /api/v1/sessions/{start-all|pause-all|resume-all|stop-all}
//	GET  /api/v1/sessions/history
//	GET  /api/v1/events[?limit=N]
//	GET  /api/v1/events/history
//	GET  /api/v1/system
//	POST /api/v1/auth/ws-ticket
//	GET  /api/v1/ws
//	GET  /metrics
//
// # Graceful Degradation
//
// History endpoints answer 503 when the database is disabled. Everything
// else works with only the registry, supervisor and bus wired.
package api
