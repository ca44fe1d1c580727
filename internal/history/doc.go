// Package history archives events and session runs in SQLite.
//
// The in-process event bus keeps only the most recent records; the archive
// keeps everything up to the configured retention so the API can page back
// through older activity. It subscribes to the bus and observes the worker
// supervisor:
//
//	events.Bus ──Subscribe──► Archive.RecordEvent ──► events table
//	worker.Supervisor ──Observer──► Archive.Session* ──► sessions table
//
// Writes are best effort: a failed insert is logged and dropped so the
// automation loop is never held up by storage.
package history
