// Package worker runs one automation loop per device and supervises them.
//
// A session is a single run of a worker against one device for a planned
// duration. The Supervisor is the only writer of a session's stop and pause
// signals, except that a worker raises its own pause flag when it sees an
// abort trigger.
//
// Loop, per iteration:
//
//	┌──────────────┐  stop / cancelled / duration elapsed
//	│ check signals├──────────────────────────────────────► exit (stopped)
//	└──────┬───────┘
//	       │ paused: sleep PauseTick, loop
//	       ▼
//	┌──────────────┐  failure: error event, CaptureBackoff
//	│   capture    ├────────────────────────────────────► next iteration
//	└──────┬───────┘
//	       ▼
//	┌──────────────┐  hit: pause, warning event
//	│ abort checks ├────────────────────────────────────► next iteration
//	└──────┬───────┘
//	       ▼
//	┌──────────────┐  first successful tap, then recheck or post-click delay
//	│   actions    ├────────────────────────────────────► next iteration
//	└──────┬───────┘
//	       ▼
//	  idle: verbose event at most every VerboseInterval, sleep IdleSleep
//
// A panic inside an iteration is recovered, reported as an error event and
// followed by ErrorBackoff. A panic outside the iteration marks the session
// failed.
//
// Session states:
//
//	running ⇄ paused
//	running | paused → stopping → stopped
//	running | paused → stopped   (duration elapsed)
//	any → failed                 (unrecoverable worker panic)
package worker
