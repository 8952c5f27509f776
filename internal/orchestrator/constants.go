package orchestrator

import "time"

const (
	// EventBuffer is the capacity of the events channel. Emits never block;
	// events are dropped when no one is reading.
	EventBuffer = 64

	// DefaultStallTimeout is how long a remote call may run before the status
	// changes to a "still working" message. The call is never cancelled.
	DefaultStallTimeout = 30 * time.Second

	// archiveTimeout bounds the background upload of a recording.
	archiveTimeout = 2 * time.Minute

	// telemetryTimeout bounds the write of a run report.
	telemetryTimeout = 5 * time.Second
)
