package recognizer

import "context"

// Recognizer produces a stream of recognition events from the microphone
// until stopped. Implementations never restart themselves; restarting is
// the turn controller's responsibility.
type Recognizer interface {
	// Start acquires the microphone and begins streaming. It emits a
	// Started event once the stream is live; acquisition failures are
	// reported both on the error return and as a Failed event.
	Start(ctx context.Context) error
	// Stop releases the microphone. Idempotent; an Ended event is emitted
	// exactly once per successful start/stop cycle.
	Stop()
	// Events returns the ordered event stream.
	Events() <-chan Event
}
