package outbox

import "errors"

// Sentinel errors for the durable event plane. Callers classify failures
// with errors.Is; see Publisher for the retry policy attached to each.
var (
	// ErrStoreUnavailable wraps transient store failures (connectivity,
	// timeouts). Retryable.
	ErrStoreUnavailable = errors.New("outbox store unavailable")

	// ErrDuplicateSequence is returned when an insert collides with an
	// existing sequence number. Fatal for that publish.
	ErrDuplicateSequence = errors.New("duplicate sequence number")

	// ErrPublishFailed is returned by Publisher.Publish after the retry
	// budget is exhausted. The event is not in the outbox.
	ErrPublishFailed = errors.New("publish failed")

	// ErrCheckpointNotFound is returned when no checkpoint exists for a
	// client id.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
