package ports

import "github.com/eleven-am/relay/internal/domain"

// RetryTracker re-enqueues an operation for a future attempt. The operation
// re-enters the host's processing pipeline from scratch.
type RetryTracker interface {
	TrackForRetry(nowMicros int64, cause error, op *domain.Operation)
}
