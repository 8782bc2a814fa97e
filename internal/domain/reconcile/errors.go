package reconcile

import "errors"

var (
	// ErrStoreUnavailable wraps store and timeout failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNoData means the booking has not been reconciled yet.
	ErrNoData = errors.New("no reconciled data yet")
	// ErrStaleReconciliation is returned by a pass that a newer pass superseded.
	// Its result was discarded.
	ErrStaleReconciliation = errors.New("stale reconciliation discarded")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
