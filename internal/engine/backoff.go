package engine

import "time"

// Default backoff policy. The delay before an item's next delivery attempt
// doubles with each failure and is capped; it depends only on the item's
// attempt counter, never on wall-clock history, so retry timing is
// deterministic for a given queue state.
const (
	defaultBackoffBase = 30 * time.Second
	defaultBackoffCap  = 30 * time.Minute

	// maxBackoffShift bounds the exponent so the shift cannot overflow.
	maxBackoffShift = 16
)

// backoffDelay returns base << attempts, capped at ceiling. attempts is
// the item's counter before the failure being recorded.
func backoffDelay(base, ceiling time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	if attempts > maxBackoffShift {
		return ceiling
	}

	d := base << uint(attempts)
	if d <= 0 || d > ceiling {
		return ceiling
	}

	return d
}
