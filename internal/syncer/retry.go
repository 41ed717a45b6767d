package syncer

import (
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/and161185/caseflow/internal/repository"
)

// Backoff builds the queue schedule: the n-th failure waits base*2^(n-1),
// capped at maxDelay, and the record is dead-lettered once n reaches
// maxRetries. maxRetries <= 0 never dead-letters.
func Backoff(base, maxDelay time.Duration, maxRetries int) repository.Schedule {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay < base {
		maxDelay = base
	}
	return func(attempt int, now time.Time) (time.Time, bool) {
		var b retry.Backoff = retry.WithCappedDuration(maxDelay, retry.NewExponential(base))
		if maxRetries > 0 {
			b = retry.WithMaxRetries(uint64(maxRetries-1), b)
		}
		var (
			d    time.Duration
			stop bool
		)
		for i := 0; i < attempt; i++ {
			if d, stop = b.Next(); stop {
				return now, true
			}
		}
		return now.Add(d), false
	}
}

// parkNow dead-letters on the first failure.
func parkNow(_ int, now time.Time) (time.Time, bool) { return now, true }
