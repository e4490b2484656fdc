package scheduler

import (
	"math/rand"
	"time"
)

// backoffDelay computes the retry delay after the given 1-based failed
// attempt: base doubled per attempt, capped, plus up to 20% random jitter
// so a burst of failing tasks against one slow target does not retry in
// lockstep. Doubling outruns the jitter band, so observed delays are
// strictly increasing until the cap.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/5 + 1))
	}
	if d > cap {
		d = cap
	}
	return d
}
