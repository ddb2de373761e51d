package launchlane

import (
	"math"
	"math/rand"
	"time"
)

// cooldownDelay computes an exponentially growing delay (base *
// 2^(attempt-1), bounded by max, plus up to 10% jitter) for the
// attempt'th consecutive backpressure report from a provider.
func cooldownDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	exponent := attempt - 1
	multiplier := math.Pow(2, float64(exponent))

	if math.IsInf(multiplier, 1) || multiplier > float64(max)/float64(base) {
		return withJitter(max)
	}
	delay := base * time.Duration(multiplier)
	if delay > max {
		delay = max
	}
	return withJitter(delay)
}

func withJitter(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	return d + jitter
}
