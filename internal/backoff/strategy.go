package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for retry delay calculation algorithms.
// This allows for extensible pacing strategies while maintaining consistent behavior.
type Strategy interface {
	// Calculate returns the delay before the given retry attempt.
	// attempt is 1-based: the first retry passes attempt=1.
	Calculate(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration
}

// LinearStrategy implements linear backoff: attempt * baseDelay, capped
// at maxDelay, with optional uniform jitter.
type LinearStrategy struct{}

// Calculate implements the Strategy interface for linear backoff.
func (s LinearStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(attempt) * baseDelay
	if delay < 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(delay) * jitter * (rand.Float64()*2 - 1))
		delay += jitterAmount
		if delay < 0 {
			delay = 0
		}
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// ExponentialJitterStrategy implements exponential backoff with uniform jitter.
type ExponentialJitterStrategy struct {
	// Multiplier is the growth factor per attempt. Zero means 2.
	Multiplier float64
}

// Calculate implements the Strategy interface for exponential backoff with jitter.
func (s ExponentialJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	multiplier := s.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(baseDelay) * pow(multiplier, attempt-1))
	if delay < 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(delay) * jitter * (rand.Float64()*2 - 1))
		delay += jitterAmount
		if delay < 0 {
			delay = 0
		}
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
