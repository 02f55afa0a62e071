package backoff

import (
	"time"
)

// Calculator provides retry delay calculation using configurable strategies.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a new backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{
		strategy: strategy,
	}
}

// Calculate computes the delay for the given retry attempt.
// It delegates to the configured strategy for the actual calculation.
func (c *Calculator) Calculate(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, baseDelay, maxDelay, jitter)
}

// SetStrategy updates the backoff strategy used by this calculator.
func (c *Calculator) SetStrategy(strategy Strategy) {
	c.strategy = strategy
}

// GetStrategy returns the current strategy being used by this calculator.
func (c *Calculator) GetStrategy() Strategy {
	return c.strategy
}

// GetLinearCalculator returns a calculator configured with the linear
// strategy. This is the default pacing between retry attempts.
func GetLinearCalculator() *Calculator {
	return NewCalculator(LinearStrategy{})
}

// GetExponentialJitterCalculator returns a calculator configured with the
// exponential jitter strategy.
func GetExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}
