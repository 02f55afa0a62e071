package fetchcore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/fetchcore/internal/backoff"
	"github.com/ambiyansyah-risyal/fetchcore/internal/flight"
)

// Operation is the injected asynchronous work unit executed by the
// coordinator. It must honor ctx cancellation to support cooperative
// cancel and timeout; an operation that ignores ctx keeps running in the
// background with its result discarded.
type Operation[T any] func(ctx context.Context) (T, error)

// Coordinator collapses concurrent identical logical requests into a
// single execution, bounds the number of distinct in-flight keys, and
// applies timeout, retry and cooperative cancellation.
//
// For any N concurrent Run calls with the same (method, resource, params)
// issued before the first settles, exactly one Operation invocation
// occurs and all N callers receive the identical result.
type Coordinator[T any] struct {
	cfg      CoordinationConfig
	settings settings
	flights  *flight.Group[T]
	slots    chan struct{}
	breaker  *CircuitBreaker
	pacing   *backoff.Calculator

	totalRequests int64
	deduplicated  int64
	timedOut      int64
	cancelled     int64
	retried       int64
	bypassed      int64
	rejected      int64
	succeeded     int64
	failed        int64
	latencyNanos  int64
}

// CoordinatorMetrics is a read-only snapshot of coordinator counters.
type CoordinatorMetrics struct {
	TotalRequests int64
	Deduplicated  int64
	Concurrent    int
	TimedOut      int64
	Cancelled     int64
	Retried       int64
	Bypassed      int64
	Rejected      int64
	SuccessRate   float64
	AvgLatency    time.Duration
}

// NewCoordinator creates a coordinator with the given configuration.
// The configuration is validated; a Validation error lists every problem.
func NewCoordinator[T any](cfg CoordinationConfig, opts ...Option) (*Coordinator[T], error) {
	if problems := cfg.validate(); len(problems) > 0 {
		return nil, newValidationError("coordination", problems)
	}

	c := &Coordinator[T]{
		cfg:      cfg,
		settings: newSettings(opts...),
		flights:  flight.NewGroup[T](),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		pacing:   backoff.GetLinearCalculator(),
	}
	if c.settings.breakerCfg != nil {
		c.breaker = NewCircuitBreaker(*c.settings.breakerCfg)
	}
	return c, nil
}

// Run executes op for the logical request identified by (method, resource,
// params), joining an identical in-flight request when one exists. Callers
// joined to the same request all observe the identical result.
//
// Transient failures are retried with linear backoff up to MaxRetries.
// Each retry is a fresh pass through the dedup table, so a retry is never
// collapsed into the attempt that already failed.
func (c *Coordinator[T]) Run(ctx context.Context, method, resource string, params map[string]any, op Operation[T]) (T, error) {
	key := RequestKey(method, resource, params)
	requestID := c.settings.requestID()
	start := c.settings.now()

	atomic.AddInt64(&c.totalRequests, 1)
	c.settings.metrics.RecordRequestStart(method)
	defer c.settings.metrics.RecordRequestEnd(method)

	val, err := c.run(ctx, key, method, resource, requestID, op, c.cfg.MaxRetries)

	elapsed := c.settings.now().Sub(start)
	atomic.AddInt64(&c.latencyNanos, int64(elapsed))
	outcome := "success"
	if err != nil {
		outcome = "error"
		atomic.AddInt64(&c.failed, 1)
		var coreErr *Error
		if errors.As(err, &coreErr) {
			c.settings.metrics.RecordError(coreErr.Type, method, resource)
		}
	} else {
		atomic.AddInt64(&c.succeeded, 1)
	}
	c.settings.metrics.RecordRequest(method, resource, outcome, elapsed)
	return val, err
}

// run performs one attempt and consumes the retry budget recursively on
// retryable failure.
func (c *Coordinator[T]) run(ctx context.Context, key, method, resource, requestID string, op Operation[T], budget int) (T, error) {
	val, err := c.attempt(ctx, key, method, resource, requestID, op)
	if err == nil {
		return val, nil
	}
	if budget <= 0 || !c.retryable(err) {
		return val, err
	}

	attempt := c.cfg.MaxRetries - budget + 1
	atomic.AddInt64(&c.retried, 1)
	c.settings.metrics.RecordRetry(method, resource, attempt)
	delay := c.pacing.Calculate(attempt, c.cfg.RetryBaseDelay, 0, 0)
	c.settings.logger.Debug().
		Str("requestId", requestID).
		Str("method", method).
		Str("resource", resource).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("retrying after transient failure")

	select {
	case <-ctx.Done():
		var zero T
		return zero, c.cancelError(method, resource, requestID, ctx.Err())
	case <-time.After(delay):
	}

	val, retryErr := c.run(ctx, key, method, resource, requestID, op, budget-1)
	if retryErr != nil && budget == 1 && c.retryable(retryErr) {
		return val, &Error{
			Type:       ErrorTypeRetriesExhausted,
			Message:    fmt.Sprintf("retries exhausted after %d attempts", c.cfg.MaxRetries+1),
			Cause:      retryErr,
			RequestID:  requestID,
			Method:     method,
			Resource:   resource,
			Attempt:    c.cfg.MaxRetries,
			MaxRetries: c.cfg.MaxRetries,
			Timestamp:  c.settings.now(),
		}
	}
	return val, retryErr
}

// attempt runs one pass: join an existing flight, or become the owner of
// a new one, honoring the saturation policy at the concurrency ceiling.
func (c *Coordinator[T]) attempt(ctx context.Context, key, method, resource, requestID string, op Operation[T]) (T, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		c.settings.metrics.RecordCircuitBreakerState("coordinator", c.breaker.State())
		var zero T
		return zero, &Error{
			Type:      ErrorTypeCircuitOpen,
			Message:   "circuit breaker is open",
			Cause:     ErrCircuitOpen,
			RequestID: requestID,
			Method:    method,
			Resource:  resource,
			Timestamp: c.settings.now(),
		}
	}

	if call, ok := c.flights.Lookup(key, c.settings.now(), c.cfg.DedupWindow); ok {
		return c.join(ctx, call, method, resource, requestID)
	}

	// No live flight for this key; becoming an owner needs a slot.
	select {
	case c.slots <- struct{}{}:
	default:
		return c.saturated(ctx, key, method, resource, requestID, op)
	}
	return c.own(ctx, key, method, resource, requestID, op)
}

// own registers a flight for key using an already-acquired slot and
// supervises its execution. Losing the registration race demotes the
// caller to a waiter and returns the slot.
func (c *Coordinator[T]) own(ctx context.Context, key, method, resource, requestID string, op Operation[T]) (T, error) {
	call, owner := c.flights.GetOrCreate(key, c.settings.now(), c.cfg.DedupWindow)
	if !owner {
		<-c.slots
		return c.join(ctx, call, method, resource, requestID)
	}

	go c.execute(ctx, key, call, method, resource, requestID, op)
	return c.await(ctx, call, method, resource, requestID)
}

// await surfaces the shared result, mapping an abandoned wait (the
// caller's own context ending) to a Cancelled error.
func (c *Coordinator[T]) await(ctx context.Context, call *flight.Call[T], method, resource, requestID string) (T, error) {
	val, err := call.Wait(ctx)
	if err != nil && !isCoreError(err) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return val, c.cancelError(method, resource, requestID, err)
	}
	return val, err
}

// join waits on an existing flight's shared result.
func (c *Coordinator[T]) join(ctx context.Context, call *flight.Call[T], method, resource, requestID string) (T, error) {
	atomic.AddInt64(&c.deduplicated, 1)
	c.settings.metrics.RecordDeduplicationHit(method, resource)
	c.settings.logger.Debug().
		Str("requestId", requestID).
		Str("method", method).
		Str("resource", resource).
		Msg("joined in-flight request")

	return c.await(ctx, call, method, resource, requestID)
}

// saturated applies the configured policy at the concurrency ceiling.
func (c *Coordinator[T]) saturated(ctx context.Context, key, method, resource, requestID string, op Operation[T]) (T, error) {
	c.settings.metrics.RecordSaturation(c.cfg.OnSaturation.String())

	switch c.cfg.OnSaturation {
	case SaturationQueue:
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			var zero T
			return zero, c.cancelError(method, resource, requestID, ctx.Err())
		}
		return c.own(ctx, key, method, resource, requestID, op)

	case SaturationReject:
		atomic.AddInt64(&c.rejected, 1)
		var zero T
		return zero, &Error{
			Type:      ErrorTypeSaturated,
			Message:   fmt.Sprintf("concurrency ceiling of %d reached", c.cfg.MaxConcurrent),
			Cause:     ErrSaturated,
			RequestID: requestID,
			Method:    method,
			Resource:  resource,
			Timestamp: c.settings.now(),
		}

	default:
		// Bypass: run the operation directly, trading deduplication for
		// progress instead of queuing indefinitely.
		atomic.AddInt64(&c.bypassed, 1)
		c.settings.logger.Debug().
			Str("requestId", requestID).
			Str("method", method).
			Str("resource", resource).
			Msg("concurrency ceiling reached, bypassing deduplication")
		return c.invoke(ctx, method, resource, requestID, op)
	}
}

// invoke runs op under the configured timeout without dedup bookkeeping.
func (c *Coordinator[T]) invoke(ctx context.Context, method, resource, requestID string, op Operation[T]) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	val, err := op(opCtx)
	if err == nil {
		if c.breaker != nil {
			c.breaker.RecordSuccess()
		}
		return val, nil
	}
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
	var zero T
	if errors.Is(err, context.DeadlineExceeded) {
		atomic.AddInt64(&c.timedOut, 1)
		c.settings.metrics.RecordTimeout(method, resource)
		return zero, c.timeoutError(method, resource, requestID)
	}
	if errors.Is(err, context.Canceled) {
		return zero, c.cancelError(method, resource, requestID, err)
	}
	return zero, c.underlyingError(method, resource, requestID, err)
}

// execute is the owner side of a flight: it races op against the timeout,
// settles the shared result exactly once, and releases the slot.
//
// The operation context is detached from the owner's caller so that a
// single departing caller cannot fail the result every joined waiter is
// blocked on.
func (c *Coordinator[T]) execute(parent context.Context, key string, call *flight.Call[T], method, resource, requestID string, op Operation[T]) {
	defer func() {
		c.flights.Forget(key, call)
		<-c.slots
	}()

	opCtx, opCancel := context.WithCancel(context.WithoutCancel(parent))
	defer opCancel()
	call.SetCancel(opCancel)

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := op(opCtx)
		done <- result{val: val, err: err}
	}()

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		if r.err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			call.Settle(r.val, nil)
			return
		}
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if errors.Is(r.err, context.Canceled) {
			if call.Settle(zero, c.cancelError(method, resource, requestID, r.err)) {
				atomic.AddInt64(&c.cancelled, 1)
				c.settings.metrics.RecordCancellation(method, resource)
			}
			return
		}
		call.Settle(zero, c.underlyingError(method, resource, requestID, r.err))

	case <-timer.C:
		// The operation may keep running in the background with its
		// result discarded if it ignores opCtx.
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		opCancel()
		if call.Settle(zero, c.timeoutError(method, resource, requestID)) {
			atomic.AddInt64(&c.timedOut, 1)
			c.settings.metrics.RecordTimeout(method, resource)
			c.settings.logger.Warn().
				Str("requestId", requestID).
				Str("method", method).
				Str("resource", resource).
				Dur("timeout", c.cfg.Timeout).
				Msg("operation timed out")
		}
	}
}

// Cancel aborts the in-flight request for (method, resource, params), if
// any. All joined callers observe a Cancelled error; the underlying
// operation must itself honor the cancellation signal to stop working.
// It reports whether a live request was cancelled.
func (c *Coordinator[T]) Cancel(method, resource string, params map[string]any) bool {
	key := RequestKey(method, resource, params)
	call, ok := c.flights.Lookup(key, c.settings.now(), c.cfg.DedupWindow)
	if !ok {
		return false
	}

	call.CancelOp()
	var zero T
	if call.Settle(zero, c.cancelError(method, resource, "", context.Canceled)) {
		atomic.AddInt64(&c.cancelled, 1)
		c.settings.metrics.RecordCancellation(method, resource)
	}
	c.flights.Forget(key, call)
	c.settings.logger.Debug().
		Str("method", method).
		Str("resource", resource).
		Msg("cancelled in-flight request")
	return true
}

// IsActive reports whether a live in-flight request exists for
// (method, resource, params).
func (c *Coordinator[T]) IsActive(method, resource string, params map[string]any) bool {
	key := RequestKey(method, resource, params)
	_, ok := c.flights.Lookup(key, c.settings.now(), c.cfg.DedupWindow)
	return ok
}

// InFlight returns the number of distinct keys currently executing.
func (c *Coordinator[T]) InFlight() int {
	return c.flights.Len()
}

// Metrics returns a snapshot of the coordinator's counters.
func (c *Coordinator[T]) Metrics() CoordinatorMetrics {
	succeeded := atomic.LoadInt64(&c.succeeded)
	failed := atomic.LoadInt64(&c.failed)
	completed := succeeded + failed

	var successRate float64
	var avgLatency time.Duration
	if completed > 0 {
		successRate = float64(succeeded) / float64(completed)
		avgLatency = time.Duration(atomic.LoadInt64(&c.latencyNanos) / completed)
	}

	return CoordinatorMetrics{
		TotalRequests: atomic.LoadInt64(&c.totalRequests),
		Deduplicated:  atomic.LoadInt64(&c.deduplicated),
		Concurrent:    len(c.slots),
		TimedOut:      atomic.LoadInt64(&c.timedOut),
		Cancelled:     atomic.LoadInt64(&c.cancelled),
		Retried:       atomic.LoadInt64(&c.retried),
		Bypassed:      atomic.LoadInt64(&c.bypassed),
		Rejected:      atomic.LoadInt64(&c.rejected),
		SuccessRate:   successRate,
		AvgLatency:    avgLatency,
	}
}

// retryable classifies err for the retry loop: timeouts and transient
// errors retry; cancellations never do; Underlying errors consult the
// caller-supplied predicate against the preserved cause.
func (c *Coordinator[T]) retryable(err error) bool {
	if IsCancelled(err) {
		return false
	}
	if IsTransient(err) {
		return true
	}
	if c.cfg.Retryable == nil {
		return false
	}
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr.Type == ErrorTypeUnderlying && coreErr.Cause != nil {
		return c.cfg.Retryable(coreErr.Cause)
	}
	return c.cfg.Retryable(err)
}

func (c *Coordinator[T]) timeoutError(method, resource, requestID string) error {
	return &Error{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation timed out after %v", c.cfg.Timeout),
		RequestID:  requestID,
		Method:     method,
		Resource:   resource,
		MaxRetries: c.cfg.MaxRetries,
		Timestamp:  c.settings.now(),
		Duration:   c.cfg.Timeout,
	}
}

func (c *Coordinator[T]) cancelError(method, resource, requestID string, cause error) error {
	return &Error{
		Type:      ErrorTypeCancelled,
		Message:   "request cancelled",
		Cause:     cause,
		RequestID: requestID,
		Method:    method,
		Resource:  resource,
		Timestamp: c.settings.now(),
	}
}

func (c *Coordinator[T]) underlyingError(method, resource, requestID string, cause error) error {
	return &Error{
		Type:      ErrorTypeUnderlying,
		Message:   "operation failed",
		Cause:     cause,
		RequestID: requestID,
		Method:    method,
		Resource:  resource,
		Timestamp: c.settings.now(),
	}
}

func isCoreError(err error) bool {
	var coreErr *Error
	return errors.As(err, &coreErr)
}
