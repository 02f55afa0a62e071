package fetchcore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// settings holds the ambient collaborators shared by Store, Coordinator
// and Orchestrator: logger, metrics, clock, size estimation and request-ID
// generation. All have safe defaults.
type settings struct {
	logger     zerolog.Logger
	metrics    *MetricsCollector
	sizeOf     func(any) int64
	now        func() time.Time
	requestID  func() string
	breakerCfg *CircuitBreakerConfig
	namespace  string
}

// Option configures the ambient collaborators of a component.
type Option func(*settings)

func newSettings(opts ...Option) settings {
	s := settings{
		logger:    zerolog.Nop(),
		metrics:   nil,
		sizeOf:    EstimateSize,
		now:       time.Now,
		requestID: uuid.NewString,
		namespace: "default",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the zerolog logger used for debug and swallowed-error
// logging. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(s *settings) {
		s.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector, typically built
// with NewMetricsCollectorWithRegistry for an isolated registry.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(s *settings) {
		s.metrics = collector
	}
}

// WithSizeEstimator overrides how the store estimates a value's size in
// bytes. The default serializes to JSON and takes the byte length.
func WithSizeEstimator(fn func(any) int64) Option {
	return func(s *settings) {
		s.sizeOf = fn
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithRequestIDGenerator overrides the request-ID generator used in log
// lines. The default generates UUIDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(s *settings) {
		s.requestID = gen
	}
}

// WithCircuitBreaker enables a circuit breaker in front of the
// coordinator's operation execution. Zero-valued config fields use the
// breaker defaults.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(s *settings) {
		s.breakerCfg = &config
	}
}

// WithNamespace sets the cache namespace the orchestrator writes entries
// under. The default is "default".
func WithNamespace(namespace string) Option {
	return func(s *settings) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// EstimateSize is the default size estimator: the JSON-serialized byte
// length of the value. It is an approximation of memory footprint, not an
// exact byte count; values that cannot be serialized fall back to the
// length of their fmt representation.
func EstimateSize(v any) int64 {
	if v == nil {
		return 0
	}
	b, err := json.Marshal(v)
	if err != nil {
		return int64(len(fmt.Sprintf("%v", v)))
	}
	return int64(len(b))
}
