package fetchcore

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewSettingsDefaults(t *testing.T) {
	s := newSettings()

	if s.metrics != nil {
		t.Error("metrics should be disabled by default")
	}
	if s.namespace != "default" {
		t.Errorf("namespace = %q, want %q", s.namespace, "default")
	}
	if s.breakerCfg != nil {
		t.Error("circuit breaker should be disabled by default")
	}
	if id := s.requestID(); id == "" {
		t.Error("default request ID generator returned empty string")
	}
	if s.requestID() == s.requestID() {
		t.Error("request IDs should be unique")
	}
	if s.now().IsZero() {
		t.Error("default clock returned the zero time")
	}
}

func TestOptionsApply(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := newSettings(
		WithLogger(logger),
		WithClock(func() time.Time { return fixed }),
		WithRequestIDGenerator(func() string { return "req-1" }),
		WithSizeEstimator(func(any) int64 { return 7 }),
		WithNamespace("api"),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3}),
	)

	if !s.now().Equal(fixed) {
		t.Error("WithClock not applied")
	}
	if s.requestID() != "req-1" {
		t.Error("WithRequestIDGenerator not applied")
	}
	if s.sizeOf("anything") != 7 {
		t.Error("WithSizeEstimator not applied")
	}
	if s.namespace != "api" {
		t.Error("WithNamespace not applied")
	}
	if s.breakerCfg == nil || s.breakerCfg.FailureThreshold != 3 {
		t.Error("WithCircuitBreaker not applied")
	}
}

func TestWithNamespaceIgnoresEmpty(t *testing.T) {
	s := newSettings(WithNamespace(""))
	if s.namespace != "default" {
		t.Errorf("namespace = %q, want %q", s.namespace, "default")
	}
}

func TestEstimateSize(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int64
	}{
		{"nil", nil, 0},
		{"string", "hello", 7}, // JSON quotes included
		{"int", 1234, 4},
		{"struct", struct {
			A int    `json:"a"`
			B string `json:"b"`
		}{1, "x"}, int64(len(`{"a":1,"b":"x"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateSize(tt.v); got != tt.want {
				t.Errorf("EstimateSize(%v) = %d, want %d", tt.v, got, tt.want)
			}
		})
	}
}

func TestEstimateSizeUnserializable(t *testing.T) {
	// Channels cannot be JSON-serialized; the fmt fallback still yields a
	// positive estimate.
	if got := EstimateSize(make(chan int)); got <= 0 {
		t.Errorf("EstimateSize(chan) = %d, want > 0", got)
	}
}
