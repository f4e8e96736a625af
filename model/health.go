package model

import (
	"sync"
	"time"
)

// HealthConfig configures endpoint health tracking.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit stays open before a probe
	// is allowed.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns the default circuit-breaker settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// endpointHealth is the tracked state for one endpoint.
type endpointHealth struct {
	failureCount    int
	circuitOpenedAt time.Time
}

// HealthTracker tracks endpoint availability with a simple circuit breaker.
// Endpoints with no recorded history are considered available.
type HealthTracker struct {
	mu     sync.RWMutex
	config HealthConfig
	state  map[string]*endpointHealth
	now    func() time.Time
}

// NewHealthTracker creates a health tracker with the given config.
func NewHealthTracker(config HealthConfig) *HealthTracker {
	return &HealthTracker{
		config: config,
		state:  map[string]*endpointHealth{},
		now:    time.Now,
	}
}

// MarkSuccess records a successful request, closing any open circuit.
func (h *HealthTracker) MarkSuccess(endpoint string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[endpoint] = &endpointHealth{}
}

// MarkFailure records a failed request, opening the circuit once the failure
// threshold is reached.
func (h *HealthTracker) MarkFailure(endpoint string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.state[endpoint]
	if s == nil {
		s = &endpointHealth{}
		h.state[endpoint] = s
	}
	s.failureCount++
	if s.failureCount >= h.config.FailureThreshold && s.circuitOpenedAt.IsZero() {
		s.circuitOpenedAt = h.now()
	}
}

// Available reports whether an endpoint may be used. An open circuit becomes
// available again after the recovery timeout (half-open probe).
func (h *HealthTracker) Available(endpoint string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.state[endpoint]
	if s == nil || s.circuitOpenedAt.IsZero() {
		return true
	}
	return h.now().Sub(s.circuitOpenedAt) >= h.config.RecoveryTimeout
}
