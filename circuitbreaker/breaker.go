package circuitbreaker

import (
	"sync"
	"time"

	"chat-relay/logger"
)

// RecordFailure marks an endpoint as failed and potentially opens its circuit
func (hm *HealthManager) RecordFailure(endpoint string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	health := hm.entry(endpoint)
	now := hm.now()
	health.FailureCount++
	health.TotalRequests++
	health.LastFailureTime = now

	if health.FailureCount < hm.config.FailureThreshold {
		hm.obsLogger.Warn(logger.ComponentCircuitBreaker, logger.CategoryWarning, "", "Endpoint failure recorded", map[string]interface{}{
			"endpoint":  endpoint,
			"failures":  health.FailureCount,
			"threshold": hm.config.FailureThreshold,
		})
		return
	}

	// Backoff grows linearly with failures past the threshold, capped at max.
	over := health.FailureCount - hm.config.FailureThreshold + 1
	backoff := time.Duration(int64(hm.config.BackoffDuration) * int64(over))
	if hm.config.MaxBackoffDuration > 0 && backoff > hm.config.MaxBackoffDuration {
		backoff = hm.config.MaxBackoffDuration
	}
	health.CircuitOpen = true
	health.NextRetryTime = now.Add(backoff)

	hm.obsLogger.CircuitBreakerEvent(endpoint, "Circuit breaker opened", map[string]interface{}{
		"failures": health.FailureCount,
		"retry_in": backoff.String(),
	})
}

// RecordSuccess marks an endpoint as successful and closes its circuit
func (hm *HealthManager) RecordSuccess(endpoint string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	health := hm.entry(endpoint)
	health.SuccessCount++
	health.TotalRequests++
	health.LastSuccessTime = hm.now()

	if health.CircuitOpen {
		hm.obsLogger.CircuitBreakerEvent(endpoint, "Circuit breaker closed", nil)
	}
	health.CircuitOpen = false
	health.FailureCount = 0
	health.NextRetryTime = time.Time{}
}

// entry must be called with healthMutex held
func (hm *HealthManager) entry(endpoint string) *EndpointHealth {
	health, exists := hm.healthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		hm.healthMap[endpoint] = health
	}
	return health
}

// Rotation hands out endpoints round-robin, skipping open circuits
type Rotation struct {
	endpoints []string
	health    *HealthManager

	mu   sync.Mutex
	next int
}

// NewRotation starts tracking endpoints in hm
func NewRotation(endpoints []string, hm *HealthManager) *Rotation {
	hm.InitializeEndpoints(endpoints)
	return &Rotation{endpoints: endpoints, health: hm}
}

// Endpoints returns the configured endpoints
func (r *Rotation) Endpoints() []string {
	return r.endpoints
}

// Select returns the next healthy endpoint. When every circuit is open it
// falls back to the best ranked endpoint so a turn is still attempted.
func (r *Rotation) Select() string {
	if len(r.endpoints) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempts := 0; attempts < len(r.endpoints); attempts++ {
		endpoint := r.endpoints[r.next]
		r.next = (r.next + 1) % len(r.endpoints)
		if r.health.IsHealthy(endpoint) {
			return endpoint
		}
		r.health.obsLogger.Debug(logger.ComponentCircuitBreaker, logger.CategoryHealth, "", "Skipping unhealthy endpoint", map[string]interface{}{
			"endpoint": endpoint,
		})
	}

	endpoint := r.health.Rank(r.endpoints)[0]
	r.health.obsLogger.Warn(logger.ComponentCircuitBreaker, logger.CategoryWarning, "", "No healthy endpoints, using fallback", map[string]interface{}{
		"endpoint": endpoint,
	})
	return endpoint
}
