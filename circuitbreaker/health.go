// Package circuitbreaker tracks upstream endpoint health and picks the endpoint
// each relayed turn is sent to.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"chat-relay/logger"
)

// EndpointHealth tracks the health status of an endpoint
type EndpointHealth struct {
	URL             string    `json:"url"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	TotalRequests   int       `json:"total_requests"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime time.Time `json:"last_success_time,omitempty"`
	CircuitOpen     bool      `json:"circuit_open"`
	NextRetryTime   time.Time `json:"next_retry_time,omitempty"`
}

// Config controls circuit breaker behavior
type Config struct {
	FailureThreshold   int           `yaml:"failure_threshold"`    // consecutive failures before the circuit opens
	BackoffDuration    time.Duration `yaml:"backoff_duration"`     // wait before retrying a failed endpoint
	MaxBackoffDuration time.Duration `yaml:"max_backoff_duration"` // cap for the growing backoff
}

// DefaultConfig returns the defaults used when nothing is configured
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
	}
}

// HealthManager manages endpoint health tracking
type HealthManager struct {
	config      Config
	healthMap   map[string]*EndpointHealth
	healthMutex sync.RWMutex
	obsLogger   *logger.ObservabilityLogger
	now         func() time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(config Config, obsLogger *logger.ObservabilityLogger) *HealthManager {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if obsLogger == nil {
		obsLogger = logger.Discard()
	}
	return &HealthManager{
		config:    config,
		healthMap: make(map[string]*EndpointHealth),
		obsLogger: obsLogger,
		now:       time.Now,
	}
}

// InitializeEndpoints initializes health tracking for all endpoints
func (hm *HealthManager) InitializeEndpoints(endpoints []string) {
	hm.healthMutex.Lock()
	defer hm.healthMutex.Unlock()

	for _, endpoint := range endpoints {
		if _, exists := hm.healthMap[endpoint]; !exists {
			hm.healthMap[endpoint] = &EndpointHealth{URL: endpoint}
		}
	}
}

// IsHealthy reports whether the endpoint's circuit is closed or its backoff has elapsed
func (hm *HealthManager) IsHealthy(endpoint string) bool {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists || !health.CircuitOpen {
		return true
	}
	return hm.now().After(health.NextRetryTime)
}

// SuccessRate returns the share of successful requests, 0.5 for untried endpoints
func (hm *HealthManager) SuccessRate(endpoint string) float64 {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	health, exists := hm.healthMap[endpoint]
	if !exists || health.TotalRequests == 0 {
		return 0.5
	}
	return float64(health.SuccessCount) / float64(health.TotalRequests)
}

// Snapshot returns a copy of every tracked endpoint, sorted by URL
func (hm *HealthManager) Snapshot() []EndpointHealth {
	hm.healthMutex.RLock()
	defer hm.healthMutex.RUnlock()

	out := make([]EndpointHealth, 0, len(hm.healthMap))
	for _, h := range hm.healthMap {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Rank orders endpoints healthy first, then by success rate. The input slice
// is not modified.
func (hm *HealthManager) Rank(endpoints []string) []string {
	type score struct {
		url     string
		rate    float64
		healthy bool
	}
	scores := make([]score, len(endpoints))
	for i, e := range endpoints {
		scores[i] = score{url: e, rate: hm.SuccessRate(e), healthy: hm.IsHealthy(e)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].healthy != scores[j].healthy {
			return scores[i].healthy
		}
		return scores[i].rate > scores[j].rate
	})

	ranked := make([]string, len(scores))
	for i, s := range scores {
		ranked[i] = s.url
	}
	return ranked
}
