package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig is the tunable subset of Config, sourced per
// backend class from CB_<CLASS>_* environment variables.
type CircuitBreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// envOverride applies CB_<prefix>_* variables on top of the defaults.
func (cbc CircuitBreakerConfig) envOverride(prefix string) CircuitBreakerConfig {
	key := func(suffix string) string { return "CB_" + prefix + "_" + suffix }
	cbc.MaxRequests = envUint32(key("MAX_REQUESTS"), cbc.MaxRequests)
	cbc.Interval = envDuration(key("INTERVAL"), cbc.Interval)
	cbc.Timeout = envDuration(key("TIMEOUT"), cbc.Timeout)
	cbc.FailureThreshold = envUint32(key("FAILURE_THRESHOLD"), cbc.FailureThreshold)
	cbc.SuccessThreshold = envUint32(key("SUCCESS_THRESHOLD"), cbc.SuccessThreshold)
	return cbc
}

// GetHTTPConfig returns breaker settings for the embedding, rerank and
// vector-store HTTP clients. These backends recover fast, so the breaker
// trips early and re-probes quickly.
func GetHTTPConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}.envOverride("HTTP")
}

// GetRedisConfig returns breaker settings for the embedding cache.
func GetRedisConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}.envOverride("REDIS")
}

// GetDatabaseConfig returns breaker settings for the metadata store. The
// database tolerates more failures before tripping and waits longer
// before probing, since a flapping breaker is worse than slow queries.
func GetDatabaseConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}.envOverride("DB")
}

// ToConfig converts the tunables into a breaker Config. The state-change
// hook is left nil for the wrapper to install.
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      cbc.MaxRequests,
		Interval:         cbc.Interval,
		Timeout:          cbc.Timeout,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
	}
}

func envUint32(key string, fallback uint32) uint32 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return uint32(v)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
