package resilience

import (
	"time"

	"go.uber.org/zap"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(degradedThreshold, failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if degradedThreshold > 0 {
		cfg.DegradedThreshold = degradedThreshold
	}
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// StateChangeLogger returns an OnStateChange callback that logs every
// breaker transition for the named source. Degradation and opening are
// warnings; recovery is informational.
func StateChangeLogger(source string) func(from, to CircuitState, failures int) {
	return func(from, to CircuitState, failures int) {
		fields := []zap.Field{
			zap.String("source", source),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Int("consecutive_failures", failures),
		}
		switch to {
		case CircuitDegraded, CircuitOpen:
			zap.L().Warn("source circuit state changed", fields...)
		default:
			zap.L().Info("source circuit state changed", fields...)
		}
	}
}
