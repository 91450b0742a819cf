package resilience

import "time"

// RetryPolicy bounds how often a failed call is repeated and how long the executor waits in between.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy configures the circuit breaker kept per operation name.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// AttemptTimeout bounds each attempt; zero leaves only the caller's deadline.
	AttemptTimeout time.Duration

	// Attempts overrides Retry.MaxAttempts for single operations, keyed by operation name
	// (for example "websearch.fetch").
	Attempts map[string]int
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2.0,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c
	out.Retry = c.Retry.normalize(def.Retry)
	out.Breaker = c.Breaker.normalize(def.Breaker)
	if out.AttemptTimeout < 0 {
		out.AttemptTimeout = 0
	}

	out.Attempts = make(map[string]int, len(c.Attempts))
	for op, n := range c.Attempts {
		if n > 0 {
			out.Attempts[op] = n
		}
	}
	return out
}

func (p RetryPolicy) normalize(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p BreakerPolicy) normalize(def BreakerPolicy) BreakerPolicy {
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return p
}

// backoff is the wait after the given failed attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		wait *= p.Multiplier
		if wait >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(wait)
}
