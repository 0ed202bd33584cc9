package engine

import (
	"math/rand"
	"time"
)

// ErrorKind classifies an execution failure for the retry decision.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindNonRetryable
)

// Decision is the output of the retry policy.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy is a pure decision table: no I/O, no clock, injectable
// randomness. attempt is the zero-based index of the attempt that just
// failed, so with MaxAttempts=3 the policy grants retries after attempts
// 0, 1 and 2 and exhausts on attempt 3.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // ±fraction, 0.2 = ±20%

	// Rand returns a value in [0,1); nil uses math/rand. Tests inject a
	// fixed function for determinism.
	Rand func() float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Decide returns whether the failed attempt should be retried and after
// how long. Non-retryable errors never retry; transient errors retry with
// capped exponential backoff and bounded jitter.
func (p RetryPolicy) Decide(attempt int, kind ErrorKind) Decision {
	p = p.withDefaults()

	if kind == KindNonRetryable {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}

	if p.Jitter > 0 {
		rnd := p.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		// Spread across [1-j, 1+j].
		f := 1 + (rnd()*2-1)*p.Jitter
		d = time.Duration(float64(d) * f)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return Decision{Retry: true, Delay: d}
}

func policyFromConfig(cfg Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.RetryMax,
		BaseDelay:   cfg.RetryBase,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      cfg.RetryJitter,
	}
}
