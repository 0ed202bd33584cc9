package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"briefbot/internal/summarize"
)

func TestRetryPolicyBackoffSequence(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		Jitter:      0.2,
		Rand:        func() float64 { return 0.5 }, // jitter factor exactly 1.0
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, delay := range want {
		d := p.Decide(attempt, KindTransient)
		if !d.Retry {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if d.Delay != delay {
			t.Fatalf("attempt %d: delay = %v, want %v", attempt, d.Delay, delay)
		}
	}

	if d := p.Decide(3, KindTransient); d.Retry {
		t.Fatalf("attempt 3 should exhaust the policy, got retry after %v", d.Delay)
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	t.Parallel()

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		p := RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   10 * time.Second,
			MaxDelay:    time.Hour,
			Jitter:      0.2,
			Rand:        func() float64 { return r },
		}
		d := p.Decide(0, KindTransient)
		if !d.Retry {
			t.Fatalf("rand=%v: expected retry", r)
		}
		if d.Delay < 8*time.Second || d.Delay > 12*time.Second {
			t.Fatalf("rand=%v: delay %v outside [8s,12s]", r, d.Delay)
		}
	}
}

func TestRetryPolicyCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts: 20,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Rand:        func() float64 { return 0.5 },
	}
	d := p.Decide(10, KindTransient)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if d.Delay > 30*time.Second {
		t.Fatalf("delay %v exceeds cap", d.Delay)
	}
}

func TestRetryPolicyNonRetryableNeverRetries(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Millisecond}
	for attempt := 0; attempt < 3; attempt++ {
		if d := p.Decide(attempt, KindNonRetryable); d.Retry {
			t.Fatalf("attempt %d: non-retryable error must not retry", attempt)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"no_retry_wrapper", NoRetry(errors.New("bad config")), KindNonRetryable},
		{"transient", summarize.Transient("upstream 503", errors.New("boom")), KindTransient},
		{"rejected_request", &summarize.RequestError{Status: 401, Detail: "bad token"}, KindNonRetryable},
		{"wrapped_rejected_request", fmt.Errorf("summarize: %w", &summarize.RequestError{Status: 400}), KindNonRetryable},
		{"unknown", errors.New("mystery"), KindTransient},
		{"wrapped_no_retry", errors.New("outer: " + NoRetry(errors.New("x")).Error()), KindTransient},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tc.err); got != tc.want {
				t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
