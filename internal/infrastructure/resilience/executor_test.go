package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		Retry: RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2},
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		Retry: RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2},
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		Retry:   RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
		Breaker: BreakerPolicy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1},
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	exec := NewExecutor(Config{
		Retry:          RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
		AttemptTimeout: 20 * time.Millisecond,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "slow", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return errors.New("attempt timed out")
		}
		return nil
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected second attempt to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteNotifiesStateListener(t *testing.T) {
	var transitions []gobreaker.State
	exec := NewExecutor(Config{
		Retry:   RetryPolicy{MaxAttempts: 1},
		Breaker: BreakerPolicy{Enabled: true, MinRequests: 1, FailureRatio: 0.5, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1},
	}, WithStateListener(func(_ string, _ gobreaker.State, to gobreaker.State) {
		transitions = append(transitions, to)
	}))

	_ = exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
		return errors.New("down")
	}, nil)

	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Fatalf("expected transition to open, got %v", transitions)
	}
}

func TestExecuteHonorsPerOperationAttempts(t *testing.T) {
	exec := NewExecutor(Config{
		Retry:    RetryPolicy{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
		Attempts: map[string]int{"websearch.fetch": 1, "ignored": 0},
	})
	if exec.MaxAttempts("ignored") != 4 {
		t.Fatalf("expected non-positive override to fall back to the retry policy")
	}

	attempts := 0
	_ = exec.Execute(context.Background(), "websearch.fetch", func(context.Context) error {
		attempts++
		return errors.New("flaky")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestExecuteSkipsRetryThatWouldOutliveDeadline(t *testing.T) {
	exec := NewExecutor(Config{
		Retry: RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, Multiplier: 2},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		return errors.New("busy")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected one failed attempt, got attempts=%d err=%v", attempts, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected no backoff wait past the deadline")
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestHTTPClassifier(t *testing.T) {
	classify := HTTPClassifier(TransientStatus)
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{name: "canceled", err: context.Canceled, want: ErrorClassification{}},
		{name: "open breaker", err: gobreaker.ErrOpenState, want: ErrorClassification{Retryable: true, RecordFailure: true}},
		{name: "503", err: &StatusError{StatusCode: http.StatusServiceUnavailable}, want: ErrorClassification{Retryable: true, RecordFailure: true}},
		{name: "404", err: fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusNotFound}), want: ErrorClassification{}},
		{name: "other", err: errors.New("decode"), want: ErrorClassification{RecordFailure: true}},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestSentinelClassifier(t *testing.T) {
	errGone := errors.New("connection closed")
	classify := SentinelClassifier(errGone)
	if !classify(fmt.Errorf("publish: %w", errGone)).Retryable {
		t.Fatalf("expected sentinel match to be retryable")
	}
	if got := classify(errors.New("bad subject")); got.Retryable || !got.RecordFailure {
		t.Fatalf("unexpected classification %+v", got)
	}
}

func TestNewStatusErrorAndWrapTemporary(t *testing.T) {
	rec := httptest.NewRecorder()
	http.Error(rec, "model loading", http.StatusBadGateway)
	err := error(NewStatusError("ollama", "embed", rec.Result()))

	if err.Error() != "ollama embed status: 502 Bad Gateway: model loading" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !HasStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected status to be recoverable from the error")
	}
	if !errors.Is(WrapTemporary("ollama embed", err, HTTPClassifier(TransientStatus)), domain.ErrTemporary) {
		t.Fatalf("expected 502 to be wrapped as temporary")
	}
	if errors.Is(WrapTemporary("ollama embed", err, HTTPClassifier(func(int) bool { return false })), domain.ErrTemporary) {
		t.Fatalf("expected non-transient status to stay permanent")
	}
}
