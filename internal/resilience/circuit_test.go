package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_DegradedAtThreshold_StillPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 3,
		FailureThreshold:  5,
		ResetTimeout:      1 * time.Minute,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	if cb.State() != CircuitDegraded {
		t.Fatalf("expected degraded state after 3 failures, got %s", cb.State())
	}

	// Degraded is a warning state, not a gate: calls still reach the source.
	var called bool
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return errors.New("fail")
	})
	if !called {
		t.Error("expected call to pass through in degraded state")
	}
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 3,
		FailureThreshold:  5,
		ResetTimeout:      1 * time.Minute,
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state after 5 failures, got %s", cb.State())
	}

	// Next call short-circuits without touching the source.
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 3,
		FailureThreshold:  5,
		ResetTimeout:      1 * time.Minute,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	failures, state := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state below degraded threshold, got %s", state)
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})

	failures, _ = cb.Counters()
	if failures != 0 {
		t.Errorf("expected 0 consecutive failures after success, got %d", failures)
	}
}

func TestCircuitBreaker_DegradedRecoversOnSuccess(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 3,
		FailureThreshold:  5,
		ResetTimeout:      1 * time.Minute,
		OnStateChange: func(_, to CircuitState, _ int) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after recovery, got %s", cb.State())
	}
	if len(transitions) != 2 || transitions[0] != CircuitDegraded || transitions[1] != CircuitClosed {
		t.Errorf("expected transitions [degraded closed], got %v", transitions)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  2,
		ResetTimeout:      100 * time.Millisecond,
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }

	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open state after timeout, got %s", cb.State())
	}

	// Successful probe closes the circuit.
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailure_Reopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  2,
		ResetTimeout:      100 * time.Millisecond,
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }

	// Fail in half-open state → reopen.
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("still failing")
	})

	failures, state := cb.Counters()
	if state != CircuitOpen {
		t.Errorf("expected open state after half-open failure, got %s", state)
	}
	if failures != 3 {
		t.Errorf("expected 3 total failures, got %d", failures)
	}
}

func TestCircuitBreaker_OneTransitionPerThreshold(t *testing.T) {
	type change struct {
		from, to CircuitState
		failures int
	}
	var transitions []change
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 3,
		FailureThreshold:  5,
		ResetTimeout:      1 * time.Minute,
		OnStateChange: func(from, to CircuitState, failures int) {
			transitions = append(transitions, change{from, to, failures})
		},
	})

	// Seven consecutive failures: exactly two transitions, not seven logs.
	for i := 0; i < 7; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0].to != CircuitDegraded || transitions[0].failures != 3 {
		t.Errorf("expected first transition to degraded at 3 failures, got %+v", transitions[0])
	}
	if transitions[1].to != CircuitOpen || transitions[1].failures != 5 {
		t.Errorf("expected second transition to open at 5 failures, got %+v", transitions[1])
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  2,
		ResetTimeout:      1 * time.Minute,
		ShouldTrip: func(err error) bool {
			return err.Error() == "tripworthy"
		},
	})

	// These shouldn't count toward the threshold.
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("non-tripworthy")
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed (non-tripworthy errors), got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("tripworthy")
		})
	}
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after tripworthy errors, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  2,
		ResetTimeout:      1 * time.Hour,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 50,
		FailureThreshold:  100,
		ResetTimeout:      1 * time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}()
	}
	wg.Wait()
	// Just verifying no race/panic.
}

func TestExecuteVal_CircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  1,
		ResetTimeout:      1 * time.Hour,
	})

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestServiceBreakers_GetOrCreate(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())

	cb1 := sb.Get("pncp")
	cb2 := sb.Get("pncp")
	cb3 := sb.Get("comprasnet")

	if cb1 != cb2 {
		t.Error("expected same breaker for same source")
	}
	if cb1 == cb3 {
		t.Error("expected different breakers for different sources")
	}
}

func TestServiceBreakers_States(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{
		DegradedThreshold: 1,
		FailureThreshold:  1,
		ResetTimeout:      1 * time.Hour,
	})

	cb := sb.Get("pncp")
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})

	_ = sb.Get("comprasnet")

	states := sb.States()
	if states["pncp"] != CircuitOpen {
		t.Errorf("expected pncp=open, got %s", states["pncp"])
	}
	if states["comprasnet"] != CircuitClosed {
		t.Errorf("expected comprasnet=closed, got %s", states["comprasnet"])
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitDegraded, "degraded"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
