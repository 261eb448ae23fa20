package breaker

import (
	"testing"
	"time"
)

func TestClosedOpensOnConsecutiveFailures(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, MinRequests: 1000})
	for i := 0; i < 2; i++ {
		g, err := cb.Admit()
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		g.Failure()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected still closed after 2 failures, got %v", cb.State())
	}
	g, err := cb.Admit()
	if err != nil {
		t.Fatalf("admit 3rd: %v", err)
	}
	g.Failure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3rd consecutive failure, got %v", cb.State())
	}
}

func TestOpenRejectsUntilTimeout(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Failure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}
	if _, err := cb.Admit(); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout, got %v", cb.State())
	}
}

func TestHalfOpenAdmissionCap(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, HalfOpenMaxRequests: 1, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Failure()
	time.Sleep(2 * time.Millisecond)

	g1, err := cb.Admit()
	if err != nil {
		t.Fatalf("expected first half-open probe admitted: %v", err)
	}
	if _, err := cb.Admit(); err != ErrHalfOpenSaturated {
		t.Fatalf("expected saturated, got %v", err)
	}
	g1.Success()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after half-open success with threshold 1, got %v", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Failure()
	time.Sleep(2 * time.Millisecond)

	g2, err := cb.Admit()
	if err != nil {
		t.Fatalf("expected probe admitted: %v", err)
	}
	g2.Failure()
	if cb.State() != StateOpen {
		t.Fatalf("expected re-opened after half-open failure, got %v", cb.State())
	}
}

func TestGuardDropWithoutVerdictCountsAsFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, MinRequests: 1000})
	g, err := cb.Admit()
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	g.Close() // no explicit Success/Failure call
	if cb.State() != StateOpen {
		t.Fatalf("expected dropped guard to count as failure and open breaker, got %v", cb.State())
	}
}

func TestGuardRecordsExactlyOneOutcome(t *testing.T) {
	cb := New(Config{FailureThreshold: 5, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Success()
	g.Failure() // should be a no-op, verdict already resolved
	g.Close()   // also a no-op

	snap := cb.Snapshot()
	if snap.Success != 1 || snap.Failure != 0 {
		t.Fatalf("expected exactly one recorded success, got %+v", snap)
	}
}

func TestRateBasedTrip(t *testing.T) {
	cb := New(Config{FailureThreshold: 1000, MinRequests: 4, FailureRateThreshold: 0.5})
	outcomes := []bool{true, true, false, false} // 2 success, 2 failure = 50% rate
	for _, success := range outcomes {
		g, err := cb.Admit()
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if success {
			g.Success()
		} else {
			g.Failure()
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected rate-based trip at 50%% failure rate, got %v", cb.State())
	}
}

func TestResetForcesClosed(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Failure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after Reset, got %v", cb.State())
	}
}

func TestRetryAfterZeroWhenNotOpen(t *testing.T) {
	cb := New(Config{})
	if d := cb.RetryAfter(); d != 0 {
		t.Fatalf("expected 0 RetryAfter when closed, got %v", d)
	}
}

func TestGuardIgnoreDoesNotCountAsFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, MinRequests: 1000})
	for i := 0; i < 10; i++ {
		g, err := cb.Admit()
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		g.Ignore()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected Ignore() outcomes to never trip the breaker, got %v", cb.State())
	}
}

func TestGuardIgnoreReleasesHalfOpenSlot(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, HalfOpenMaxRequests: 1, MinRequests: 1000})
	g, _ := cb.Admit()
	g.Failure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}
	time.Sleep(2 * time.Millisecond)

	g2, err := cb.Admit()
	if err != nil {
		t.Fatalf("expected half-open probe to be admitted: %v", err)
	}
	g2.Ignore()

	g3, err := cb.Admit()
	if err != nil {
		t.Fatalf("expected a second half-open probe after Ignore() freed the slot: %v", err)
	}
	g3.Success()
}
