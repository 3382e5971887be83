package entity

import (
	"testing"
	"time"
)

func TestBreaker_tripsAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, 2, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != breakerClosed {
		t.Fatalf("state = %v after 2 failures, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != breakerOpen {
		t.Fatalf("state = %v after 3 failures, want open", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Error("Allow succeeded while open")
	}
}

func TestBreaker_successResetsFailureCount(t *testing.T) {
	b := newBreaker(3, 2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != breakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_halfOpenAfterCooldown(t *testing.T) {
	b := newBreaker(1, 2, 10*time.Millisecond)

	b.RecordFailure()
	if b.State() != breakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown: %v", err)
	}
	if b.State() != breakerHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}

	// Two successful probes close the circuit.
	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != breakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_failedProbeReopens(t *testing.T) {
	b := newBreaker(1, 2, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	b.RecordFailure()
	if b.State() != breakerOpen {
		t.Errorf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Error("Allow succeeded right after reopening")
	}
}
