package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"mailvetter/internal/engine"
)

// stubValidator returns a deterministic, ordering-insensitive result based
// on the email so tests can assert exact content after reordering.
type stubValidator struct {
	calls int32
}

func (s *stubValidator) Validate(_ context.Context, email string) engine.ValidationResult {
	atomic.AddInt32(&s.calls, 1)
	return engine.ValidationResult{
		Email: email,
		Valid: true,
		Reason: "Email is valid",
	}
}

func TestValidateManyPreservesOrderAndLength(t *testing.T) {
	emails := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		emails = append(emails, fmt.Sprintf("user%d@example.com", i))
	}

	sched := New(&stubValidator{})
	results := sched.ValidateMany(context.Background(), emails)

	if len(results) != len(emails) {
		t.Fatalf("expected %d results, got %d", len(emails), len(results))
	}
	for i, r := range results {
		if r.Email != emails[i] {
			t.Fatalf("result %d out of order: got %q want %q", i, r.Email, emails[i])
		}
	}
}

func TestValidateStreamEmitsCompleteOnEmptyInput(t *testing.T) {
	sched := New(&stubValidator{})
	var events []ProgressEvent
	results := sched.ValidateStream(context.Background(), nil, func(e ProgressEvent) {
		events = append(events, e)
	})

	if len(results) != 0 {
		t.Fatalf("expected no results for empty input")
	}
	if len(events) != 1 || events[0].Type != EventComplete {
		t.Fatalf("expected a single complete event for empty input, got %+v", events)
	}
}

func TestValidateStreamProgressIsMonotone(t *testing.T) {
	emails := make([]string, 0, 13)
	for i := 0; i < 13; i++ {
		emails = append(emails, fmt.Sprintf("user%d@example.com", i))
	}

	sched := New(&stubValidator{})
	var fractions []float64
	results := sched.ValidateStream(context.Background(), emails, func(e ProgressEvent) {
		if e.Type == EventProgress {
			fractions = append(fractions, e.Progress)
		}
	})

	if len(results) != len(emails) {
		t.Fatalf("expected %d results, got %d", len(emails), len(results))
	}
	last := 0.0
	for _, f := range fractions {
		if f < last {
			t.Fatalf("progress went backwards: %v", fractions)
		}
		last = f
	}
}

func TestValidateManyContinuesAfterPanic(t *testing.T) {
	v := &panicOnceValidator{}
	sched := New(v)
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	results := sched.ValidateMany(context.Background(), emails)

	if len(results) != 3 {
		t.Fatalf("expected 3 results despite one panicking attempt, got %d", len(results))
	}
}

// panicOnceValidator panics on the first call for "a@example.com" only,
// to exercise the scheduler's panic recovery and per-item retry (the retry
// of "a@example.com" succeeds) without poisoning every subsequent item.
type panicOnceValidator struct {
	panicked int32
}

func (p *panicOnceValidator) Validate(_ context.Context, email string) engine.ValidationResult {
	if email == "a@example.com" && atomic.CompareAndSwapInt32(&p.panicked, 0, 1) {
		panic("boom")
	}
	return engine.ValidationResult{Email: email, Valid: true, Reason: "Email is valid"}
}
