package proxy

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromSkipsMalformedAndComments(t *testing.T) {
	data := strings.Join([]string{
		"# comment",
		"",
		"proxy1.example.com:1080",
		"proxy2.example.com:1080:user:pass",
		"not-a-valid-line",
		"  ",
	}, "\n")

	p, err := LoadFrom(strings.NewReader(data))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if got := p.Len(); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	p, err := LoadFrom(strings.NewReader("a.example.com:1080\nb.example.com:1080\n"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	e1, ok := p.Acquire()
	if !ok || e1.Host != "a.example.com" {
		t.Fatalf("expected a.example.com first, got %+v (ok=%v)", e1, ok)
	}
	p.Release(e1)

	e2, ok := p.Acquire()
	if !ok || e2.Host != "b.example.com" {
		t.Fatalf("expected b.example.com second, got %+v (ok=%v)", e2, ok)
	}
	p.Release(e2)
}

func TestAcquireEmptyPoolReturnsNone(t *testing.T) {
	p := New()
	_, ok := p.Acquire()
	if ok {
		t.Fatalf("expected no eligible entry from an empty pool")
	}
}

func TestAcquireRespectsMaxConnections(t *testing.T) {
	p, err := LoadFrom(strings.NewReader("a.example.com:1080\n"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	var held []*Entry
	for i := 0; i < MaxConnections; i++ {
		e, ok := p.Acquire()
		if !ok {
			t.Fatalf("expected entry to be eligible on acquire #%d", i)
		}
		// Backdate the last use so only the connection cap, not the
		// cooldown, decides eligibility.
		e.lastUsedAt = time.Now().Add(-Cooldown)
		held = append(held, e)
	}

	if _, ok := p.Acquire(); ok {
		t.Fatalf("expected pool to be exhausted at MaxConnections")
	}

	for _, e := range held {
		p.Release(e)
	}
}

func TestMarkFailureEventuallyTriggersGlobalReset(t *testing.T) {
	p, err := LoadFrom(strings.NewReader("a.example.com:1080\n"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	for i := 0; i < MaxFailures; i++ {
		e, ok := p.Acquire()
		if !ok {
			t.Fatalf("expected entry eligible on attempt %d", i)
		}
		p.MarkFailure(e)
		// Backdate the last use so the cooldown does not block the next
		// attempt.
		e.lastUsedAt = time.Now().Add(-Cooldown)
	}

	// The single entry is now at MaxFailures; acquire must trigger a global
	// reset and hand it back out rather than returning none forever.
	e, ok := p.Acquire()
	if !ok {
		t.Fatalf("expected global reset to make the entry eligible again")
	}
	snap := p.Snapshot()
	if snap[0].Failures != 0 {
		t.Fatalf("expected failures reset to 0, got %d", snap[0].Failures)
	}
	p.Release(e)
}

func TestCooldownBlocksImmediateReacquire(t *testing.T) {
	p, err := LoadFrom(strings.NewReader("a.example.com:1080\nb.example.com:1080\n"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	e1, ok := p.Acquire()
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	p.Release(e1)

	e2, ok := p.Acquire()
	if !ok {
		t.Fatalf("expected second acquire to succeed")
	}
	p.Release(e2)

	// Both entries have now been used within the last Cooldown window; a
	// third acquire must find nothing eligible (and the pool isn't burned
	// out, so no reset kicks in).
	if _, ok := p.Acquire(); ok {
		t.Fatalf("expected both entries to be in cooldown")
	}
}

func TestMarkSuccessDoesNotTouchActiveConnections(t *testing.T) {
	p, err := LoadFrom(strings.NewReader("a.example.com:1080\n"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	e, ok := p.Acquire()
	if !ok {
		t.Fatalf("expected acquire to succeed")
	}
	p.MarkSuccess(e)

	snap := p.Snapshot()
	if snap[0].ActiveConnections != 1 {
		t.Fatalf("expected activeConnections to remain 1 after MarkSuccess, got %d", snap[0].ActiveConnections)
	}
	p.Release(e)
	snap = p.Snapshot()
	if snap[0].ActiveConnections != 0 {
		t.Fatalf("expected activeConnections to drop to 0 after Release, got %d", snap[0].ActiveConnections)
	}
}

func TestEntryURLAndAddr(t *testing.T) {
	e := &Entry{Host: "proxy.example.com", Port: "1080", User: "u", Pass: "p"}
	if got := e.Addr(); got != "proxy.example.com:1080" {
		t.Fatalf("unexpected addr: %s", got)
	}
	u := e.URL()
	if u.Scheme != "socks5" || u.Host != "proxy.example.com:1080" {
		t.Fatalf("unexpected url: %+v", u)
	}
	if pass, ok := u.User.Password(); !ok || pass != "p" {
		t.Fatalf("expected password to round-trip, got %q ok=%v", pass, ok)
	}
}

func TestEntryEligibleCooldown(t *testing.T) {
	e := &Entry{Host: "h", Port: "1", lastUsedAt: time.Now()}
	if e.eligible(time.Now()) {
		t.Fatalf("expected entry to be ineligible immediately after use")
	}
	if !e.eligible(time.Now().Add(Cooldown + time.Second)) {
		t.Fatalf("expected entry to be eligible after cooldown elapses")
	}
}
