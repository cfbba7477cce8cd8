package dnsfacade

import (
	"context"
	"testing"
	"time"

	"mailvetter/internal/cache"
)

func TestMXEmptyForNonexistentDomain(t *testing.T) {
	r := New(2*time.Second, cache.New())
	mx := r.MX(context.Background(), "nonexistent.invalid")
	if len(mx) != 0 {
		t.Fatalf("expected no MX records for a .invalid domain, got %v", mx)
	}
}

func TestHasAddressFalseForNonexistentDomain(t *testing.T) {
	r := New(2*time.Second, cache.New())
	if r.HasAddress(context.Background(), "nonexistent.invalid") {
		t.Fatalf("expected HasAddress to be false for a .invalid domain")
	}
}

func TestSPFEmptyWhenAbsent(t *testing.T) {
	r := New(2*time.Second, cache.New())
	if got := r.SPF(context.Background(), "nonexistent.invalid"); got != "" {
		t.Fatalf("expected empty SPF for a .invalid domain, got %q", got)
	}
}

func TestMXReturnsCachedValueVerbatim(t *testing.T) {
	// Seed the cache directly to avoid depending on live DNS: a cache hit is
	// returned as stored, without re-sorting.
	c := cache.New()
	r := New(time.Second, c)
	c.Set("mx:example.test", []MXRecord{
		{Exchange: "mx2.example.test", Priority: 20},
		{Exchange: "mx1.example.test", Priority: 10},
	}, time.Minute)

	mx := r.MX(context.Background(), "example.test")
	if len(mx) != 2 || mx[0].Exchange != "mx2.example.test" {
		t.Fatalf("expected cached value to be returned verbatim, got %v", mx)
	}
}
