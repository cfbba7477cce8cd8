// Package dnsfacade is a thin, timeout-bounded contract over system DNS:
// address presence, priority-sorted MX lists, and SPF TXT lookup. Failures
// are never returned as errors from the exported methods — they map to
// false/empty/none, matching the engine's "DNS failure is a validation
// outcome, not an exception" contract.
package dnsfacade

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"mailvetter/internal/cache"
)

// MXRecord is a priority-sorted mail exchanger entry.
type MXRecord struct {
	Exchange string
	Priority uint16
}

// Resolver performs DNS lookups with a fixed per-call timeout and an
// optional cache to avoid repeat lookups within a batch window.
type Resolver struct {
	timeout time.Duration
	cache   *cache.Store
}

// New returns a Resolver with the given per-query timeout. Pass a non-nil
// cache to deduplicate lookups across calls (typically shared across a
// single BatchJob); pass nil to always hit the network.
func New(timeout time.Duration, c *cache.Store) *Resolver {
	return &Resolver{timeout: timeout, cache: c}
}

func (r *Resolver) resolver() *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			// SOCKS5 proxies don't carry UDP, so DNS always dials direct
			// regardless of whether SMTP traffic is proxied.
			d := net.Dialer{Timeout: r.timeout}
			return d.DialContext(ctx, network, address)
		},
	}
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// HasAddress reports whether domain resolves via A, AAAA, or CNAME. Any one
// succeeding is sufficient; all three are issued in parallel and the result
// is true if any of them succeeds.
func (r *Resolver) HasAddress(ctx context.Context, domain string) bool {
	if v, ok := r.cacheGet("addr:" + domain); ok {
		return v.(bool)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	type outcome struct{ ok bool }
	results := make(chan outcome, 3)

	lookup := func(fn func() error) {
		results <- outcome{ok: fn() == nil}
	}

	go lookup(func() error {
		_, err := r.resolver().LookupHost(ctx, domain)
		return err
	})
	go lookup(func() error {
		_, err := r.resolver().LookupCNAME(ctx, domain)
		return err
	})
	go lookup(func() error {
		ips, err := r.resolver().LookupIPAddr(ctx, domain)
		if err == nil && len(ips) == 0 {
			return errDNSEmpty
		}
		return err
	})

	found := false
	for i := 0; i < 3; i++ {
		if (<-results).ok {
			found = true
		}
	}

	r.cacheSet("addr:"+domain, found, 15*time.Minute)
	return found
}

var errDNSEmpty = errors.New("no addresses returned")

// MX returns the domain's mail exchangers sorted by ascending priority, or
// an empty slice if the lookup failed or returned nothing.
func (r *Resolver) MX(ctx context.Context, domain string) []MXRecord {
	if v, ok := r.cacheGet("mx:" + domain); ok {
		return v.([]MXRecord)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := r.resolver().LookupMX(ctx, domain)
	if err != nil || len(raw) == 0 {
		r.cacheSet("mx:"+domain, []MXRecord{}, 5*time.Minute)
		return nil
	}

	out := make([]MXRecord, len(raw))
	for i, mx := range raw {
		out[i] = MXRecord{
			Exchange: strings.TrimSuffix(mx.Host, "."),
			Priority: mx.Pref,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })

	r.cacheSet("mx:"+domain, out, 15*time.Minute)
	return out
}

// SPF returns the first TXT record beginning with "v=spf1", or "" if none
// is found or the lookup fails.
func (r *Resolver) SPF(ctx context.Context, domain string) string {
	if v, ok := r.cacheGet("spf:" + domain); ok {
		return v.(string)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	txts, err := r.resolver().LookupTXT(ctx, domain)
	spf := ""
	if err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(txt, "v=spf1") {
				spf = txt
				break
			}
		}
	}

	r.cacheSet("spf:"+domain, spf, 30*time.Minute)
	return spf
}

func (r *Resolver) cacheGet(key string) (interface{}, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(key)
}

func (r *Resolver) cacheSet(key string, v interface{}, ttl time.Duration) {
	if r.cache == nil {
		return
	}
	r.cache.Set(key, v, ttl)
}
