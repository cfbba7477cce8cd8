// Package verifier orchestrates the SMTP dialog over a domain's MX list for
// one address: provider-specific retry policy, RCPT code interpretation,
// and catch-all detection.
package verifier

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"mailvetter/internal/dnsfacade"
	"mailvetter/internal/provider"
	"mailvetter/internal/proxy"
	"mailvetter/internal/smtpdialog"
)

// RetryDelay is the base unit multiplied by the provider's backoff policy
// between attempts against the same MX host.
const RetryDelay = 2 * time.Second

// errProxyExhausted marks an attempt that never dialed at all because the
// pool was configured (non-empty) but had nothing eligible to hand out —
// distinct from an unconfigured/empty pool, which dials direct instead.
var errProxyExhausted = errors.New("proxy pool exhausted")

// Outcome is the result of verifying one mailbox across its MX list.
type Outcome struct {
	MailboxExists bool
	IsCatchAll    bool
	Code          int
	Message       string
	MXUsed        string
	// Transport is true when every MX attempt failed at the transport
	// layer (connect/read/write/timeout) rather than receiving a protocol
	// response — distinguished so the engine can report a distinct reason.
	Transport bool
	// ProxyExhausted is true when the failure above happened because every
	// attempt found a configured, non-empty pool with nothing eligible to
	// acquire — never because of an actual dial/handshake failure.
	ProxyExhausted bool
}

// Verifier ties a proxy pool to the SMTP dialog for repeated use across
// many addresses.
type Verifier struct {
	Pool *proxy.Pool
	// Limiter throttles outbound dial attempts across every MX host and
	// proxy entry combined. Nil means unthrottled.
	Limiter *rate.Limiter
}

// New returns a Verifier that dials through pool (nil is legal: dials go
// direct) with no outbound rate limiting.
func New(pool *proxy.Pool) *Verifier {
	return &Verifier{Pool: pool}
}

// WithRateLimit sets the per-second dial rate (and burst) a Verifier
// enforces across all of its dialog attempts.
func (v *Verifier) WithRateLimit(ratePerSecond float64, burst int) *Verifier {
	v.Limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return v
}

// Verify iterates mxRecords in ascending priority order, retrying each
// according to profile's backoff policy, until a definitive result is
// reached or the list is exhausted.
//
// Break conditions within the MX loop: a clear positive RCPT for the
// target returns success immediately; a clear 5xx reject short-circuits
// (lower-priority MX typically share the same acceptance policy); a
// transport failure advances to the next MX.
func (v *Verifier) Verify(ctx context.Context, email, domain string, mx []dnsfacade.MXRecord, profile provider.Profile) Outcome {
	var lastTransportErr bool
	allProxyExhausted := true

	for _, rec := range mx {
		select {
		case <-ctx.Done():
			return Outcome{Transport: true}
		default:
		}

		result, ok, exhausted := v.attemptWithRetry(ctx, rec.Exchange, email, profile)
		if !ok {
			lastTransportErr = true
			allProxyExhausted = allProxyExhausted && exhausted
			continue
		}

		outcome := interpret(result, profile)
		outcome.MXUsed = rec.Exchange

		if outcome.MailboxExists {
			outcome.IsCatchAll = v.probeCatchAll(ctx, rec.Exchange, domain, profile)
			return outcome
		}

		// A clear reject is terminal — don't waste attempts on
		// lower-priority MX that enforce the same policy.
		return outcome
	}

	return Outcome{Transport: lastTransportErr, ProxyExhausted: lastTransportErr && allProxyExhausted}
}

// acquireProxy returns the proxy entry to dial through for one attempt.
// Direct-dial (nil entry, false) is only legal when the pool is
// unconfigured or empty; a configured, non-empty pool with nothing
// eligible to hand out reports exhausted=true instead of silently falling
// back to a direct dial that would leak the probing host's real IP.
func (v *Verifier) acquireProxy() (entry *proxy.Entry, exhausted bool) {
	if v.Pool == nil || v.Pool.Len() == 0 {
		return nil, false
	}
	entry, ok := v.Pool.Acquire()
	if !ok {
		return nil, true
	}
	return entry, false
}

// attemptWithRetry runs the dialog against mxHost, retrying transport
// failures (including proxy exhaustion) per the profile's backoff policy.
// A protocol-level response (success or reject) is never retried — only a
// transport error is. The third return value reports whether every failed
// attempt was due to proxy exhaustion rather than an actual dial failure.
func (v *Verifier) attemptWithRetry(ctx context.Context, mxHost, email string, profile provider.Profile) (smtpdialog.Result, bool, bool) {
	maxAttempts := profile.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if profile.CustomValidation && maxAttempts < 5 {
		maxAttempts = 5
	}

	var result smtpdialog.Result
	exhausted := true
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		entry, poolExhausted := v.acquireProxy()
		if poolExhausted {
			result = smtpdialog.Result{Success: false, Error: errProxyExhausted}
		} else {
			exhausted = false
			result = smtpdialog.Run(ctx, mxHost, email, smtpdialog.Options{
				Proxy:      entry,
				Pool:       v.Pool,
				HeloHost:   profile.HeloHost,
				Timeout:    profile.Timeout,
				RequireTLS: profile.RequireTLS,
				Limiter:    v.Limiter,
			})
			if result.Success {
				return result, true, false
			}
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoff(profile, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, false, exhausted
		}
	}

	return result, false, exhausted
}

// backoff computes the delay before the next attempt: exponential for
// providers with custom_validation=true (the Outlook family gets a longer,
// doubling budget), linear otherwise.
func backoff(profile provider.Profile, attempt int) time.Duration {
	if profile.CustomValidation {
		return RetryDelay * time.Duration(1<<uint(attempt))
	}
	return RetryDelay * time.Duration(attempt)
}

// interpret maps a completed dialog result to an Outcome using the
// profile's accept/reject code sets, falling back to the dialog's own
// protocol-level classification (which already applies the 451/452 ⇒
// exists rule) when the code isn't explicitly listed either way.
func interpret(result smtpdialog.Result, profile provider.Profile) Outcome {
	exists := result.Outcome == smtpdialog.MailboxExists
	if profile.AcceptsCode(result.Code) {
		exists = true
	} else if profile.RejectsCode(result.Code) {
		exists = false
	}

	return Outcome{
		MailboxExists: exists,
		Code:          result.Code,
		Message:       result.Message,
	}
}

// probeCatchAll re-issues RCPT against a synthesised random local-part on
// the same MX. If that also reads as mailbox-exists, the domain accepts
// mail for any local-part.
func (v *Verifier) probeCatchAll(ctx context.Context, mxHost, domain string, profile provider.Profile) bool {
	ghost := smtpdialog.RandomLocalPart() + "@" + domain

	entry, exhausted := v.acquireProxy()
	if exhausted {
		// Can't probe without either an eligible proxy or a direct dial
		// the pool configuration forbids — treat as "undetermined", which
		// defaults to "not catch-all" since this check is non-gating.
		return false
	}

	result := smtpdialog.Run(ctx, mxHost, ghost, smtpdialog.Options{
		Proxy:      entry,
		Pool:       v.Pool,
		HeloHost:   profile.HeloHost,
		Timeout:    profile.Timeout,
		RequireTLS: profile.RequireTLS,
		Limiter:    v.Limiter,
	})
	if !result.Success {
		return false
	}

	outcome := interpret(result, profile)
	return outcome.MailboxExists
}
