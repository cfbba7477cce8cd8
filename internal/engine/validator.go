package engine

import (
	"context"
	"errors"
	"log"

	"mailvetter/internal/dnsfacade"
	"mailvetter/internal/provider"
	"mailvetter/internal/verifier"
)

// Engine wires together the collaborators the staged pipeline needs: DNS
// facade, provider registry, and mailbox verifier. Construct with New.
type Engine struct {
	resolver *dnsfacade.Resolver
	registry *provider.Registry
	verify   *verifier.Verifier
}

// New builds an Engine from its three collaborators. Any may be a fresh
// zero-dependency instance — the Engine does not hold additional state of
// its own.
func New(resolver *dnsfacade.Resolver, registry *provider.Registry, v *verifier.Verifier) *Engine {
	return &Engine{resolver: resolver, registry: registry, verify: v}
}

// Validate runs the full staged pipeline for one address, short-circuiting
// at the first failed gating stage. Every later stage's Checks field stays
// false once an earlier gating stage fails; SPF is recorded only.
func (e *Engine) Validate(ctx context.Context, email string) ValidationResult {
	result := ValidationResult{Email: email}

	// Stage 1-2: format + length.
	addr, parseErr := ParseAddress(email)
	if parseErr != nil {
		return e.fail(result, parseErr)
	}
	result.Checks.Format = true
	result.Details.IsRoleAccount = isRoleAccount(addr.Local)
	result.Details.IsDisposable = isDisposableDomain(addr.Domain)

	// Stage 3: DNS presence.
	if !e.resolver.HasAddress(ctx, addr.Domain) {
		return e.fail(result, stageErr(KindNoSuchDomain, "Domain does not exist"))
	}
	result.Checks.DNS = true

	// Stage 4: MX.
	mx := e.resolver.MX(ctx, addr.Domain)
	if len(mx) == 0 {
		return e.fail(result, stageErr(KindNoMailServers, "No mail servers found for domain"))
	}
	result.Checks.MX = true
	result.Details.MXRecords = mxHosts(mx)

	// Stage 5: SPF — recorded only, never gating.
	if spf := e.resolver.SPF(ctx, addr.Domain); spf != "" {
		result.Checks.SPF = true
		result.Details.SPFRecord = spf
	}

	// Stage 6: provider lookup.
	profile := e.registry.Lookup(addr.Domain, mxHosts(mx))
	result.Details.Provider = profile.Name

	// Stage 7: verify.
	outcome := e.verify.Verify(ctx, email, addr.Domain, mx, profile)
	result.Checks.SMTP = !outcome.Transport
	result.Details.SMTPCode = outcome.Code
	result.Details.SMTPResponse = outcome.Message

	if outcome.Transport {
		if outcome.ProxyExhausted {
			return e.fail(result, stageErr(KindProxyExhausted, "Failed to verify mailbox"))
		}
		return e.fail(result, stageErr(KindTransportError, "Failed to verify mailbox"))
	}

	result.Checks.Mailbox = outcome.MailboxExists
	result.Checks.CatchAll = outcome.IsCatchAll

	if !outcome.MailboxExists {
		return e.fail(result, stageErr(KindMailboxReject, "Failed to verify mailbox"))
	}

	if outcome.IsCatchAll && profile.RejectCatchAll {
		return e.fail(result, stageErr(KindCatchAll, "Catch-all domain detected"))
	}

	result.Valid = true
	result.Reason = "Email is valid"
	return result
}

// fail finalizes result with err's Reason and logs the stage's typed Kind,
// so the taxonomy in errors.go stays inspectable via errors.As even though
// ValidationResult.Reason itself is the plain string callers see.
func (e *Engine) fail(result ValidationResult, stageError error) ValidationResult {
	var se *StageError
	if errors.As(stageError, &se) {
		result.Reason = se.Reason
		log.Printf("[engine] %s: stage failed (%s): %s", result.Email, se.Kind, se.Reason)
	}

	return result
}

func mxHosts(mx []dnsfacade.MXRecord) []string {
	out := make([]string, len(mx))
	for i, r := range mx {
		out[i] = r.Exchange
	}
	return out
}
