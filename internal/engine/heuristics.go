package engine

import "strings"

// disposableDomains is a small set of known burner-email providers. These
// are non-gating annotations on Details, never a reason to flip Valid on
// their own — only the staged checks in validator.go gate the result.
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
}

// roleAccounts are generic function prefixes (support@, admin@, ...) that
// typically route to a team inbox rather than an individual mailbox.
var roleAccounts = map[string]struct{}{
	"admin": {}, "support": {}, "info": {}, "sales": {},
	"contact": {}, "help": {}, "office": {}, "marketing": {},
	"jobs": {}, "billing": {}, "abuse": {}, "postmaster": {},
	"noreply": {}, "no-reply": {}, "webmaster": {}, "hostmaster": {},
}

func isDisposableDomain(domain string) bool {
	_, ok := disposableDomains[strings.ToLower(domain)]
	return ok
}

func isRoleAccount(local string) bool {
	_, ok := roleAccounts[strings.ToLower(local)]
	return ok
}
