package engine

import (
	"regexp"
	"strings"
)

const (
	maxLocalLen  = 64
	maxDomainLen = 255
)

// formatPattern matches: one alphanumeric, then up to 62 characters from
// [A-Za-z0-9._%+-] ending in an alphanumeric, '@', a domain whose labels
// start/end alphanumeric, at least one dot, and a TLD of 2+ letters.
var formatPattern = regexp.MustCompile(
	`^[A-Za-z0-9][A-Za-z0-9._%+-]{0,62}[A-Za-z0-9]@` +
		`(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?\.)+` +
		`[A-Za-z]{2,}$`,
)

// ParseAddress splits and validates the syntactic form of an email
// address. It returns a StageError of KindMalformedInput on any format or
// length violation.
func ParseAddress(email string) (Address, *StageError) {
	if !formatPattern.MatchString(email) {
		return Address{}, stageErr(KindMalformedInput, "Invalid email format")
	}

	at := strings.LastIndexByte(email, '@')
	local := email[:at]
	domain := email[at+1:]

	if len(local) > maxLocalLen {
		return Address{}, stageErr(KindMalformedInput, "Invalid email format")
	}
	if len(domain) > maxDomainLen {
		return Address{}, stageErr(KindMalformedInput, "Invalid email format")
	}

	return Address{Local: local, Domain: strings.ToLower(domain), Raw: email}, nil
}
