// Package provider maps a domain (or its MX hosts) to a ProviderProfile:
// per-destination timeouts, accept/reject code sets, TLS policy, retry
// budget, and catch-all rejection policy.
package provider

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an immutable provider policy, looked up by domain.
type Profile struct {
	Name             string        `yaml:"name"`
	Timeout          time.Duration `yaml:"-"`
	TimeoutMS        int           `yaml:"timeout_ms"`
	RequireTLS       bool          `yaml:"require_tls"`
	RejectCatchAll   bool          `yaml:"reject_catch_all"`
	AcceptCodes      []int         `yaml:"accept_codes"`
	RejectCodes      []int         `yaml:"reject_codes"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	HeloHost         string        `yaml:"helo_host"`
	CustomValidation bool          `yaml:"custom_validation"`

	// MXSuffixes lists DNS-label-boundary suffixes of MX hostnames that
	// identify this provider when no exact domain match is found (e.g.
	// "google.com" matches "aspmx.l.google.com" but not "evilgoogle.com").
	MXSuffixes []string `yaml:"mx_suffixes"`
}

// AcceptsCode reports whether code is in the profile's accept set.
func (p Profile) AcceptsCode(code int) bool {
	for _, c := range p.AcceptCodes {
		if c == code {
			return true
		}
	}
	return false
}

// RejectsCode reports whether code is in the profile's reject set.
func (p Profile) RejectsCode(code int) bool {
	for _, c := range p.RejectCodes {
		if c == code {
			return true
		}
	}
	return false
}

func genericProfile() Profile {
	return Profile{
		Name:           "generic",
		Timeout:        10 * time.Second,
		RetryAttempts:  2,
		RejectCatchAll: true,
		RequireTLS:     false,
		AcceptCodes:    []int{250, 251, 252},
		RejectCodes:    []int{550, 551, 552, 553, 554},
	}
}

func builtinProfiles() []Profile {
	return []Profile{
		{
			Name:           "gmail.com",
			Timeout:        15 * time.Second,
			RequireTLS:     true,
			RejectCatchAll: true,
			RetryAttempts:  2,
			AcceptCodes:    []int{250, 251, 252},
			RejectCodes:    []int{550, 551, 552, 553, 554},
			MXSuffixes:     []string{"google.com", "googlemail.com"},
		},
		{
			Name:             "outlook.com",
			Timeout:          30 * time.Second,
			RequireTLS:       false,
			RejectCatchAll:   true,
			RetryAttempts:    3,
			CustomValidation: true,
			AcceptCodes:      []int{250, 251, 252},
			RejectCodes:      []int{550, 551, 552, 553, 554},
			MXSuffixes:       []string{"outlook.com", "protection.outlook.com"},
		},
		{
			Name:           "yahoo.com",
			Timeout:        12 * time.Second,
			RequireTLS:     true,
			RejectCatchAll: true,
			RetryAttempts:  2,
			AcceptCodes:    []int{250, 251, 252},
			RejectCodes:    []int{550, 551, 552, 553, 554},
			MXSuffixes:     []string{"yahoodns.net"},
		},
	}
}

// Registry holds the compiled-in profiles plus any operator overrides
// loaded from a providers.yaml file.
type Registry struct {
	byDomain map[string]Profile
	all      []Profile
	generic  Profile
}

// NewRegistry builds a registry from the compiled-in defaults.
func NewRegistry() *Registry {
	r := &Registry{
		byDomain: make(map[string]Profile),
		generic:  genericProfile(),
	}
	for _, p := range builtinProfiles() {
		r.add(p)
	}
	return r
}

// LoadOverrides reads a YAML file of additional/overriding profiles and
// merges them into r. Each entry's "name" field is treated as the domain
// key. Missing timeout_ms falls back to the generic profile's timeout.
func (r *Registry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, p := range raw.Profiles {
		r.add(p)
	}
	return nil
}

func (r *Registry) add(p Profile) {
	if p.TimeoutMS > 0 {
		p.Timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	} else if p.Timeout == 0 {
		p.Timeout = r.generic.Timeout
	}
	if len(p.AcceptCodes) == 0 {
		p.AcceptCodes = r.generic.AcceptCodes
	}
	if len(p.RejectCodes) == 0 {
		p.RejectCodes = r.generic.RejectCodes
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = r.generic.RetryAttempts
	}
	key := strings.ToLower(p.Name)
	r.byDomain[key] = p
	for i, existing := range r.all {
		if strings.ToLower(existing.Name) == key {
			r.all[i] = p
			return
		}
	}
	r.all = append(r.all, p)
}

// Lookup returns the effective profile for domain: an exact (lowercased)
// domain match if present, else the first profile whose MXSuffixes matches
// one of mxHosts on a DNS-label boundary, else the generic fallback.
//
// Matching is suffix-on-label-boundary, not raw substring: "evilgoogle.com"
// never matches a profile declaring "google.com", because the character
// immediately before the suffix must be a '.' or absent.
func (r *Registry) Lookup(domain string, mxHosts []string) Profile {
	domain = strings.ToLower(domain)
	if p, ok := r.byDomain[domain]; ok {
		return p
	}

	for _, p := range r.all {
		for _, mx := range mxHosts {
			mx = strings.ToLower(strings.TrimSuffix(mx, "."))
			for _, suffix := range p.MXSuffixes {
				if hasLabelSuffix(mx, suffix) {
					return p
				}
			}
		}
	}

	return r.generic
}

// hasLabelSuffix reports whether host ends in suffix on a DNS-label
// boundary: host == suffix, or host ends in "."+suffix.
func hasLabelSuffix(host, suffix string) bool {
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}
