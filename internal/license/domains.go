package license

import "strings"

// DomainPolicy controls which identities are offered to the authority when
// validating. The fallbacks are deployment configuration.
type DomainPolicy struct {
	// DevMarkers identify development hosts, e.g. "localhost". A domain
	// containing one is tried first, stripped of its protocol.
	DevMarkers []string
	// RegisteredFallback is the domain the license was issued against.
	RegisteredFallback string
	// TopLevelFallback is the last resort.
	TopLevelFallback string
}

// DefaultDomainPolicy treats localhost and loopback hosts as development.
func DefaultDomainPolicy() DomainPolicy {
	return DomainPolicy{
		DevMarkers: []string{"localhost", "127.0.0.1"},
	}
}

// StripProtocol removes a leading http:// or https:// and a trailing slash.
func StripProtocol(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		s = s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		s = s[len("http://"):]
	}
	return strings.TrimSuffix(s, "/")
}

// Candidates returns the ordered identities to try for domain. Empty and
// repeated entries are dropped; order is otherwise preserved.
func (p DomainPolicy) Candidates(domain, baseURL string) []string {
	stripped := StripProtocol(domain)

	raw := make([]string, 0, 6)
	if p.isDev(stripped) {
		raw = append(raw, stripped)
	}
	raw = append(raw,
		strings.TrimSpace(domain),
		stripped,
		StripProtocol(baseURL),
		StripProtocol(p.RegisteredFallback),
		StripProtocol(p.TopLevelFallback),
	)

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (p DomainPolicy) isDev(host string) bool {
	if host == "" {
		return false
	}
	lower := strings.ToLower(host)
	for _, marker := range p.DevMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
