// Package blocklist decides which domains are never worth enriching, such
// as marketplaces and social networks that host many suppliers.
package blocklist

import (
	"strings"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// Policy matches domains against exact hosts and suffix wildcards.
// Patterns are "shop.ru" (that host only) or "*.ozon.ru" / ".ozon.ru"
// (the domain and every subdomain). The zero value and nil allow everything.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New compiles patterns. Blank patterns are ignored.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[enrich.NormalizeDomain(value)] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// AllowDomain reports whether domain may be extracted.
func (p *Policy) AllowDomain(domain string) bool {
	if p == nil {
		return true
	}
	host := enrich.NormalizeDomain(domain)
	if host == "" {
		return true
	}
	if _, exact := p.exact[host]; exact {
		return false
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return false
		}
	}
	return true
}

// Len is the number of compiled patterns.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.exact) + len(p.suffixes)
}
