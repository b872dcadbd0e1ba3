package enrich

import (
	"net"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain reduces a hostname, URL, or messy user input to its
// registrable root domain. Scheme, userinfo, path, query, port, trailing
// dots and any subdomain (www., regional, mobile) are removed. The
// function is idempotent for every input.
func NormalizeDomain(raw string) string {
	host := strings.ToLower(strings.TrimFunc(raw, unicode.IsSpace))
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimPrefix(host, "//")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimFunc(host, func(r rune) bool { return r == '.' || unicode.IsSpace(r) })
	if host == "" || strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// SameSite reports whether host shares domain's registrable root.
func SameSite(domain, host string) bool {
	return NormalizeDomain(host) == NormalizeDomain(domain)
}
