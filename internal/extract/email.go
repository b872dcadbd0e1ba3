package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const emailExpr = `[a-z0-9][a-z0-9._%+\-]*@(?:[a-z0-9\p{L}](?:[a-z0-9\p{L}\-]*[a-z0-9\p{L}])?\.)+[a-z\p{L}]{2,24}`

var (
	emailPattern = regexp.MustCompile(`(?i)` + emailExpr)
	emailExact   = regexp.MustCompile(`(?i)^` + emailExpr + `$`)
	mailtoInRaw  = regexp.MustCompile(`(?i)mailto:([^"'\s<>]+)`)
)

// blockedDomainLabels drop placeholder and tooling addresses when any label
// of the domain equals one of them.
var blockedDomainLabels = map[string]struct{}{
	"example":     {},
	"test":        {},
	"yourdomain":  {},
	"domain":      {},
	"yoursite":    {},
	"yourcompany": {},
	"mysite":      {},
	"email":       {},
	"sentry":      {},
	"wixpress":    {},
	"localhost":   {},
}

var blockedLocalParts = map[string]struct{}{
	"yourname":  {},
	"name":      {},
	"email":     {},
	"user":      {},
	"username":  {},
	"your":      {},
	"youremail": {},
}

var fileExtensionTLDs = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"svg":  {},
	"webp": {},
	"ico":  {},
	"css":  {},
	"js":   {},
}

// FindEmails collects addresses from visible text and mailto links, drops
// placeholders, and dedupes case-insensitively keeping the first casing.
func FindEmails(text, rawHTML string, doc *goquery.Document) []string {
	var candidates []string
	candidates = append(candidates, emailPattern.FindAllString(text, -1)...)
	if doc != nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if addr, ok := parseMailto(href); ok {
				candidates = append(candidates, addr)
			}
		})
	} else {
		for _, m := range mailtoInRaw.FindAllStringSubmatch(rawHTML, -1) {
			if addr, ok := parseMailto("mailto:" + m[1]); ok {
				candidates = append(candidates, addr)
			}
		}
	}
	return dedupeEmails(candidates)
}

func parseMailto(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if len(href) < 7 || !strings.EqualFold(href[:7], "mailto:") {
		return "", false
	}
	addr := href[7:]
	if i := strings.IndexAny(addr, "?#"); i >= 0 {
		addr = addr[:i]
	}
	if decoded, err := url.PathUnescape(addr); err == nil {
		addr = decoded
	}
	// mailto may carry a comma separated list; keep the first
	if i := strings.IndexAny(addr, ",;"); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	if !emailExact.MatchString(addr) {
		return "", false
	}
	return addr, true
}

func dedupeEmails(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.Trim(c, ".-_")
		if !acceptEmail(c) {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func acceptEmail(addr string) bool {
	local, domain, ok := strings.Cut(strings.ToLower(addr), "@")
	if !ok || local == "" || domain == "" {
		return false
	}
	if _, blocked := blockedLocalParts[local]; blocked {
		return false
	}
	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if _, blocked := blockedDomainLabels[label]; blocked {
			return false
		}
	}
	if _, isFile := fileExtensionTLDs[labels[len(labels)-1]]; isFile {
		return false
	}
	return true
}

// MergeEmails appends addresses from add that base does not already hold,
// comparing case-insensitively.
func MergeEmails(base, add []string) []string {
	return dedupeEmails(append(append([]string(nil), base...), add...))
}
