package extract

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

type keyword struct {
	needle string
	score  int
}

// Requisites pages rank above contacts, contacts above about pages.
var linkKeywords = []keyword{
	{"реквизит", 5}, {"rekvizit", 5}, {"requisite", 5},
	{"юридическ", 3}, {"impressum", 3}, {"legal", 2}, {"сведения", 2},
	{"контакт", 4}, {"kontakt", 4}, {"contact", 4}, {"связ", 2},
	{"о компании", 2}, {"o-kompanii", 2}, {"о нас", 2}, {"o-nas", 2}, {"about", 2},
	{"company", 1}, {"компани", 1}, {"организац", 1},
	{"документ", 1}, {"docs", 1}, {"details", 1},
}

var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".zip": {}, ".rar": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".mp4": {}, ".mp3": {}, ".css": {}, ".js": {},
}

type scoredLink struct {
	url   string
	score int
	order int
}

// DiscoverLinks returns same-site contact, about and requisites links
// found on the page, best first. PDFs are excluded.
func DiscoverLinks(base *url.URL, domain string, doc *goquery.Document) []string {
	if doc == nil || base == nil {
		return nil
	}
	var found []scoredLink
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		u, ok := resolve(base, s)
		if !ok || !enrich.SameSite(domain, u.Hostname()) {
			return
		}
		ext := strings.ToLower(path.Ext(u.Path))
		if ext == ".pdf" {
			return
		}
		if _, skip := skippedExtensions[ext]; skip {
			return
		}
		score := linkScore(strings.ToLower(s.Text()+" "+u.Path+" "+s.AttrOr("title", "")))
		if score == 0 {
			return
		}
		key := u.String()
		if _, dup := seen[key]; dup || samePage(u, base) {
			return
		}
		seen[key] = struct{}{}
		found = append(found, scoredLink{url: key, score: score, order: i})
	})
	return ranked(found)
}

// DiscoverPDFs returns PDF links on the page, requisites-like ones first.
func DiscoverPDFs(base *url.URL, doc *goquery.Document) []string {
	if doc == nil || base == nil {
		return nil
	}
	var found []scoredLink
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		u, ok := resolve(base, s)
		if !ok || strings.ToLower(path.Ext(u.Path)) != ".pdf" {
			return
		}
		key := u.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		score := linkScore(strings.ToLower(s.Text()+" "+u.Path)) + 1
		found = append(found, scoredLink{url: key, score: score, order: i})
	})
	return ranked(found)
}

func resolve(base *url.URL, s *goquery.Selection) (*url.URL, bool) {
	href := strings.TrimSpace(s.AttrOr("href", ""))
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "whatsapp:", "viber:", "skype:"} {
		if strings.HasPrefix(lower, scheme) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	return u, true
}

func linkScore(haystack string) int {
	score := 0
	for _, kw := range linkKeywords {
		if strings.Contains(haystack, kw.needle) {
			score += kw.score
		}
	}
	return score
}

func samePage(a, b *url.URL) bool {
	return strings.TrimRight(a.Path, "/") == strings.TrimRight(b.Path, "/") && a.RawQuery == b.RawQuery
}

func ranked(links []scoredLink) []string {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].score != links[j].score {
			return links[i].score > links[j].score
		}
		return links[i].order < links[j].order
	})
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.url
	}
	return out
}
