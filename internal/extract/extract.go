// Package extract holds the heuristic recognizers that pull a tax id and
// contact emails out of page text and HTML, plus the helpers that render
// HTML to text and discover contact links, PDFs and embedded payloads.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Findings is what the recognizers found in one piece of content.
type Findings struct {
	TaxID       string
	TaxIDSource Recognizer
	Emails      []string
}

// HasTaxID reports whether a tax id was recognized.
func (f Findings) HasTaxID() bool {
	return f.TaxID != ""
}

// Page is a downloaded document parsed once for all recognizers.
type Page struct {
	URL  string
	Raw  string
	Text string
	Doc  *goquery.Document
}

// ParsePage parses raw HTML. A document that fails to parse still yields
// tag-stripped text.
func ParsePage(pageURL, raw string) Page {
	p := Page{URL: pageURL, Raw: raw}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		p.Text = stripTags(raw)
		return p
	}
	p.Doc = doc
	p.Text = DocumentText(doc)
	return p
}

// Findings runs all recognizers over the page.
func (p Page) Findings() Findings {
	return find(p.Text, p.Raw, p.Doc)
}

// Extract runs the recognizers over raw text and/or raw HTML. When text is
// empty it is rendered from the HTML.
func Extract(text, rawHTML string) Findings {
	var doc *goquery.Document
	if strings.TrimSpace(rawHTML) != "" {
		if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML)); err == nil {
			doc = parsed
		}
	}
	if text == "" && doc != nil {
		text = DocumentText(doc)
	}
	return find(text, rawHTML, doc)
}

func find(text, rawHTML string, doc *goquery.Document) Findings {
	taxID, source := FindTaxID(text, rawHTML, doc)
	return Findings{
		TaxID:       taxID,
		TaxIDSource: source,
		Emails:      FindEmails(text, rawHTML, doc),
	}
}
