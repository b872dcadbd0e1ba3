package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\r\f\x{00A0}\x{200B}]+`)
	blankLines  = regexp.MustCompile(`\n[ \n]*\n`)
	tagPattern  = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Aside: true,
	atom.Main: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Dl: true, atom.Form: true, atom.Address: true,
	atom.Blockquote: true, atom.Pre: true, atom.Body: true, atom.Hr: true,
}

// HTMLToText renders visible text. Block elements become line breaks,
// table rows become "cell | cell" lines and definition lists become
// "term: definition" lines.
func HTMLToText(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return stripTags(rawHTML)
	}
	return DocumentText(doc)
}

// DocumentText renders the visible text of an already parsed document
// without mutating it.
func DocumentText(doc *goquery.Document) string {
	var b strings.Builder
	for _, n := range doc.Nodes {
		writeNode(&b, n)
	}
	return tidy(b.String())
}

func writeNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Br:
			b.WriteByte('\n')
			return
		case atom.Tr:
			writeRow(b, n)
			return
		case atom.Dt:
			b.WriteByte('\n')
			writeChildren(b, n)
			b.WriteString(": ")
			return
		case atom.Dd:
			writeChildren(b, n)
			b.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	writeChildren(b, n)
	if block {
		b.WriteByte('\n')
	}
}

func writeChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(b, c)
	}
}

func writeRow(b *strings.Builder, tr *html.Node) {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		var cell strings.Builder
		writeChildren(&cell, c)
		text := strings.TrimSpace(inlineSpace.ReplaceAllString(strings.ReplaceAll(cell.String(), "\n", " "), " "))
		if text != "" {
			cells = append(cells, text)
		}
	}
	if len(cells) == 0 {
		return
	}
	b.WriteByte('\n')
	b.WriteString(strings.Join(cells, " | "))
	b.WriteByte('\n')
}

func tidy(s string) string {
	s = inlineSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func stripTags(raw string) string {
	return tidy(html.UnescapeString(tagPattern.ReplaceAllString(raw, "\n")))
}
