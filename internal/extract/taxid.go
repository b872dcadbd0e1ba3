package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Recognizer names the rule that produced a tax id.
type Recognizer string

// Tax id recognizers in precedence order.
const (
	RecognizerLabel Recognizer = "label"
	RecognizerMeta  Recognizer = "meta"
	RecognizerJSON  Recognizer = "json"
	RecognizerTable Recognizer = "table"
	RecognizerBare  Recognizer = "bare"
)

// labelWindow is how many runes around a bare token are searched for a label.
const labelWindow = 60

var (
	labelRunPattern = regexp.MustCompile(
		`(?i)(?:^|[^\p{L}\d])(?:ИНН|И\.\s*Н\.\s*Н\.?|INN|TIN)(?:\s*/\s*КПП)?[^\p{L}\d]{0,8}((?:\d[ \t\r\n\-\x{00A0}]*){10,13})`,
	)
	labelPattern      = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:ИНН|И\.\s*Н\.\s*Н|INN)(?:[^\p{L}]|$)`)
	jsonKeyPattern    = regexp.MustCompile(`(?i)["']?(?:inn|tax_?id|tax-id|taxid)["']?\s*[:=]\s*["']?(\d[\d \-]{8,16}\d)`)
	digitTokenPattern = regexp.MustCompile(`\d+`)
	separatorPattern  = regexp.MustCompile(`[^\d]+`)
	bareTokenPattern  = regexp.MustCompile(`\d{10,12}`)
)

var phoneWords = []string{"тел", "tel", "phone", "факс", "fax", "моб", "mob", "whatsapp"}

var metaNames = map[string]struct{}{
	"inn":    {},
	"taxid":  {},
	"tax_id": {},
	"tax-id": {},
}

// FindTaxID runs the tax id recognizers in order over plain text and, when
// doc is non-nil, the parsed HTML. The first recognizer that yields a 10 or
// 12 digit candidate wins. No checksum is validated.
func FindTaxID(text, rawHTML string, doc *goquery.Document) (string, Recognizer) {
	if v := fromLabel(text); v != "" {
		return v, RecognizerLabel
	}
	if doc != nil {
		if v := fromMeta(doc); v != "" {
			return v, RecognizerMeta
		}
	}
	if v := fromJSON(rawHTML); v != "" {
		return v, RecognizerJSON
	}
	if doc != nil {
		if v := fromTable(doc); v != "" {
			return v, RecognizerTable
		}
	}
	if v := fromBare(text); v != "" {
		return v, RecognizerBare
	}
	return "", ""
}

func fromLabel(text string) string {
	for _, m := range labelRunPattern.FindAllStringSubmatch(text, -1) {
		if v, ok := assembleTaxID(m[1]); ok {
			return v
		}
	}
	return ""
}

func fromMeta(doc *goquery.Document) string {
	var found string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", s.AttrOr("property", ""))))
		if _, ok := metaNames[name]; !ok {
			return true
		}
		if v, ok := assembleTaxID(s.AttrOr("content", "")); ok {
			found = v
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	doc.Find(`[itemprop="taxID"],[itemprop="taxid"],[data-inn],[data-taxid],[data-tax-id]`).
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			candidates := []string{
				s.AttrOr("data-inn", ""),
				s.AttrOr("data-taxid", ""),
				s.AttrOr("data-tax-id", ""),
				s.AttrOr("content", ""),
				s.Text(),
			}
			for _, c := range candidates {
				if v, ok := assembleTaxID(c); ok {
					found = v
					return false
				}
			}
			return true
		})
	return found
}

func fromJSON(raw string) string {
	for _, m := range jsonKeyPattern.FindAllStringSubmatch(raw, -1) {
		if v, ok := assembleTaxID(m[1]); ok {
			return v
		}
	}
	return ""
}

func fromTable(doc *goquery.Document) string {
	var found string
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("th,td")
		if cells.Length() < 2 {
			return true
		}
		if !labelPattern.MatchString(" " + cells.First().Text() + " ") {
			return true
		}
		if v, ok := firstTaxIDRun(cells.Eq(1).Text()); ok {
			found = v
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if !labelPattern.MatchString(" " + dt.Text() + " ") {
			return true
		}
		if v, ok := firstTaxIDRun(dt.NextFiltered("dd").Text()); ok {
			found = v
			return false
		}
		return true
	})
	return found
}

func fromBare(text string) string {
	for _, loc := range bareTokenPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(text[start-1]) || end < len(text) && isDigit(text[end]) {
			continue
		}
		if n := end - start; n != 10 && n != 12 {
			continue
		}
		if inPhoneContext(text[:start]) {
			continue
		}
		before, after := runeWindow(text, start, end, labelWindow)
		if labelPattern.MatchString(before) || labelPattern.MatchString(after) {
			return text[start:end]
		}
	}
	return ""
}

func firstTaxIDRun(s string) (string, bool) {
	if v, ok := assembleTaxID(s); ok {
		return v, true
	}
	for _, tok := range digitTokenPattern.FindAllString(s, -1) {
		if len(tok) == 10 || len(tok) == 12 {
			return tok, true
		}
	}
	return "", false
}

// assembleTaxID joins a run of digit groups separated by spaces or
// hyphens into a 10 or 12 digit id. A leading group that is already 10 or
// 12 digits wins. Otherwise groups accumulate until exactly 12 digits, or
// 10 digits when the following group cannot complete 12.
func assembleTaxID(run string) (string, bool) {
	tokens := separatorPattern.Split(strings.TrimSpace(run), -1)
	tokens = compact(tokens)
	if len(tokens) == 0 {
		return "", false
	}
	if n := len(tokens[0]); n == 10 || n == 12 {
		return tokens[0], true
	}
	var acc strings.Builder
	for i, tok := range tokens {
		acc.WriteString(tok)
		switch n := acc.Len(); {
		case n == 12:
			return acc.String(), true
		case n == 10:
			if i+1 < len(tokens) && n+len(tokens[i+1]) == 12 {
				continue
			}
			return acc.String(), true
		case n > 12:
			return "", false
		}
	}
	return "", false
}

func inPhoneContext(prefix string) bool {
	runes := []rune(prefix)
	if len(runes) > 16 {
		runes = runes[len(runes)-16:]
	}
	tail := strings.ToLower(strings.TrimRight(string(runes), " \t:."))
	if strings.HasSuffix(tail, "+") || strings.HasSuffix(tail, "(") {
		return true
	}
	for _, marker := range phoneWords {
		if strings.Contains(tail, marker) {
			return true
		}
	}
	return false
}

func runeWindow(text string, start, end, width int) (string, string) {
	before := []rune(text[:start])
	if len(before) > width {
		before = before[len(before)-width:]
	}
	after := []rune(text[end:])
	if len(after) > width {
		after = after[:width]
	}
	return " " + string(before), string(after) + " "
}

func compact(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
