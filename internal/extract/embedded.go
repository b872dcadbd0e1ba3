package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Carrier names an embedded data payload kind.
type Carrier string

// Embedded data carriers recognized in page scripts.
const (
	CarrierNextData Carrier = "next_data"
	CarrierNuxt     Carrier = "nuxt"
	CarrierJSONLD   Carrier = "json_ld"
	CarrierAppState Carrier = "app_state"
)

var appStateGlobals = []string{
	"__INITIAL_STATE__",
	"__APOLLO_STATE__",
	"__PRELOADED_STATE__",
	"__APP_STATE__",
	"__REDUX_STATE__",
}

// Payload is one embedded data block found in a page. Text is the
// flattened "key: value" rendering when the block parsed as JSON, or the
// raw script body otherwise. ParseErr records why parsing failed.
type Payload struct {
	Kind     Carrier
	Raw      string
	Text     string
	ParseErr error
}

// Findings runs the recognizers over the payload's flattened text and raw
// body.
func (p Payload) Findings() Findings {
	return find(p.Text, p.Raw, nil)
}

// EmbeddedPayloads locates hydration payloads, JSON-LD and framework state
// blobs in the document's script elements.
func EmbeddedPayloads(doc *goquery.Document) []Payload {
	if doc == nil {
		return nil
	}
	var out []Payload
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		body := strings.TrimSpace(s.Text())
		if body == "" {
			return
		}
		id, _ := s.Attr("id")
		typ, _ := s.Attr("type")
		switch {
		case id == "__NEXT_DATA__":
			out = append(out, parsePayload(CarrierNextData, body))
		case id == "__NUXT_DATA__":
			out = append(out, parsePayload(CarrierNuxt, body))
		case strings.EqualFold(strings.TrimSpace(typ), "application/ld+json"):
			out = append(out, parsePayload(CarrierJSONLD, body))
		case strings.Contains(body, "__NUXT__"):
			out = append(out, parsePayload(CarrierNuxt, assignedValue(body, "__NUXT__")))
		default:
			for _, global := range appStateGlobals {
				if strings.Contains(body, global) {
					out = append(out, parsePayload(CarrierAppState, assignedValue(body, global)))
					return
				}
			}
		}
	})
	return out
}

func parsePayload(kind Carrier, raw string) Payload {
	p := Payload{Kind: kind, Raw: raw}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		p.ParseErr = fmt.Errorf("parse %s payload: %w", kind, err)
		p.Text = raw
		return p
	}
	var lines []string
	flatten("", v, &lines)
	p.Text = strings.Join(lines, "\n")
	return p
}

// assignedValue returns the right hand side of "global = value;" inside a
// script body, or the whole body when no assignment is found.
func assignedValue(body, global string) string {
	idx := strings.Index(body, global)
	if idx < 0 {
		return body
	}
	rest := body[idx+len(global):]
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return body
	}
	rest = strings.TrimSpace(rest[eq+1:])
	if end := matchingBrace(rest); end > 0 {
		return rest[:end]
	}
	return strings.TrimRight(rest, "; \n")
}

// matchingBrace returns the end offset of a leading {...} or [...] value,
// honoring JSON string quoting.
func matchingBrace(s string) int {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func flatten(key string, v any, lines *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(k, t[k], lines)
		}
	case []any:
		for _, item := range t {
			flatten(key, item, lines)
		}
	case string:
		if strings.TrimSpace(t) != "" {
			*lines = append(*lines, key+": "+t)
		}
	case json.Number:
		*lines = append(*lines, key+": "+t.String())
	}
}
