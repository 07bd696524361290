package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/shoplens/pipeline-cli/internal/model"
)

const (
	urlPatternPrefix = "url:"
	jsonldPrefix     = "jsonld:"
)

// regexpCache compiles pattern payloads once. Learned payloads arrive from
// the store, so a bad expression is data, not a bug: it reads as no match.
var regexpCache sync.Map // payload → *regexp.Regexp

func compilePattern(payload string) *regexp.Regexp {
	if cached, ok := regexpCache.Load(payload); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(payload)
	if err != nil {
		regexpCache.Store(payload, (*regexp.Regexp)(nil))
		return nil
	}
	regexpCache.Store(payload, re)
	return re
}

// apply runs one strategy against the page and returns every raw value it
// located, in document order. An empty slice means the strategy found
// nothing; plausibility is judged by the caller.
func apply(in *Input, strat model.Strategy, multi bool) []string {
	switch strat.Kind {
	case model.KindSelector:
		return applySelector(in.Doc, strat.Payload, multi)
	case model.KindPattern:
		return applyPattern(in, strat.Payload, multi)
	case model.KindAttribute:
		return applyAttribute(in.Doc, strat.Payload, multi)
	}
	return nil
}

func applySelector(doc *goquery.Document, selector string, multi bool) []string {
	var out []string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = append(out, t)
		}
		return multi || len(out) == 0
	})
	return out
}

func applyPattern(in *Input, payload string, multi bool) []string {
	subject := in.HTML
	if rest, ok := strings.CutPrefix(payload, urlPatternPrefix); ok {
		payload = rest
		subject = in.URL
	}
	re := compilePattern(payload)
	if re == nil {
		return nil
	}

	pick := func(m []string) string {
		if len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		return strings.TrimSpace(m[0])
	}

	if !multi {
		m := re.FindStringSubmatch(subject)
		if m == nil {
			return nil
		}
		if v := pick(m); v != "" {
			return []string{v}
		}
		return nil
	}

	var out []string
	for _, m := range re.FindAllStringSubmatch(subject, -1) {
		if v := pick(m); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func applyAttribute(doc *goquery.Document, payload string, multi bool) []string {
	if key, ok := strings.CutPrefix(payload, jsonldPrefix); ok {
		if v, found := jsonldLookup(doc, key); found {
			return []string{v}
		}
		return nil
	}

	// Split on the last @ so quoted attribute values inside the selector
	// survive.
	at := strings.LastIndex(payload, "@")
	if at < 0 || at == len(payload)-1 {
		return nil
	}
	selector, attr := payload[:at], payload[at+1:]
	var out []string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			out = append(out, v)
		}
		return multi || len(out) == 0
	})
	return out
}

// jsonldLookup walks every JSON-LD block for a dotted key path such as
// "offers.price". Arrays and @graph wrappers are searched element-wise;
// the first hit wins.
func jsonldLookup(doc *goquery.Document, keyPath string) (string, bool) {
	path := strings.Split(keyPath, ".")
	var out string
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if v, ok := walkJSON(data, path); ok {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

func walkJSON(node any, path []string) (string, bool) {
	if len(path) == 0 {
		return jsonScalar(node)
	}
	switch n := node.(type) {
	case map[string]any:
		if child, ok := n[path[0]]; ok {
			if v, ok := walkJSON(child, path[1:]); ok {
				return v, true
			}
		}
		if graph, ok := n["@graph"]; ok {
			return walkJSON(graph, path)
		}
	case []any:
		for _, el := range n {
			if v, ok := walkJSON(el, path); ok {
				return v, true
			}
		}
	}
	return "", false
}

func jsonScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
