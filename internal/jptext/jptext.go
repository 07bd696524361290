// Package jptext holds text helpers for Japanese marketplace content:
// full-width narrowing, numeric coercion, and title cleanup. Shared by the
// extractor's plausibility checks, the normalizer, and the reconciler's
// text comparisons.
package jptext

import (
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Narrow converts full-width digits, punctuation, and currency marks to
// their half-width forms.
func Narrow(s string) string {
	return width.Narrow.String(s)
}

// ParseNumber extracts a number from marketplace text: "¥4,980", "１，２３４円",
// "レビュー1,234件", "4.5点". Returns false when no digits survive.
func ParseNumber(s string) (float64, bool) {
	s = Narrow(strings.TrimSpace(s))
	var b strings.Builder
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	if !seenDigit {
		return 0, false
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FoldSpace collapses whitespace runs to single spaces and trims. Used
// before containment comparisons so formatting noise does not register as a
// mismatch.
func FoldSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanTitle splits a page title on marketplace separators and returns the
// longest segment that is not promotional boilerplate. Returns "" when every
// segment is excluded.
func CleanTitle(s string, excludes []string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	segments := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == '｜'
	})
	best := ""
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || containsAny(seg, excludes) {
			continue
		}
		if len(seg) > len(best) {
			best = seg
		}
	}
	return best
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
