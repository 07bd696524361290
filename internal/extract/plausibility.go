package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/jptext"
)

// plausible judges one raw candidate against the field's catalog bounds and
// returns the cleaned value to keep. A candidate can be rewritten on the way
// through (title segments, whitespace), so callers must use the returned
// value, not the input.
func plausible(spec catalog.FieldSpec, value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}

	if len(spec.Exclude) > 0 {
		v = jptext.CleanTitle(v, spec.Exclude)
		if v == "" {
			return "", false
		}
	}

	if spec.NumericMin != nil || spec.NumericMax != nil {
		n, ok := jptext.ParseNumber(v)
		if !ok {
			return "", false
		}
		if spec.NumericMin != nil && n < *spec.NumericMin {
			return "", false
		}
		if spec.NumericMax != nil && n > *spec.NumericMax {
			return "", false
		}
		return v, true
	}

	runes := utf8.RuneCountInString(v)
	if spec.MinLen > 0 && runes < spec.MinLen {
		return "", false
	}
	if spec.MaxLen > 0 && runes > spec.MaxLen {
		return "", false
	}
	return v, true
}
