package render

import (
	"encoding/json"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale is used when no locale is configured.
var DefaultLocale = language.Korean

// Formatter stringifies untyped field values for substitution.
// It is safe for concurrent use.
type Formatter struct {
	tag language.Tag
}

func NewFormatter(tag language.Tag) *Formatter {
	return &Formatter{tag: tag}
}

// Format applies the default field policy: strings unchanged, numbers
// grouped by locale, arrays joined with ", ".
func (f *Formatter) Format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		return joinValues(x)
	case []string:
		return strings.Join(x, ", ")
	case nil:
		return ""
	}
	if n, ok := asNumber(v); ok {
		return f.Number(n)
	}
	return stringify(v)
}

// Number renders n with thousands separators and at most three
// fraction digits.
func (f *Formatter) Number(n float64) string {
	p := message.NewPrinter(f.tag)
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return p.Sprintf("%d", int64(n))
	}
	return p.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(3)))
}

func joinValues(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = stringify(v)
	}
	return strings.Join(parts, ", ")
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
