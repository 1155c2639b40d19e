package extract

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Transform rewrites an extracted string value. Transforms are applied in
// declared order.
type Transform func(string) string

// Trim removes surrounding whitespace.
func Trim(s string) string { return strings.TrimSpace(s) }

// SnakeCase lowercases and replaces whitespace runs with underscores.
func SnakeCase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), "_")
}

// NormalizeLineBreaks collapses CRLF and repeated newlines to single
// newlines and trims each line.
func NormalizeLineBreaks(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// UnescapeEntities decodes HTML entities.
func UnescapeEntities(s string) string { return html.UnescapeString(s) }

var (
	supRe = regexp.MustCompile(`<sup>\s*([0-9+\-]+)\s*</sup>`)
	subRe = regexp.MustCompile(`<sub>\s*([0-9+\-]+)\s*</sub>`)

	superscripts = map[rune]rune{
		'0': '⁰', '1': '¹', '2': '²', '3': '³', '4': '⁴',
		'5': '⁵', '6': '⁶', '7': '⁷', '8': '⁸', '9': '⁹',
		'+': '⁺', '-': '⁻',
	}
	subscripts = map[rune]rune{
		'0': '₀', '1': '₁', '2': '₂', '3': '₃', '4': '₄',
		'5': '₅', '6': '₆', '7': '₇', '8': '₈', '9': '₉',
		'+': '₊', '-': '₋',
	}
)

// SupSub replaces <sup>N</sup> and <sub>N</sub> markup with the Unicode
// superscript/subscript characters. The transform is idempotent: once the
// markup is gone there is nothing left to replace.
func SupSub(s string) string {
	s = supRe.ReplaceAllStringFunc(s, func(m string) string {
		return mapDigits(supRe.FindStringSubmatch(m)[1], superscripts)
	})
	s = subRe.ReplaceAllStringFunc(s, func(m string) string {
		return mapDigits(subRe.FindStringSubmatch(m)[1], subscripts)
	})
	return s
}

func mapDigits(digits string, table map[rune]rune) string {
	var b strings.Builder
	for _, r := range digits {
		if mapped, ok := table[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var currencyRe = regexp.MustCompile(`([£$€])|([A-Z]{3})\b`)

var currencyCodes = map[string]string{
	"£": "GBP",
	"$": "USD",
	"€": "EUR",
}

// SplitCurrency separates a currency-bearing string into its numeric value
// and a currency code. When no currency is present, the site-level default
// code applies.
func SplitCurrency(s, defaultCode string) (value, code string) {
	code = defaultCode
	if m := currencyRe.FindStringSubmatch(s); m != nil {
		if m[1] != "" {
			code = currencyCodes[m[1]]
		} else if m[2] != "" {
			code = m[2]
		}
	}

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String(), code
}

// ParseInt parses an integer out of a string, tolerating thousands
// separators. Returns ok=false for semantic failures; the caller sets the
// not-available sentinel.
func ParseInt(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// ParseFloat parses a float out of a string, tolerating thousands
// separators.
func ParseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// RangeValue renders a min/max pair: "<min> to <max>" when they differ,
// the single value when equal, and whichever side is present when the
// other is empty.
func RangeValue(min, max string) string {
	min, max = strings.TrimSpace(min), strings.TrimSpace(max)
	switch {
	case min == "" && max == "":
		return ""
	case min == "":
		return max
	case max == "" || min == max:
		return min
	default:
		return min + " to " + max
	}
}

// JoinList joins multi-valued fields with the chosen delimiter, skipping
// empty entries.
func JoinList(values []string, delim string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, delim)
}
