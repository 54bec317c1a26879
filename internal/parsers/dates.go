package parsers

import (
	"strings"
	"time"
	"unicode"
)

// dateLayouts are tried in order by NormalizeDate for delimited inputs
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/06",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// NormalizeDate converts an input date string to YYYY-MM-DD.
// OFX timestamps (YYYYMMDD[HHMMSS][.SSS][TZ]) are handled by truncating to
// the leading eight digits. Returns ("", false) when the input cannot be
// interpreted as a date.
func NormalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	// OFX style: 8+ leading digits
	if len(s) >= 8 && isDigits(s[:8]) {
		if t, err := time.Parse("20060102", s[:8]); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// NormalizeDateOrToday is NormalizeDate with a fallback to today's date.
// Used where a malformed date should not drop the row.
func NormalizeDateOrToday(raw string) string {
	if d, ok := NormalizeDate(raw); ok {
		return d
	}
	return time.Now().Format("2006-01-02")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
