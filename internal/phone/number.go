// Package phone sanitizes caller IDs and derives chat dial targets from them
package phone

import (
	"strings"
)

// Placeholder is shown when the caller ID is withheld or unusable
const Placeholder Number = "private number"

// MaxLength bounds a sanitized number
const MaxLength = 20

// MinDialDigits is the shortest dial target accepted for a deep link
const MinDialDigits = 10

// Number is a caller ID that only contains digits, '+', spaces, dashes and
// parentheses, or the Placeholder. Build one with Sanitize.
type Number string

// IsPlaceholder reports whether n is the withheld-number placeholder
func (n Number) IsPlaceholder() bool {
	return n == Placeholder || n == ""
}

func (n Number) String() string {
	if n == "" {
		return string(Placeholder)
	}
	return string(n)
}

// Sanitize turns a raw platform caller ID into a Number. It never fails.
func Sanitize(raw string) Number {
	if strings.TrimSpace(raw) == "" {
		return Placeholder
	}

	var b strings.Builder
	b.Grow(MaxLength)
	count := 0
	for _, r := range raw {
		if !allowed(r) {
			continue
		}
		b.WriteRune(r)
		count++
		if count == MaxLength {
			break
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" || !strings.ContainsAny(out, "0123456789") {
		return Placeholder
	}
	return Number(out)
}

func allowed(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r == '+', r == '-', r == '(', r == ')', r == ' ':
		return true
	}
	return false
}

// DialRule normalizes national numbers into country-code qualified digits
type DialRule struct {
	CountryCode    string // without "+" or "00", e.g. "39"
	NationalLength int    // longest national significant number without a trunk prefix
}

// DefaultDialRule is the Italian numbering plan
var DefaultDialRule = DialRule{CountryCode: "39", NationalLength: 10}

// Target derives the digits used in a chat deep link from n. The second
// return value is false for the placeholder and for targets shorter than
// MinDialDigits.
func (d DialRule) Target(n Number) (string, bool) {
	if n.IsPlaceholder() {
		return "", false
	}

	digits := digitsOnly(string(n))
	switch {
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
	case d.CountryCode != "" && strings.HasPrefix(digits, "00"+d.CountryCode):
		digits = digits[2:]
	case strings.HasPrefix(digits, "00"):
		// foreign international prefix
		digits = digits[2:]
	case d.CountryCode != "" && strings.HasPrefix(digits, "0"):
		digits = d.CountryCode + digits[1:]
	case d.CountryCode != "" && len(digits) <= d.NationalLength:
		digits = d.CountryCode + digits
	}

	return digits, len(digits) >= MinDialDigits
}

// digitsOnly strips everything except digits and a single leading '+'
func digitsOnly(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
