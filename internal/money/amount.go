package money

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Style selects the decimal and grouping separators of amount text.
type Style int

const (
	// StyleGerman uses comma as decimal mark and dot for grouping: 1.234,56
	StyleGerman Style = iota
	// StylePoint uses dot as decimal mark and comma for grouping: 1,234.56
	StylePoint
)

func (s Style) separators() (dec, group byte) {
	if s == StylePoint {
		return '.', ','
	}
	return ',', '.'
}

// ParseStyle maps a configuration name to a Style.
func ParseStyle(name string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "de", "german", "comma":
		return StyleGerman, nil
	case "en", "point", "dot":
		return StylePoint, nil
	default:
		return 0, fmt.Errorf("unknown amount style %q", name)
	}
}

// ParseAmount normalizes an amount string to minor units. Grouping separators
// are optional but must form groups of three digits; at most MinorDigits
// fraction digits are accepted.
func ParseAmount(raw string, style Style) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	dec, group := style.separators()

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, dec); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" {
			return 0, fmt.Errorf("%w: %q: decimal mark without digits", ErrInvalidAmount, raw)
		}
	}
	if len(fracPart) > MinorDigits {
		return 0, fmt.Errorf("%w: %q: more than %d fraction digits", ErrInvalidAmount, raw, MinorDigits)
	}
	if !allDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q: bad fraction digits", ErrInvalidAmount, raw)
	}

	digits, err := ungroup(intPart, group)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %s", ErrInvalidAmount, raw, err.Error())
	}

	whole, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: out of range", ErrInvalidAmount, raw)
	}
	for len(fracPart) < MinorDigits {
		fracPart += "0"
	}
	frac, _ := strconv.ParseInt(fracPart, 10, 64)

	if whole > (math.MaxInt64-frac)/100 {
		return 0, fmt.Errorf("%w: %q: out of range", ErrInvalidAmount, raw)
	}
	minor := whole*100 + frac
	if neg {
		minor = -minor
	}
	return minor, nil
}

// ungroup validates the integer part and strips grouping separators.
func ungroup(s string, group byte) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing integer digits")
	}
	if strings.IndexByte(s, group) < 0 {
		if !allDigits(s) {
			return "", fmt.Errorf("bad integer digits")
		}
		return s, nil
	}
	parts := strings.Split(s, string(group))
	if len(parts[0]) == 0 || len(parts[0]) > 3 || !allDigits(parts[0]) {
		return "", fmt.Errorf("bad digit grouping")
	}
	for _, p := range parts[1:] {
		if len(p) != 3 || !allDigits(p) {
			return "", fmt.Errorf("bad digit grouping")
		}
	}
	return strings.Join(parts, ""), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatAmount renders minor units with grouping, e.g. 123456 -> "1.234,56".
func FormatAmount(minor int64, style Style) string {
	dec, group := style.separators()

	var abs uint64
	neg := minor < 0
	if neg {
		abs = uint64(-(minor + 1)) + 1
	} else {
		abs = uint64(minor)
	}

	whole := strconv.FormatUint(abs/100, 10)
	frac := abs % 100

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(whole) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(whole[:lead])
	for i := lead; i < len(whole); i += 3 {
		b.WriteByte(group)
		b.WriteString(whole[i : i+3])
	}
	b.WriteByte(dec)
	b.WriteByte(byte('0' + frac/10))
	b.WriteByte(byte('0' + frac%10))
	return b.String()
}
