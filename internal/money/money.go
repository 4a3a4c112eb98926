// Package money represents monetary values as integer minor units (centavos).
// Formatted strings coming from the operator surface are parsed exactly here;
// arithmetic never touches floating point.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed is returned when the input is not a recognizable amount.
	ErrMalformed = errors.New("money: malformed amount")
	// ErrPrecision is returned when the input carries more than two
	// fractional digits, trailing zeros included. Such values are rejected,
	// never rounded.
	ErrPrecision = errors.New("money: more than two fractional digits")
)

// Cents is an amount in minor units. 12345 is R$ 123,45.
type Cents int64

const currencySymbol = "R$"

// Parse converts a formatted amount into Cents.
//
// Accepted shapes: "R$ 1.234,56", "1234,56", "123,4", "123", "123.45", "-10,00".
// When a comma is present it is the decimal separator and dots group thousands.
// Without a comma, a single dot followed by exactly three digits groups
// thousands ("1.234" is 1234,00); any other single dot is a decimal point.
func Parse(raw string) (Cents, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, currencySymbol))
	if strings.HasPrefix(s, "-") {
		if neg {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, raw)
		}
		neg = true
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	normalized, ok := normalize(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	if i := strings.IndexByte(normalized, '.'); i >= 0 && len(normalized)-i-1 > 2 {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, raw)
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	if neg {
		d = d.Neg()
	}
	c, err := FromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", err, raw)
	}
	return c, nil
}

// MustParse is Parse for literals in tests and seed data. It panics on error.
func MustParse(raw string) Cents {
	c, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// FromDecimal converts a major-unit decimal into Cents without rounding.
// Only significant digits count here: 19.900 converts to 1990.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, ErrPrecision
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrMalformed
	}
	return Cents(shifted.IntPart()), nil
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount as "R$ 1.234,56". Presentation only.
func (c Cents) String() string {
	v := int64(c)
	sign := ""
	var abs uint64
	if v < 0 {
		sign = "-"
		abs = uint64(-(v + 1)) + 1
	} else {
		abs = uint64(v)
	}
	return fmt.Sprintf("%s%s %s,%02d", sign, currencySymbol, groupThousands(abs/100), abs%100)
}

func normalize(s string) (string, bool) {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return "", false
		}
	}

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 2 || !allDigits(parts[1]) {
			return "", false
		}
		intPart, ok := stripGroups(parts[0])
		if !ok {
			return "", false
		}
		return intPart + "." + parts[1], true
	}

	parts := strings.Split(s, ".")
	switch {
	case len(parts) == 1:
		return s, allDigits(s)
	case len(parts) == 2 && len(parts[1]) != 3:
		if !allDigits(parts[0]) || !allDigits(parts[1]) {
			return "", false
		}
		return parts[0] + "." + parts[1], true
	default:
		return stripGroups(s)
	}
}

// stripGroups removes thousand separators, checking the group shape.
func stripGroups(s string) (string, bool) {
	groups := strings.Split(s, ".")
	if len(groups) == 1 {
		return s, allDigits(s)
	}
	if len(groups[0]) == 0 || len(groups[0]) > 3 || !allDigits(groups[0]) {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func groupThousands(n uint64) string {
	digits := strconv.FormatUint(n, 10)
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
