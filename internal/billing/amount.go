package billing

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// currencyCodes maps glyphs to ISO 4217 codes. Unknown glyphs pass through.
var currencyCodes = map[string]string{
	"€": "EUR",
}

var blankReplacer = strings.NewReplacer("&nbsp;", "", "\u00a0", "", "\u202f", "", "\u2009", "")

// ParseAmount turns a portal amount such as "1 234,56 €" into (1234.56, "EUR").
// A missing glyph, a negative value or an unparsable residue is an ErrParse.
func ParseAmount(raw string) (float64, string, error) {
	s := blankReplacer.Replace(raw)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	var number, glyph strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-', r == '+':
			number.WriteRune(r)
		default:
			glyph.WriteRune(r)
		}
	}

	if glyph.Len() == 0 {
		return 0, "", fmt.Errorf("%w: no currency in amount %q", schemas.ErrParse, raw)
	}
	amount, err := strconv.ParseFloat(normalizeDecimal(number.String()), 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: amount %q: %v", schemas.ErrParse, raw, err)
	}
	if amount < 0 {
		return 0, "", fmt.Errorf("%w: negative amount %q", schemas.ErrParse, raw)
	}

	currency := glyph.String()
	if code, ok := currencyCodes[currency]; ok {
		currency = code
	}
	return amount, currency, nil
}

// normalizeDecimal rewrites a French or English formatted number with a
// single dot as the decimal separator. When both separators appear the last
// one is the decimal mark.
func normalizeDecimal(n string) string {
	lastComma := strings.LastIndexByte(n, ',')
	lastDot := strings.LastIndexByte(n, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastDot < lastComma:
		n = strings.ReplaceAll(n, ".", "")
		return strings.Replace(n, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		return strings.ReplaceAll(n, ",", "")
	case lastComma >= 0:
		return strings.Replace(n, ",", ".", 1)
	}
	return n
}
