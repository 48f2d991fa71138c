package billing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// monthTokens maps accent-folded, period-less, lower-cased month tokens.
// French abbreviations as printed by the portal plus their full forms, and the
// English three-letter fallbacks.
var monthTokens = map[string]string{
	"janv": "01", "janvier": "01", "jan": "01",
	"fevr": "02", "fevrier": "02", "fev": "02", "feb": "02",
	"mars": "03", "mar": "03",
	"avr": "04", "avril": "04", "apr": "04",
	"mai": "05", "may": "05",
	"juin": "06", "jun": "06",
	"juil": "07", "juillet": "07", "jul": "07",
	"aout": "08", "aug": "08",
	"sept": "09", "septembre": "09", "sep": "09",
	"oct": "10", "octobre": "10",
	"nov": "11", "novembre": "11",
	"dec": "12", "decembre": "12",
}

// NormalizeMonth maps a localized month token to its two-digit number.
// "févr.", "fevr", "FÉVR." and "Feb" all give "02".
func NormalizeMonth(token string) (string, bool) {
	m, ok := monthTokens[foldToken(token)]
	return m, ok
}

func foldToken(token string) string {
	t := strings.TrimSpace(token)
	t = strings.TrimSuffix(t, ".")
	t = foldAccents(strings.ToLower(t))
	return t
}

// foldAccents strips combining marks: "déc" becomes "dec".
func foldAccents(s string) string {
	tr := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tr, s)
	if err != nil {
		return s
	}
	return out
}

func newDate(year, month, day int) (civil.Date, error) {
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if month < 1 || month > 12 || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("invalid date %02d/%02d/%04d", day, month, year)
	}
	return d, nil
}

var numericDate = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)

// parseNumericDate reads the first dd/mm/yyyy date found in s.
func parseNumericDate(s string) (civil.Date, error) {
	m := numericDate.FindStringSubmatch(s)
	if m == nil {
		return civil.Date{}, fmt.Errorf("no dd/mm/yyyy date in %q", s)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	return newDate(year, month, day)
}

var longDate = regexp.MustCompile(`(\d{1,2})\s*(\p{L}+\.?)\s*(\d{4})`)

// parseLongDate reads the first "10 mai 2023" style date found in s.
func parseLongDate(s string) (civil.Date, error) {
	m := longDate.FindStringSubmatch(s)
	if m == nil {
		return civil.Date{}, fmt.Errorf("no day-month-year date in %q", s)
	}
	month, ok := NormalizeMonth(m[2])
	if !ok {
		return civil.Date{}, fmt.Errorf("unknown month %q", m[2])
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	mm, _ := strconv.Atoi(month)
	return newDate(year, mm, day)
}

var dayMonth = regexp.MustCompile(`(\d{1,2})\s*(\p{L}{3,9}\.?)`)

// parseDayMonth reads a "12 mai" style fragment that carries no year. The
// year is taken from the issue date and moved forward when the month wraps
// past December.
func parseDayMonth(s string, issued civil.Date) (civil.Date, error) {
	m := dayMonth.FindStringSubmatch(s)
	if m == nil {
		return civil.Date{}, fmt.Errorf("no day-month fragment in %q", s)
	}
	month, ok := NormalizeMonth(m[2])
	if !ok {
		return civil.Date{}, fmt.Errorf("unknown month %q", m[2])
	}
	day, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(month)
	year := issued.Year
	if mm < int(issued.Month) {
		year++
	}
	return newDate(year, mm, day)
}
