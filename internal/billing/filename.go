package billing

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// BuildFilename derives the document name of a bill:
// "<date>_sfr_<amount><currency>[_detailed].pdf", slashes in date turned into
// dashes and the amount in its shortest decimal form.
func BuildFilename(date string, amount float64, currency string, detailed bool) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(date, "/", "-"))
	b.WriteString("_")
	b.WriteString(schemas.Vendor)
	b.WriteString("_")
	b.WriteString(strconv.FormatFloat(amount, 'f', -1, 64))
	b.WriteString(currency)
	if detailed {
		b.WriteString("_detailed")
	}
	b.WriteString(".pdf")
	return b.String()
}
