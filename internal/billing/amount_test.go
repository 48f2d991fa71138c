package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		raw      string
		amount   float64
		currency string
	}{
		{"1 234,56 €", 1234.56, "EUR"},
		{"1234.56€", 1234.56, "EUR"},
		{"1\u00a0234,56\u00a0€", 1234.56, "EUR"},
		{"1\u202f234,56 €", 1234.56, "EUR"},
		{"42,50&nbsp;€", 42.5, "EUR"},
		{"\n  59,99 €\n", 59.99, "EUR"},
		{"1.234,56 €", 1234.56, "EUR"},
		{"1,234.56 €", 1234.56, "EUR"},
		{"0,00 €", 0, "EUR"},
		{"12,30 CHF", 12.3, "CHF"},
		{"$15", 15, "$"},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			amount, currency, err := ParseAmount(tc.raw)
			require.NoError(t, err)
			assert.InDelta(t, tc.amount, amount, 1e-9)
			assert.Equal(t, tc.currency, currency)
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, raw := range []string{"", "€", "--", "1234,56", "-5,00 €", "12,,3 €", "abc"} {
		t.Run(raw, func(t *testing.T) {
			_, _, err := ParseAmount(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, schemas.ErrParse)
		})
	}
}

func TestBuildFilename(t *testing.T) {
	assert.Equal(t, "2023-05-10_sfr_42.5EUR.pdf", BuildFilename("2023-05-10", 42.5, "EUR", false))
	assert.Equal(t, "2023-05-10_sfr_42.5EUR_detailed.pdf", BuildFilename("2023-05-10", 42.5, "EUR", true))
	assert.Equal(t, "10-05-2023_sfr_1234.56EUR.pdf", BuildFilename("10/05/2023", 1234.56, "EUR", false))
	assert.Equal(t, "2022-12-28_sfr_28EUR.pdf", BuildFilename("2022-12-28", 28, "EUR", false))

	summary := BuildFilename("2023-01-01", 9.99, "EUR", false)
	detailed := BuildFilename("2023-01-01", 9.99, "EUR", true)
	assert.Equal(t, summary[:len(summary)-len(".pdf")]+"_detailed.pdf", detailed, "the pair differs only by the suffix")
}
