package billing

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMonth(t *testing.T) {
	french := []string{"janv.", "févr.", "mars", "avr.", "mai", "juin", "juil.", "août", "sept.", "oct.", "nov.", "déc."}
	english := []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	want := []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"}

	for i := range want {
		got, ok := NormalizeMonth(french[i])
		require.True(t, ok, french[i])
		assert.Equal(t, want[i], got, french[i])

		got, ok = NormalizeMonth(english[i])
		require.True(t, ok, english[i])
		assert.Equal(t, want[i], got, english[i])
	}

	for _, variant := range []string{"fevr", "FÉVR.", " déc ", "aout", "Juillet", "decembre"} {
		_, ok := NormalizeMonth(variant)
		assert.True(t, ok, variant)
	}
	for _, unknown := range []string{"", "xyz", "13", "ma", "lundi"} {
		_, ok := NormalizeMonth(unknown)
		assert.False(t, ok, unknown)
	}
}

func TestParseDates(t *testing.T) {
	d, err := parseNumericDate("Payée le 12/05/2023")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2023, Month: 5, Day: 12}, d)

	_, err = parseNumericDate("31/02/2023")
	assert.Error(t, err, "calendar validity is checked")
	_, err = parseNumericDate("12/13/2023")
	assert.Error(t, err)

	d, err = parseLongDate("Facture du 10 avr. 2023")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2023, Month: 4, Day: 10}, d)

	_, err = parseLongDate("10 brumaire 2023")
	assert.Error(t, err)

	issued := civil.Date{Year: 2023, Month: 5, Day: 10}
	d, err = parseDayMonth("12mai-", issued)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2023, Month: 5, Day: 12}, d)

	d, err = parseDayMonth("02 janv.", civil.Date{Year: 2022, Month: 12, Day: 28})
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2023, Month: 1, Day: 2}, d, "payment in the following year")
}
