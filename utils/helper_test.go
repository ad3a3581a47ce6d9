package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundMoneyHalfUp(t *testing.T) {
	assert.Equal(t, "10.13", RoundMoney(decimal.RequireFromString("10.125"), 2).String())
	assert.Equal(t, "10.12", RoundMoney(decimal.RequireFromString("10.1249"), 2).String())
	assert.Equal(t, "11", RoundMoney(decimal.RequireFromString("10.5"), 0).String())
}

func TestUniqueSliceKeepsFirstOccurrenceOrder(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, UniqueSlice([]int{3, 1, 3, 2, 1}))
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal(" 19.50 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("19.5")))

	_, err = ParseDecimal("  ")
	assert.Error(t, err)
}

type amountInput struct {
	Amount decimal.Decimal `validate:"gt=0"`
	Rate   decimal.Decimal `validate:"gte=0"`
}

func TestValidateStructDecimalRules(t *testing.T) {
	require.NoError(t, ValidateStruct(amountInput{Amount: decimal.NewFromInt(1), Rate: decimal.Zero}))

	err := ValidateStruct(amountInput{Amount: decimal.Zero, Rate: decimal.NewFromInt(-1)})
	require.Error(t, err)
	fields := ProcessValidationErrors(err)
	assert.Equal(t, "gt", fields["Amount"])
	assert.Equal(t, "gte", fields["Rate"])
}

func TestConvertToDateTruncatesInTimezone(t *testing.T) {
	in := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	d, err := ConvertToDate(in, "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), d)

	_, err = ConvertToDate(in, "Not/AZone")
	assert.Error(t, err)
}
