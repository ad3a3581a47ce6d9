package graph

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalDecimal_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"20000", "20000"},
		{"20,000", "20000"},
		{"COP 20,000", "20000"},
		{"USD -1,234.50", "-1234.5"},
		{"  $ 99  ", "99"},
		{"0.125", "0.125"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := UnmarshalDecimal(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d.String())
		})
	}
}

func TestUnmarshalDecimal_Numbers(t *testing.T) {
	d, err := UnmarshalDecimal(json.Number("12.75"))
	require.NoError(t, err)
	assert.Equal(t, "12.75", d.String())

	d, err = UnmarshalDecimal(int64(400000))
	require.NoError(t, err)
	assert.Equal(t, "400000", d.String())

	d, err = UnmarshalDecimal(7)
	require.NoError(t, err)
	assert.Equal(t, "7", d.String())

	d, err = UnmarshalDecimal(0.5)
	require.NoError(t, err)
	assert.Equal(t, "0.5", d.String())
}

func TestUnmarshalDecimal_Rejects(t *testing.T) {
	for _, in := range []interface{}{"", "USD", "12#5", true, nil} {
		_, err := UnmarshalDecimal(in)
		assert.Error(t, err, "%v", in)
	}
}

func TestMarshalDecimal(t *testing.T) {
	var buf bytes.Buffer
	MarshalDecimal(decimal.RequireFromString("1234.50")).MarshalGQL(&buf)
	assert.Equal(t, "1234.5", buf.String())
}
