package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":      "254712345678",
		"712345678":       "254712345678",
		"+254712345678":   "254712345678",
		"254712345678":    "254712345678",
		"0112 345 678":    "254112345678",
		"+254-712-345678": "254712345678",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalizePhone_Rejects(t *testing.T) {
	for _, in := range []string{"", "12345", "0812345678", "25571234567", "2547123456789", "abcdefghij"} {
		_, err := NormalizePhone(in)
		require.Error(t, err, in)
		assert.True(t, IsValidation(err), in)
	}
}

func TestValidateAmount(t *testing.T) {
	min, max := decimal.NewFromInt(1), decimal.NewFromInt(150000)

	assert.NoError(t, ValidateAmount(decimal.RequireFromString("1500.00"), min, max))
	assert.NoError(t, ValidateAmount(decimal.NewFromInt(1), min, max))
	assert.NoError(t, ValidateAmount(decimal.NewFromInt(150000), min, max))

	for _, bad := range []string{"0", "-5", "10.50", "150001"} {
		err := ValidateAmount(decimal.RequireFromString(bad), min, max)
		assert.True(t, IsValidation(err), bad)
	}
}

func TestValidateAmount_NoUpperBound(t *testing.T) {
	assert.NoError(t, ValidateAmount(decimal.NewFromInt(1_000_000), decimal.NewFromInt(1), decimal.Zero))
}
