package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"plain", "12.50", "12.5", false},
		{"negative", "-42", "-42", false},
		{"thousands separator", "1,234.56", "1234.56", false},
		{"padded", "  7.10 ", "7.1", false},
		{"empty", "", "", true},
		{"garbage", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	total := decimal.RequireFromString("100.00")

	assert.True(t, WithinTolerance(total, decimal.RequireFromString("100.00")))
	assert.True(t, WithinTolerance(total, decimal.RequireFromString("99.99")))
	assert.True(t, WithinTolerance(total, decimal.RequireFromString("100.01")))
	assert.False(t, WithinTolerance(total, decimal.RequireFromString("99.98")))
	assert.False(t, WithinTolerance(total, decimal.RequireFromString("-100.00")))
}

func TestSum(t *testing.T) {
	got := Sum(
		decimal.RequireFromString("-10.10"),
		decimal.RequireFromString("-20.20"),
		decimal.RequireFromString("-0.03"),
	)
	assert.True(t, got.Equal(decimal.RequireFromString("-30.33")))
	assert.True(t, Sum().IsZero())
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, DirectionExpense, DirectionOf(decimal.NewFromInt(-5), false))
	assert.Equal(t, DirectionIncome, DirectionOf(decimal.NewFromInt(5), false))
	assert.Equal(t, DirectionIncome, DirectionOf(decimal.Zero, false))
	assert.Equal(t, DirectionTransfer, DirectionOf(decimal.NewFromInt(-5), true))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "-12.30 USD", Format(decimal.RequireFromString("-12.3"), "USD"))
	assert.Equal(t, "4.00", Format(decimal.NewFromInt(4), ""))
}
