package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionhouse/auctiond/internal/domain/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"250k", 250_000},
		{"250K", 250_000},
		{"2.5m", 2_500_000},
		{"1,000,000", 1_000_000},
		{"5b", 5_000_000_000},
		{"1.5K", 1_500},
		{"1t", 1_000_000_000_000},
		{"1000000", 1_000_000},
		{"1_000_000", 1_000_000},
		{" 300 000 ", 300_000},
		{"0.5m", 500_000},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []string{
		"",
		"abc",
		"k",
		"1.2.3k",
		"-5k",
		"12x",
		"10kk",
		"99999999999t",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			appErr, ok := errors.IsRejection(err)
			require.True(t, ok)
			assert.Equal(t, errors.CodeParseError, appErr.Code)
		})
	}
}

func TestParseTruncatesFractionalResult(t *testing.T) {
	// 1.2345k scales to 1234.5; sub-unit remainders are dropped.
	got, err := Parse("1.2345k")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{0, "0"},
		{999, "999"},
		{1_000, "1K"},
		{250_000, "250K"},
		{1_500, "1.5K"},
		{2_500_000, "2.5M"},
		{1_000_000_000, "1B"},
		{1_000_000_000_000, "1T"},
		{-50_000, "-50K"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.amount))
		})
	}
}

func TestDiff(t *testing.T) {
	assert.Equal(t, "+50K", Diff(300_000, 250_000))
	assert.Equal(t, "-50K", Diff(250_000, 300_000))
	assert.Equal(t, "±0", Diff(250_000, 250_000))
}

func TestCommission(t *testing.T) {
	assert.Equal(t, int64(72_000), Commission(360_000, 20))
	assert.Equal(t, int64(0), Commission(0, 20))
	assert.Equal(t, int64(0), Commission(360_000, 0))
	assert.Equal(t, int64(0), Commission(-100, 20))
}

func TestCodecValidateRange(t *testing.T) {
	c := NewCodec(1_000, 1_000_000_000_000)

	require.NoError(t, c.ValidateRange(1_000))
	require.NoError(t, c.ValidateRange(250_000))
	require.NoError(t, c.ValidateRange(1_000_000_000_000))

	err := c.ValidateRange(999)
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.CodeOutOfRange, appErr.Code)

	err = c.ValidateRange(1_000_000_000_001)
	require.Error(t, err)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.CodeOutOfRange, appErr.Code)
}
