// Package amount converts between human-readable bid amounts
// ("250k", "2.5m", "1,000,000") and integer magnitudes, and validates
// them against the configured bidding range.
package amount

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/auctionhouse/auctiond/internal/domain/errors"
)

var suffixes = map[string]int64{
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
	"t": 1_000_000_000_000,
}

var suffixPattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)([kmbt])$`)

// Parse converts strings like "250k", "2.5m", "1,000,000" or plain
// digits into an integer amount. Commas, underscores and spaces are
// ignored; suffixes are case-insensitive.
func Parse(text string) (int64, error) {
	original := text
	text = strings.ToLower(strings.TrimSpace(text))
	replacer := strings.NewReplacer(" ", "", ",", "", "_", "")
	text = replacer.Replace(text)

	if text == "" {
		return 0, errors.NewRejection(errors.CodeParseError, "empty amount")
	}

	if isDigits(text) {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, errors.NewRejection(errors.CodeParseError,
				fmt.Sprintf("invalid number: %s", original)).WithCause(err)
		}
		return n, nil
	}

	m := suffixPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, errors.NewRejection(errors.CodeParseError,
			fmt.Sprintf("invalid format: %s (examples: 250k, 2.5m, 1000000)", original))
	}

	num, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0, errors.NewRejection(errors.CodeParseError,
			fmt.Sprintf("invalid format: %s", original)).WithCause(err)
	}
	scaled := num.Mul(decimal.NewFromInt(suffixes[m[2]]))
	if !scaled.IsInteger() {
		scaled = scaled.Truncate(0)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, errors.NewRejection(errors.CodeParseError,
			fmt.Sprintf("amount too large: %s", original))
	}
	return scaled.IntPart(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Format renders an amount as a short display string: 250000 -> "250K",
// 2500000 -> "2.5M". Trailing zeros after the decimal point are trimmed.
func Format(amount int64) string {
	if amount == 0 {
		return "0"
	}
	negative := amount < 0
	if negative {
		amount = -amount
	}

	var suffix string
	var unit int64
	switch {
	case amount >= 1_000_000_000_000:
		suffix, unit = "T", 1_000_000_000_000
	case amount >= 1_000_000_000:
		suffix, unit = "B", 1_000_000_000
	case amount >= 1_000_000:
		suffix, unit = "M", 1_000_000
	case amount >= 1_000:
		suffix, unit = "K", 1_000
	default:
		s := strconv.FormatInt(amount, 10)
		if negative {
			return "-" + s
		}
		return s
	}

	value := decimal.NewFromInt(amount).Div(decimal.NewFromInt(unit))
	s := value.Round(2).String() + suffix
	if negative {
		return "-" + s
	}
	return s
}

// Diff renders a signed difference between two amounts: Diff(300000,
// 250000) -> "+50K".
func Diff(a, b int64) string {
	d := a - b
	if d == 0 {
		return "±0"
	}
	if d > 0 {
		return "+" + Format(d)
	}
	return Format(d)
}

// Commission computes the integer commission owed on an amount at the
// given percentage rate. Non-positive inputs yield zero.
func Commission(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return amount * int64(percent) / 100
}

// Codec bundles parsing with range validation so the bidding service
// can consume amounts through one contract.
type Codec struct {
	MinBid int64
	MaxBid int64
}

// NewCodec returns a codec enforcing the given bidding range.
func NewCodec(minBid, maxBid int64) *Codec {
	return &Codec{MinBid: minBid, MaxBid: maxBid}
}

// Parse delegates to the package-level Parse.
func (c *Codec) Parse(text string) (int64, error) {
	return Parse(text)
}

// ValidateRange checks that an amount falls inside [MinBid, MaxBid].
func (c *Codec) ValidateRange(amount int64) error {
	if amount < c.MinBid {
		return errors.NewRejection(errors.CodeOutOfRange,
			fmt.Sprintf("amount must be at least %s", Format(c.MinBid))).
			WithDetails(map[string]interface{}{"min_bid": c.MinBid})
	}
	if amount > c.MaxBid {
		return errors.NewRejection(errors.CodeOutOfRange,
			fmt.Sprintf("amount cannot exceed %s", Format(c.MaxBid))).
			WithDetails(map[string]interface{}{"max_bid": c.MaxBid})
	}
	return nil
}

// Format delegates to the package-level Format.
func (c *Codec) Format(amount int64) string {
	return Format(amount)
}
