package loyalty

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxVisitAmount is the checkout ceiling used when none is configured.
var DefaultMaxVisitAmount = decimal.NewFromInt(1_000_000)

// AmountPolicy decides which purchase amounts may open a visit claim.
// Both a global ceiling and per-location floors are optional.
type AmountPolicy struct {
	Max           decimal.Decimal            // zero means no ceiling
	MinByLocation map[string]decimal.Decimal // keyed by normalized location code
}

// DefaultAmountPolicy only enforces the global ceiling.
func DefaultAmountPolicy() AmountPolicy {
	return AmountPolicy{Max: DefaultMaxVisitAmount}
}

// Validate checks amount for the given location.
func (p AmountPolicy) Validate(amount decimal.Decimal, locationCode string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if p.Max.IsPositive() && amount.GreaterThan(p.Max) {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("must not exceed %s", p.Max)}
	}
	if minimum, ok := p.MinByLocation[NormalizeLocation(locationCode)]; ok && amount.LessThan(minimum) {
		return &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must be at least %s at location %s", minimum, NormalizeLocation(locationCode)),
		}
	}
	return nil
}

// NormalizeLocation trims and upper-cases a location code.
func NormalizeLocation(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseLocationMinimums parses "CODE:amount,CODE:amount".
func ParseLocationMinimums(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, raw, ok := strings.Cut(part, ":")
		if !ok || NormalizeLocation(code) == "" {
			return nil, fmt.Errorf("bad location minimum %q: want CODE:amount", part)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("bad amount in %q: %w", part, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("bad amount in %q: negative", part)
		}
		out[NormalizeLocation(code)] = amount
	}
	return out, nil
}
