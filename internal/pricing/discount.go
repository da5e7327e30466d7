package pricing

import "math"

// DiscountPolicy is the "special customer pricing" overlay chosen before checkout.
// When active it replaces every line's own discount instead of stacking on it.
type DiscountPolicy struct {
	GlobalPercent     float64 `json:"globalPercent"`
	AppliesToAllLines bool    `json:"appliesToAllLines"`
}

// Active reports whether the policy overrides line discounts. A 0% policy
// is still active and clears every line discount.
func (p *DiscountPolicy) Active() bool {
	return p != nil && p.AppliesToAllLines
}

// ClampPercent pins a discount to [0,100]. NaN becomes 0.
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ResolveDiscount returns the discount a line is priced with.
func ResolveDiscount(lineDiscount float64, policy *DiscountPolicy) float64 {
	if policy.Active() {
		return ClampPercent(policy.GlobalPercent)
	}
	return ClampPercent(lineDiscount)
}

// ApplyPolicy returns a copy of lines with each discount resolved against policy.
func ApplyPolicy(lines []LineInput, policy *DiscountPolicy) []LineInput {
	out := make([]LineInput, len(lines))
	for i, in := range lines {
		in.DiscountPercent = ResolveDiscount(in.DiscountPercent, policy)
		out[i] = in
	}
	return out
}
