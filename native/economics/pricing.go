package economics

import (
	"math/big"
)

// EffectivePrice resolves the price of a play under the strategy. The base
// amount is scaled by the loyalty multiplier when the first matching
// pricing offer fires; otherwise the base amount stands. The result is
// floored to whole wei and never negative.
func EffectivePrice(s *Strategy, ctx PlayContext) (*big.Int, *OfferMatch, error) {
	base := big.NewInt(0)
	if s != nil && s.Pricing.BaseAmount != nil {
		base = new(big.Int).Set(s.Pricing.BaseAmount)
	}
	if s == nil {
		return base, nil, nil
	}
	match := FirstPricingMatch(s.Offers, ctx)
	if match == nil {
		return base, nil, nil
	}
	multiplier := match.Action.Multiplier
	if multiplier == nil {
		rat, err := s.Pricing.MultiplierRat()
		if err != nil {
			return nil, nil, err
		}
		multiplier = rat
	}
	return mulRatFloor(base, multiplier), match, nil
}

// mulRatFloor computes floor(amount * rat) for non-negative inputs.
func mulRatFloor(amount *big.Int, rat *big.Rat) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rat == nil {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(amount, rat.Num())
	return numerator.Quo(numerator, rat.Denom())
}
