package economics

import (
	"errors"
	"math/big"
	"strings"
)

// Payout is one computed distribution line for a payment.
type Payout struct {
	Role      string
	Recipient string
	Amount    *big.Int
}

func payoutShare(amount *big.Int, pct uint32) *big.Int {
	numerator := new(big.Int).Mul(amount, big.NewInt(int64(pct)))
	quotient, _ := new(big.Int).DivMod(numerator, big.NewInt(SplitPercentTotal), new(big.Int))
	return quotient
}

// PrimaryIndex locates the split that absorbs rounding dust: the artist
// role when present, otherwise the first split.
func PrimaryIndex(splits []Split) int {
	for i, split := range splits {
		if strings.EqualFold(strings.TrimSpace(split.Role), "artist") {
			return i
		}
	}
	return 0
}

// ComputeSplits allocates amount across the splits with floor division and
// assigns the remainder to the primary split, so the payouts always sum to
// exactly the input amount.
func ComputeSplits(amount *big.Int, splits []Split) ([]Payout, error) {
	if err := ValidateSplits(splits); err != nil {
		return nil, err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, errors.New("economics: amount cannot be negative")
	}
	payouts := make([]Payout, len(splits))
	assigned := big.NewInt(0)
	for i, split := range splits {
		share := payoutShare(amount, split.Pct)
		payouts[i] = Payout{
			Role:      strings.TrimSpace(split.Role),
			Recipient: strings.ToLower(strings.TrimSpace(split.Recipient)),
			Amount:    share,
		}
		assigned.Add(assigned, share)
	}
	dust := new(big.Int).Sub(amount, assigned)
	if dust.Sign() > 0 {
		primary := PrimaryIndex(splits)
		payouts[primary].Amount = new(big.Int).Add(payouts[primary].Amount, dust)
	}
	return payouts, nil
}

// Preview summarises a protocol-fee-adjusted split computation.
type Preview struct {
	Gross   *big.Int
	Fee     *big.Int
	Net     *big.Int
	Payouts []Payout
}

// PreviewSplits takes the protocol fee off the gross amount and allocates
// the net across the splits. Fee plus payouts always sum to gross exactly.
func PreviewSplits(gross *big.Int, feeBps uint32, splits []Split) (*Preview, error) {
	if gross == nil {
		gross = big.NewInt(0)
	}
	if gross.Sign() < 0 {
		return nil, errors.New("economics: amount cannot be negative")
	}
	if feeBps > MaxFeeBps {
		return nil, errors.New("economics: protocol fee exceeds 100%")
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(MaxFeeBps))
	net := new(big.Int).Sub(gross, fee)
	payouts, err := ComputeSplits(net, splits)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Gross:   new(big.Int).Set(gross),
		Fee:     fee,
		Net:     net,
		Payouts: payouts,
	}, nil
}

// SumPayouts totals the payout amounts.
func SumPayouts(payouts []Payout) *big.Int {
	total := big.NewInt(0)
	for _, payout := range payouts {
		if payout.Amount != nil {
			total.Add(total, payout.Amount)
		}
	}
	return total
}
