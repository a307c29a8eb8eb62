// Package economics implements the revenue strategy engine: split
// validation and exact payout computation, programmable offer evaluation,
// loyalty pricing and the built-in strategy catalog.
package economics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SplitPercentTotal is the required sum of all split percentages.
const SplitPercentTotal = 100

// MaxFeeBps caps protocol fees at 100%.
const MaxFeeBps = 10_000

var (
	ErrNoSplits      = errors.New("economics: at least one split is required")
	ErrSplitPercent  = errors.New("economics: split percentages must sum to 100")
	ErrDuplicateRole = errors.New("economics: split roles must be unique")
	ErrHashMismatch  = errors.New("economics: strategy hash does not match payload")
)

// PaymentType identifies how a play was paid for. The numeric codes are
// part of the on-chain event encoding and must not be reordered.
type PaymentType uint8

const (
	PaymentStream PaymentType = iota
	PaymentDownload
	PaymentTip
	PaymentPatronage
	PaymentNFTAccess
)

// String returns the lowercase wire name for the payment type.
func (p PaymentType) String() string {
	switch p {
	case PaymentStream:
		return "stream"
	case PaymentDownload:
		return "download"
	case PaymentTip:
		return "tip"
	case PaymentPatronage:
		return "patronage"
	case PaymentNFTAccess:
		return "nft_access"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Valid reports whether the payment type is one of the defined codes.
func (p PaymentType) Valid() bool {
	return p <= PaymentNFTAccess
}

// ParsePaymentType accepts either the wire name or the numeric code.
func ParsePaymentType(value string) (PaymentType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stream", "0":
		return PaymentStream, nil
	case "download", "1":
		return PaymentDownload, nil
	case "tip", "2":
		return PaymentTip, nil
	case "patronage", "3":
		return PaymentPatronage, nil
	case "nft_access", "nftaccess", "4":
		return PaymentNFTAccess, nil
	default:
		return 0, fmt.Errorf("economics: unknown payment type %q", value)
	}
}

// PaymentModel names the economic model a song is registered under.
type PaymentModel string

const (
	ModelPayPerStream   PaymentModel = "pay_per_stream"
	ModelGiftEconomy    PaymentModel = "gift_economy"
	ModelSubscription   PaymentModel = "subscription"
	ModelPatronage      PaymentModel = "patronage"
	ModelNFTGated       PaymentModel = "nft_gated"
	ModelPayWhatYouWant PaymentModel = "pay_what_you_want"
	ModelAuction        PaymentModel = "auction"
	ModelFreemium       PaymentModel = "freemium"
	ModelTimeBarter     PaymentModel = "time_barter"
	ModelDownload       PaymentModel = "download"
	ModelStakingGated   PaymentModel = "staking_gated"
)

var paymentModels = map[PaymentModel]struct{}{
	ModelPayPerStream:   {},
	ModelGiftEconomy:    {},
	ModelSubscription:   {},
	ModelPatronage:      {},
	ModelNFTGated:       {},
	ModelPayWhatYouWant: {},
	ModelAuction:        {},
	ModelFreemium:       {},
	ModelTimeBarter:     {},
	ModelDownload:       {},
	ModelStakingGated:   {},
)

// Valid reports whether the model is one of the defined payment models.
func (m PaymentModel) Valid() bool {
	_, ok := paymentModels[m]
	return ok
}

// ParsePaymentModel normalises and validates a payment model string.
func ParsePaymentModel(value string) (PaymentModel, error) {
	model := PaymentModel(strings.ToLower(strings.TrimSpace(value)))
	if !model.Valid() {
		return "", fmt.Errorf("economics: unknown payment model %q", value)
	}
	return model, nil
}

// Split assigns a percentage of every payout to a role. Recipient is an
// optional 0x address; the artist role falls back to the song owner.
type Split struct {
	Role      string `json:"role" yaml:"role"`
	Pct       uint32 `json:"pct" yaml:"pct"`
	Recipient string `json:"recipient,omitempty" yaml:"recipient,omitempty"`
}

// Offer is a programmable condition/action rule attached to a strategy.
type Offer struct {
	Title     string `json:"title" yaml:"title"`
	Condition string `json:"condition" yaml:"condition"`
	Action    string `json:"action" yaml:"action"`
}

// Pricing carries the base price and the loyalty multiplier literal.
// The multiplier is kept as the submitted decimal literal so hashing and
// arithmetic agree exactly; an empty literal means 1.
type Pricing struct {
	BaseAmount        *big.Int
	LoyaltyMultiplier string
}

type pricingWire struct {
	BaseAmount        json.RawMessage `json:"baseAmount"`
	LoyaltyMultiplier json.RawMessage `json:"loyaltyMultiplier"`
}

// UnmarshalJSON accepts both string and number encodings for the base
// amount and the multiplier.
func (p *Pricing) UnmarshalJSON(data []byte) error {
	var wire pricingWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	base, err := decodeAmount(wire.BaseAmount)
	if err != nil {
		return fmt.Errorf("economics: invalid baseAmount: %w", err)
	}
	multiplier, err := decodeDecimal(wire.LoyaltyMultiplier)
	if err != nil {
		return fmt.Errorf("economics: invalid loyaltyMultiplier: %w", err)
	}
	p.BaseAmount = base
	p.LoyaltyMultiplier = multiplier
	return nil
}

// MarshalJSON renders the base amount as a decimal string and the
// multiplier as its literal value.
func (p Pricing) MarshalJSON() ([]byte, error) {
	base := "0"
	if p.BaseAmount != nil {
		base = p.BaseAmount.String()
	}
	multiplier := p.LoyaltyMultiplier
	if strings.TrimSpace(multiplier) == "" {
		multiplier = "1"
	}
	if _, ok := new(big.Rat).SetString(multiplier); !ok {
		return nil, fmt.Errorf("economics: invalid loyaltyMultiplier %q", multiplier)
	}
	return json.Marshal(struct {
		BaseAmount        string      `json:"baseAmount"`
		LoyaltyMultiplier json.Number `json:"loyaltyMultiplier"`
	}{BaseAmount: base, LoyaltyMultiplier: json.Number(multiplier)})
}

// MultiplierRat parses the loyalty multiplier literal. An empty literal
// yields 1.
func (p Pricing) MultiplierRat() (*big.Rat, error) {
	literal := strings.TrimSpace(p.LoyaltyMultiplier)
	if literal == "" {
		return big.NewRat(1, 1), nil
	}
	rat, ok := new(big.Rat).SetString(literal)
	if !ok {
		return nil, fmt.Errorf("economics: invalid loyaltyMultiplier %q", literal)
	}
	if rat.Sign() < 0 {
		return nil, errors.New("economics: loyaltyMultiplier cannot be negative")
	}
	return rat, nil
}

func decodeAmount(raw json.RawMessage) (*big.Int, error) {
	literal := trimJSONLiteral(raw)
	if literal == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(literal, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", literal)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", literal)
	}
	return amount, nil
}

func decodeDecimal(raw json.RawMessage) (string, error) {
	literal := trimJSONLiteral(raw)
	if literal == "" {
		return "", nil
	}
	if _, ok := new(big.Rat).SetString(literal); !ok {
		return "", fmt.Errorf("not a decimal literal: %q", literal)
	}
	return literal, nil
}

func trimJSONLiteral(raw json.RawMessage) string {
	literal := strings.TrimSpace(string(raw))
	if literal == "" || literal == "null" {
		return ""
	}
	return strings.Trim(literal, `"`)
}

// Strategy is a full revenue strategy configuration as submitted by an
// artist or loaded from the catalog.
type Strategy struct {
	ID             string   `json:"id,omitempty"`
	Modules        []string `json:"modules"`
	Pricing        Pricing  `json:"pricing"`
	Offers         []Offer  `json:"offers"`
	Splits         []Split  `json:"splits"`
	MinPaymentWei  string   `json:"minPaymentWei,omitempty"`
	ProtocolFeeBps uint32   `json:"protocolFeeBps,omitempty"`
	Hash           string   `json:"hash,omitempty"`
	AdminSignature string   `json:"admin_signature,omitempty"`
}

// ValidateSplits enforces the split invariants: at least one split, unique
// non-empty roles and percentages summing to exactly 100.
func ValidateSplits(splits []Split) error {
	if len(splits) == 0 {
		return ErrNoSplits
	}
	seen := make(map[string]struct{}, len(splits))
	total := uint64(0)
	for i, split := range splits {
		role := strings.TrimSpace(split.Role)
		if role == "" {
			return fmt.Errorf("economics: split %d has an empty role", i)
		}
		key := strings.ToLower(role)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateRole, role)
		}
		seen[key] = struct{}{}
		if split.Pct > SplitPercentTotal {
			return fmt.Errorf("economics: split %q exceeds 100%%", role)
		}
		total += uint64(split.Pct)
	}
	if total != SplitPercentTotal {
		return fmt.Errorf("%w (got %d)", ErrSplitPercent, total)
	}
	return nil
}

// Validate checks the full strategy configuration. Offer conditions and
// actions are parsed here so malformed rules are rejected at write time
// rather than surfacing while pricing a play.
func (s *Strategy) Validate() error {
	if s == nil {
		return errors.New("economics: nil strategy")
	}
	if err := ValidateSplits(s.Splits); err != nil {
		return err
	}
	if _, err := s.Pricing.MultiplierRat(); err != nil {
		return err
	}
	if s.Pricing.BaseAmount != nil && s.Pricing.BaseAmount.Sign() < 0 {
		return errors.New("economics: baseAmount cannot be negative")
	}
	if s.MinPaymentWei != "" {
		if _, err := ParseWei(s.MinPaymentWei); err != nil {
			return fmt.Errorf("economics: invalid minPaymentWei: %w", err)
		}
	}
	if s.ProtocolFeeBps > MaxFeeBps {
		return fmt.Errorf("economics: protocolFeeBps %d exceeds %d", s.ProtocolFeeBps, MaxFeeBps)
	}
	for i, offer := range s.Offers {
		if strings.TrimSpace(offer.Condition) == "" {
			return fmt.Errorf("economics: offer %d has an empty condition", i)
		}
		if _, err := parseCondition(offer.Condition); err != nil {
			return fmt.Errorf("economics: offer %d: %w", i, err)
		}
		if _, err := ParseAction(offer.Action); err != nil {
			return fmt.Errorf("economics: offer %d: %w", i, err)
		}
	}
	for i, module := range s.Modules {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("economics: module %d is empty", i)
		}
	}
	return nil
}

// MinPayment returns the configured minimum payment, zero when unset.
func (s *Strategy) MinPayment() *big.Int {
	if s == nil || s.MinPaymentWei == "" {
		return big.NewInt(0)
	}
	amount, err := ParseWei(s.MinPaymentWei)
	if err != nil {
		return big.NewInt(0)
	}
	return amount
}

// ParseWei parses a non-negative base-10 wei amount.
func ParseWei(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", value)
	}
	return amount, nil
}

// canonicalStrategy is the stable image the strategy hash commits to. The
// hash and admin signature fields are deliberately excluded.
type canonicalStrategy struct {
	Modules []string `json:"modules"`
	Pricing Pricing  `json:"pricing"`
	Offers  []Offer  `json:"offers"`
	Splits  []Split  `json:"splits"`
}

// CanonicalJSON renders the hashable image of the strategy: fixed field
// order, base amount as a decimal string, recipient addresses lowercased.
func (s *Strategy) CanonicalJSON() ([]byte, error) {
	canonical := canonicalStrategy{
		Modules: make([]string, 0, len(s.Modules)),
		Pricing: s.Pricing,
		Offers:  make([]Offer, 0, len(s.Offers)),
		Splits:  make([]Split, 0, len(s.Splits)),
	}
	for _, module := range s.Modules {
		canonical.Modules = append(canonical.Modules, strings.TrimSpace(module))
	}
	for _, offer := range s.Offers {
		canonical.Offers = append(canonical.Offers, Offer{
			Title:     strings.TrimSpace(offer.Title),
			Condition: strings.Join(strings.Fields(offer.Condition), " "),
			Action:    strings.TrimSpace(offer.Action),
		})
	}
	for _, split := range s.Splits {
		canonical.Splits = append(canonical.Splits, Split{
			Role:      strings.TrimSpace(split.Role),
			Pct:       split.Pct,
			Recipient: strings.ToLower(strings.TrimSpace(split.Recipient)),
		})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeHash returns the sha256 hex digest of the canonical payload.
func (s *Strategy) ComputeHash() (string, error) {
	payload, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// SealHash computes the canonical hash and stores it on the strategy. When
// a hash was already supplied it must match the computed value.
func (s *Strategy) SealHash() error {
	computed, err := s.ComputeHash()
	if err != nil {
		return err
	}
	if s.Hash != "" && !strings.EqualFold(s.Hash, computed) {
		return ErrHashMismatch
	}
	s.Hash = computed
	return nil
}

// ParseStrategy decodes and validates a stored strategy payload.
func ParseStrategy(payload string) (*Strategy, error) {
	var s Strategy
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("economics: decode strategy payload: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
