package economics

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Offer conditions are three-token comparisons: <field> <op> <value>.
// Supported fields cover the play context available at pricing time.
const (
	fieldListenerPlays = "listener_plays"
	fieldSongPlays     = "song_plays"
	fieldPaymentType   = "payment_type"
	fieldAmountWei     = "amount_wei"
)

// ActionKind classifies what an offer does when its condition matches.
type ActionKind int

const (
	// ActionNote has no pricing effect; the offer is informational.
	ActionNote ActionKind = iota
	// ActionMultiplier scales the base price by the strategy's loyalty
	// multiplier, or by an explicit one given as "multiplier:<decimal>".
	ActionMultiplier
)

// OfferAction is a parsed offer action. Multiplier is nil when the
// strategy's own loyalty multiplier applies.
type OfferAction struct {
	Kind       ActionKind
	Multiplier *big.Rat
}

// ParseAction parses an offer action string.
func ParseAction(action string) (OfferAction, error) {
	trimmed := strings.TrimSpace(action)
	if trimmed == "" {
		return OfferAction{}, fmt.Errorf("empty action")
	}
	if trimmed == "multiplier" {
		return OfferAction{Kind: ActionMultiplier}, nil
	}
	if literal, ok := strings.CutPrefix(trimmed, "multiplier:"); ok {
		rat, valid := new(big.Rat).SetString(strings.TrimSpace(literal))
		if !valid || rat.Sign() < 0 {
			return OfferAction{}, fmt.Errorf("invalid multiplier literal %q", literal)
		}
		return OfferAction{Kind: ActionMultiplier, Multiplier: rat}, nil
	}
	return OfferAction{Kind: ActionNote}, nil
}

type condition struct {
	field string
	op    string
	value string
}

func parseCondition(raw string) (condition, error) {
	tokens := strings.Fields(raw)
	if len(tokens) != 3 {
		return condition{}, fmt.Errorf("condition must be \"<field> <op> <value>\", got %q", raw)
	}
	cond := condition{field: strings.ToLower(tokens[0]), op: tokens[1], value: tokens[2]}
	switch cond.op {
	case "==", "!=", ">=", "<=", ">", "<":
	default:
		return condition{}, fmt.Errorf("unknown operator %q", cond.op)
	}
	switch cond.field {
	case fieldListenerPlays, fieldSongPlays:
		if _, err := strconv.ParseInt(cond.value, 10, 64); err != nil {
			return condition{}, fmt.Errorf("field %s needs an integer value, got %q", cond.field, cond.value)
		}
	case fieldAmountWei:
		if _, ok := new(big.Int).SetString(cond.value, 10); !ok {
			return condition{}, fmt.Errorf("field %s needs an integer value, got %q", cond.field, cond.value)
		}
	case fieldPaymentType:
		if cond.op != "==" && cond.op != "!=" {
			return condition{}, fmt.Errorf("field %s supports only == and !=", cond.field)
		}
		if _, err := ParsePaymentType(cond.value); err != nil {
			return condition{}, err
		}
	default:
		return condition{}, fmt.Errorf("unknown field %q", cond.field)
	}
	return cond, nil
}

// PlayContext is the state an offer condition is evaluated against.
type PlayContext struct {
	ListenerPlays int64
	SongPlays     int64
	PaymentType   PaymentType
	Amount        *big.Int
}

func (c condition) matches(ctx PlayContext) bool {
	switch c.field {
	case fieldListenerPlays, fieldSongPlays:
		want, err := strconv.ParseInt(c.value, 10, 64)
		if err != nil {
			return false
		}
		have := ctx.ListenerPlays
		if c.field == fieldSongPlays {
			have = ctx.SongPlays
		}
		return compareInt(have, want, c.op)
	case fieldAmountWei:
		want, ok := new(big.Int).SetString(c.value, 10)
		if !ok {
			return false
		}
		have := ctx.Amount
		if have == nil {
			have = big.NewInt(0)
		}
		return compareCmp(have.Cmp(want), c.op)
	case fieldPaymentType:
		want, err := ParsePaymentType(c.value)
		if err != nil {
			return false
		}
		if c.op == "!=" {
			return ctx.PaymentType != want
		}
		return ctx.PaymentType == want
	default:
		return false
	}
}

func compareInt(have, want int64, op string) bool {
	cmp := 0
	switch {
	case have < want:
		cmp = -1
	case have > want:
		cmp = 1
	}
	return compareCmp(cmp, op)
}

func compareCmp(cmp int, op string) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	default:
		return false
	}
}

// OfferMatch reports which offer fired and its parsed action.
type OfferMatch struct {
	Index  int
	Offer  Offer
	Action OfferAction
}

// FirstPricingMatch evaluates the offers in declaration order and returns
// the first one whose condition matches and whose action affects pricing.
// Later matches are ignored; offers with unparseable conditions never
// match. Returns nil when no pricing offer fires.
func FirstPricingMatch(offers []Offer, ctx PlayContext) *OfferMatch {
	for i, offer := range offers {
		cond, err := parseCondition(offer.Condition)
		if err != nil {
			continue
		}
		if !cond.matches(ctx) {
			continue
		}
		action, err := ParseAction(offer.Action)
		if err != nil || action.Kind != ActionMultiplier {
			continue
		}
		return &OfferMatch{Index: i, Offer: offer, Action: action}
	}
	return nil
}
