package routes

import (
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"mycelix/gateway/auth"
)

// createStrategy stores a custom strategy through the API with the admin key.
func (env *testEnv) createStrategy(t *testing.T, payload map[string]any) strategyView {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/strategies", adminHeaders(), payload)
	requireStatus(t, rec, http.StatusCreated)
	var view strategyView
	decodeJSON(t, rec, &view)
	return view
}

func TestListStrategiesIncludesCatalog(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/strategies", nil, nil)
	requireStatus(t, rec, http.StatusOK)

	var views []strategyView
	decodeJSON(t, rec, &views)
	if len(views) < 11 {
		t.Fatalf("expected the full catalog, got %d entries", len(views))
	}
	found := false
	for _, view := range views {
		if view.ID == "pay-per-stream-v1" {
			found = true
			if !view.Builtin {
				t.Fatal("catalog entry should be marked builtin")
			}
			if view.MinPaymentWei != "10000000000000000" {
				t.Fatalf("unexpected min payment %s", view.MinPaymentWei)
			}
		}
	}
	if !found {
		t.Fatal("pay-per-stream-v1 missing from listing")
	}
}

func TestCreateStrategyRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]any{
		"name":   "Custom",
		"splits": []map[string]any{{"role": "artist", "pct": 100}},
	}

	noKey := env.do(t, http.MethodPost, "/api/strategies", nil, payload)
	requireStatus(t, noKey, http.StatusUnauthorized)
	if code := errorCode(t, noKey); code != codeMissingAuth {
		t.Fatalf("expected %s got %s", codeMissingAuth, code)
	}

	wrongKey := env.do(t, http.MethodPost, "/api/strategies", map[string]string{auth.HeaderAPIKey: "nope"}, payload)
	requireStatus(t, wrongKey, http.StatusUnauthorized)
	if code := errorCode(t, wrongKey); code != codeBadAPIKey {
		t.Fatalf("expected %s got %s", codeBadAPIKey, code)
	}
}

func TestCreateStrategyValidation(t *testing.T) {
	env := newTestEnv(t)

	badSplits := env.do(t, http.MethodPost, "/api/strategies", adminHeaders(), map[string]any{
		"name":   "Short",
		"splits": []map[string]any{{"role": "artist", "pct": 90}},
	})
	requireStatus(t, badSplits, http.StatusBadRequest)

	noName := env.do(t, http.MethodPost, "/api/strategies", adminHeaders(), map[string]any{
		"splits": []map[string]any{{"role": "artist", "pct": 100}},
	})
	requireStatus(t, noName, http.StatusBadRequest)

	badModel := env.do(t, http.MethodPost, "/api/strategies", adminHeaders(), map[string]any{
		"name":          "Custom",
		"payment_model": "barter",
		"splits":        []map[string]any{{"role": "artist", "pct": 100}},
	})
	requireStatus(t, badModel, http.StatusBadRequest)
}

func TestCreateStrategyAndFetch(t *testing.T) {
	env := newTestEnv(t)
	view := env.createStrategy(t, map[string]any{
		"name":          "Collab Split",
		"category":      "direct-payment",
		"payment_model": "pay_per_stream",
		"modules":       []string{"conditional", "splits"},
		"pricing": map[string]any{
			"baseAmount":        "20000000000000000",
			"loyaltyMultiplier": "0.9",
		},
		"splits": []map[string]any{
			{"role": "artist", "pct": 70},
			{"role": "producer", "pct": 30, "recipient": "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B"},
		},
		"min_payment_wei":  "1000",
		"protocol_fee_bps": 250,
	})

	if _, err := uuid.Parse(view.ID); err != nil {
		t.Fatalf("expected uuid id got %q", view.ID)
	}
	if view.Builtin {
		t.Fatal("stored strategy must not be builtin")
	}
	if !strings.HasPrefix(view.Hash, "0x") || len(view.Hash) != 66 {
		t.Fatalf("unexpected hash %q", view.Hash)
	}
	if len(view.Splits) != 2 || view.Splits[0].Pct != 70 {
		t.Fatalf("unexpected splits %+v", view.Splits)
	}

	rec := env.do(t, http.MethodGet, "/api/strategies/"+view.ID, nil, nil)
	requireStatus(t, rec, http.StatusOK)
	var fetched strategyView
	decodeJSON(t, rec, &fetched)
	if fetched.Hash != view.Hash {
		t.Fatalf("hash changed between create and fetch: %s vs %s", view.Hash, fetched.Hash)
	}
	if fetched.Pricing == nil || fetched.Pricing.BaseAmount.String() != "20000000000000000" {
		t.Fatalf("unexpected pricing %+v", fetched.Pricing)
	}
	if fetched.ProtocolFeeBps != 250 {
		t.Fatalf("expected fee 250 got %d", fetched.ProtocolFeeBps)
	}

	list := env.do(t, http.MethodGet, "/api/strategies", nil, nil)
	requireStatus(t, list, http.StatusOK)
	var views []strategyView
	decodeJSON(t, list, &views)
	found := false
	for _, entry := range views {
		if entry.ID == view.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("stored strategy missing from listing")
	}
}

func TestCreateStrategyHashMismatch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/strategies", adminHeaders(), map[string]any{
		"name":   "Sealed",
		"splits": []map[string]any{{"role": "artist", "pct": 100}},
		"hash":   "0x" + strings.Repeat("00", 32),
	})
	requireStatus(t, rec, http.StatusBadRequest)
	if code := errorCode(t, rec); code != codeValidation {
		t.Fatalf("expected %s got %s", codeValidation, code)
	}
}

func TestPreviewBuiltinStrategy(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/strategies/pay-per-stream-v1/preview", nil, map[string]any{
		"amount_wei": "1000000000000000000",
	})
	requireStatus(t, rec, http.StatusOK)

	var resp previewResponse
	decodeJSON(t, rec, &resp)
	if resp.ProtocolFeeBps != 100 {
		t.Fatalf("expected 100 bps got %d", resp.ProtocolFeeBps)
	}
	if resp.ProtocolFeeWei != "10000000000000000" {
		t.Fatalf("expected 1%% fee got %s", resp.ProtocolFeeWei)
	}
	if resp.NetWei != "990000000000000000" {
		t.Fatalf("unexpected net %s", resp.NetWei)
	}
	if len(resp.Distributions) != 1 || resp.Distributions[0].AmountWei != resp.NetWei {
		t.Fatalf("unexpected distributions %+v", resp.Distributions)
	}

	// Fee plus payouts reassemble the gross amount exactly.
	fee, _ := new(big.Int).SetString(resp.ProtocolFeeWei, 10)
	total := sumDistributions(t, resp.Distributions)
	total.Add(total, fee)
	if total.String() != resp.GrossWei {
		t.Fatalf("fee+payouts %s != gross %s", total, resp.GrossWei)
	}
}

func TestPreviewSplitsOverride(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/strategies/pay-per-stream-v1/preview", nil, map[string]any{
		"amount_wei": "1000000000000000000",
		"splits": []map[string]any{
			{"role": "artist", "pct": 50},
			{"role": "label", "pct": 50},
		},
	})
	requireStatus(t, rec, http.StatusOK)
	var resp previewResponse
	decodeJSON(t, rec, &resp)
	if len(resp.Distributions) != 2 {
		t.Fatalf("expected 2 rows got %d", len(resp.Distributions))
	}
	if resp.Distributions[0].AmountWei != "495000000000000000" {
		t.Fatalf("unexpected artist share %s", resp.Distributions[0].AmountWei)
	}
}

func TestPreviewStoredStrategy(t *testing.T) {
	env := newTestEnv(t)
	view := env.createStrategy(t, map[string]any{
		"name":             "Duo",
		"protocol_fee_bps": 0,
		"splits": []map[string]any{
			{"role": "artist", "pct": 60},
			{"role": "producer", "pct": 40},
		},
	})

	rec := env.do(t, http.MethodPost, "/api/strategies/"+view.ID+"/preview", nil, map[string]any{
		"amount_wei": "100",
	})
	requireStatus(t, rec, http.StatusOK)
	var resp previewResponse
	decodeJSON(t, rec, &resp)
	if resp.ProtocolFeeWei != "0" {
		t.Fatalf("expected zero fee got %s", resp.ProtocolFeeWei)
	}
	if len(resp.Distributions) != 2 ||
		resp.Distributions[0].AmountWei != "60" ||
		resp.Distributions[1].AmountWei != "40" {
		t.Fatalf("unexpected distributions %+v", resp.Distributions)
	}
}

func TestPreviewErrors(t *testing.T) {
	env := newTestEnv(t)

	unknown := env.do(t, http.MethodPost, "/api/strategies/no-such-id/preview", nil, map[string]any{
		"amount_wei": "100",
	})
	requireStatus(t, unknown, http.StatusNotFound)

	badAmount := env.do(t, http.MethodPost, "/api/strategies/pay-per-stream-v1/preview", nil, map[string]any{
		"amount_wei": "a lot",
	})
	requireStatus(t, badAmount, http.StatusBadRequest)

	badSplits := env.do(t, http.MethodPost, "/api/strategies/pay-per-stream-v1/preview", nil, map[string]any{
		"amount_wei": "100",
		"splits":     []map[string]any{{"role": "artist", "pct": 150}},
	})
	requireStatus(t, badSplits, http.StatusBadRequest)
}

func TestGetStrategyNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/strategies/"+uuid.NewString(), nil, nil)
	requireStatus(t, rec, http.StatusNotFound)
}
