package routes

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"mycelix/gateway/auth"
)

const minStreamPayment = "10000000000000000"

func sumDistributions(t *testing.T, rows []distribution) *big.Int {
	t.Helper()
	total := big.NewInt(0)
	for _, row := range rows {
		amount, ok := new(big.Int).SetString(row.AmountWei, 10)
		if !ok {
			t.Fatalf("distribution amount %q is not an integer", row.AmountWei)
		}
		total.Add(total, amount)
	}
	return total
}

func TestRecordPlaySignedFlow(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "pay-per-stream-v1")

	key, listener := testKey(t)
	songRef := song.ID.String()
	nonce := uuid.NewString()
	ts := env.now.UnixMilli()
	message := auth.PlayMessage(songRef, listener, minStreamPayment, 0, nonce, ts)
	payload := map[string]any{
		"listener_address": listener,
		"amount_wei":       minStreamPayment,
		"payment_type":     "stream",
		"signature":        signPersonal(t, key, message),
		"nonce":            nonce,
		"timestamp":        ts,
	}

	rec := env.do(t, http.MethodPost, "/api/songs/"+songRef+"/play", nil, payload)
	requireStatus(t, rec, http.StatusCreated)

	var resp recordPlayResponse
	decodeJSON(t, rec, &resp)
	if resp.PlayID == uuid.Nil {
		t.Fatal("expected play id")
	}
	if resp.SongID != song.ID {
		t.Fatalf("expected song %s got %s", song.ID, resp.SongID)
	}
	if resp.SongPlays != 1 {
		t.Fatalf("expected 1 play got %d", resp.SongPlays)
	}
	if resp.SongEarningsWei != minStreamPayment {
		t.Fatalf("expected earnings %s got %s", minStreamPayment, resp.SongEarningsWei)
	}
	if resp.PaymentType != "stream" {
		t.Fatalf("expected stream got %s", resp.PaymentType)
	}
	if len(resp.Distributions) != 1 {
		t.Fatalf("expected single distribution got %d", len(resp.Distributions))
	}
	row := resp.Distributions[0]
	if row.Role != "artist" || row.AmountWei != minStreamPayment {
		t.Fatalf("unexpected distribution %+v", row)
	}
	if row.Recipient != song.ArtistAddress {
		t.Fatalf("expected recipient %s got %s", song.ArtistAddress, row.Recipient)
	}

	// A second play accumulates the counters.
	nonce2 := uuid.NewString()
	message2 := auth.PlayMessage(songRef, listener, minStreamPayment, 0, nonce2, ts)
	payload["signature"] = signPersonal(t, key, message2)
	payload["nonce"] = nonce2
	rec = env.do(t, http.MethodPost, "/api/songs/"+songRef+"/play", nil, payload)
	requireStatus(t, rec, http.StatusCreated)
	decodeJSON(t, rec, &resp)
	if resp.SongPlays != 2 {
		t.Fatalf("expected 2 plays got %d", resp.SongPlays)
	}
	if resp.SongEarningsWei != "20000000000000000" {
		t.Fatalf("expected doubled earnings got %s", resp.SongEarningsWei)
	}
}

func TestRecordPlayDistributionsSumExactly(t *testing.T) {
	env := newTestEnv(t)
	strategy := env.createStrategy(t, map[string]any{
		"name": "Three Way",
		"splits": []map[string]any{
			{"role": "artist", "pct": 33},
			{"role": "producer", "pct": 33},
			{"role": "platform", "pct": 34},
		},
	})
	_, artist := testKey(t)
	song := env.registerSong(t, artist, strategy.ID)

	_, listener := testKey(t)
	resp := env.recordPlay(t, song.ID, listener, "101")

	if len(resp.Distributions) != 3 {
		t.Fatalf("expected 3 distributions got %d", len(resp.Distributions))
	}
	// Floor shares are 33/33/34; the 1 wei remainder lands on the artist.
	if resp.Distributions[0].Role != "artist" || resp.Distributions[0].AmountWei != "34" {
		t.Fatalf("unexpected artist row %+v", resp.Distributions[0])
	}
	if resp.Distributions[1].AmountWei != "33" || resp.Distributions[2].AmountWei != "34" {
		t.Fatalf("unexpected rows %+v", resp.Distributions)
	}
	if total := sumDistributions(t, resp.Distributions); total.String() != "101" {
		t.Fatalf("distributions sum to %s want 101", total)
	}
}

func TestRecordPlayOfferMultiplier(t *testing.T) {
	env := newTestEnv(t)
	strategy := env.createStrategy(t, map[string]any{
		"name": "Loyalty Pricing",
		"pricing": map[string]any{
			"baseAmount":        "1000000000000000000",
			"loyaltyMultiplier": "0.5",
		},
		"offers": []map[string]any{
			{"title": "Loyal listener", "condition": "listener_plays >= 2", "action": "multiplier"},
		},
		"splits": []map[string]any{{"role": "artist", "pct": 100}},
	})
	_, artist := testKey(t)
	song := env.registerSong(t, artist, strategy.ID)
	_, listener := testKey(t)

	base := "1000000000000000000"
	half := "500000000000000000"

	first := env.recordPlay(t, song.ID, listener, base)
	if first.AppliedOffer != "" {
		t.Fatalf("no offer should fire on the first play, got %q", first.AppliedOffer)
	}
	env.recordPlay(t, song.ID, listener, base)

	// After two recorded plays the condition holds and half price clears.
	third := env.recordPlay(t, song.ID, listener, half)
	if third.AppliedOffer != "Loyal listener" {
		t.Fatalf("expected applied offer got %q", third.AppliedOffer)
	}
	if third.Distributions[0].AmountWei != half {
		t.Fatalf("expected %s got %s", half, third.Distributions[0].AmountWei)
	}

	// A fresh listener still owes the full base price.
	_, stranger := testKey(t)
	rec := env.do(t, http.MethodPost, "/api/songs/"+song.ID.String()+"/play", adminHeaders(), map[string]any{
		"listener_address": stranger,
		"amount_wei":       half,
		"payment_type":     "stream",
	})
	requireStatus(t, rec, http.StatusBadRequest)
	if code := errorCode(t, rec); code != codeValidation {
		t.Fatalf("expected %s got %s", codeValidation, code)
	}
}

func TestRecordPlayBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "pay-per-stream-v1")
	_, listener := testKey(t)

	rec := env.do(t, http.MethodPost, "/api/songs/"+song.ID.String()+"/play", adminHeaders(), map[string]any{
		"listener_address": listener,
		"amount_wei":       "1",
		"payment_type":     "stream",
	})
	requireStatus(t, rec, http.StatusBadRequest)
	if code := errorCode(t, rec); code != codeValidation {
		t.Fatalf("expected %s got %s", codeValidation, code)
	}
}

func TestRecordPlayFreeGiftEconomy(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "gift-economy-v1")
	_, listener := testKey(t)

	resp := env.recordPlay(t, song.ID, listener, "0")
	if resp.SongPlays != 1 {
		t.Fatalf("expected play to count, got %d", resp.SongPlays)
	}
	if resp.SongEarningsWei != "0" {
		t.Fatalf("expected zero earnings got %s", resp.SongEarningsWei)
	}
}

func TestRecordPlayNonceReplay(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "pay-per-stream-v1")

	key, listener := testKey(t)
	songRef := song.ID.String()
	nonce := uuid.NewString()
	ts := env.now.UnixMilli()
	message := auth.PlayMessage(songRef, listener, minStreamPayment, 0, nonce, ts)
	payload := map[string]any{
		"listener_address": listener,
		"amount_wei":       minStreamPayment,
		"payment_type":     "stream",
		"signature":        signPersonal(t, key, message),
		"nonce":            nonce,
		"timestamp":        ts,
	}

	requireStatus(t, env.do(t, http.MethodPost, "/api/songs/"+songRef+"/play", nil, payload), http.StatusCreated)

	replay := env.do(t, http.MethodPost, "/api/songs/"+songRef+"/play", nil, payload)
	requireStatus(t, replay, http.StatusConflict)
	if code := errorCode(t, replay); code != codeNonceReplayed {
		t.Fatalf("expected %s got %s", codeNonceReplayed, code)
	}
}

func TestRecordPlayStaleTimestamp(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "pay-per-stream-v1")

	key, listener := testKey(t)
	songRef := song.ID.String()
	ts := env.now.Add(-10 * time.Minute).UnixMilli()
	message := auth.PlayMessage(songRef, listener, minStreamPayment, 0, "", ts)
	payload := map[string]any{
		"listener_address": listener,
		"amount_wei":       minStreamPayment,
		"payment_type":     "stream",
		"signature":        signPersonal(t, key, message),
		"timestamp":        ts,
	}

	rec := env.do(t, http.MethodPost, "/api/songs/"+songRef+"/play", nil, payload)
	requireStatus(t, rec, http.StatusUnauthorized)
	if code := errorCode(t, rec); code != codeStaleTimestamp {
		t.Fatalf("expected %s got %s", codeStaleTimestamp, code)
	}
}

func TestRecordPlayMissingAuth(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "pay-per-stream-v1")
	_, listener := testKey(t)

	rec := env.do(t, http.MethodPost, "/api/songs/"+song.ID.String()+"/play", nil, map[string]any{
		"listener_address": listener,
		"amount_wei":       minStreamPayment,
		"payment_type":     "stream",
	})
	requireStatus(t, rec, http.StatusUnauthorized)
	if code := errorCode(t, rec); code != codeMissingAuth {
		t.Fatalf("expected %s got %s", codeMissingAuth, code)
	}
}

func TestRecordPlayUnknownSong(t *testing.T) {
	env := newTestEnv(t)
	_, listener := testKey(t)
	rec := env.do(t, http.MethodPost, "/api/songs/"+uuid.NewString()+"/play", adminHeaders(), map[string]any{
		"listener_address": listener,
		"amount_wei":       minStreamPayment,
		"payment_type":     "stream",
	})
	requireStatus(t, rec, http.StatusNotFound)
}

func TestRecordPlayListenerValidation(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	song := env.registerSong(t, artist, "")

	rec := env.do(t, http.MethodPost, "/api/songs/"+song.ID.String()+"/play", adminHeaders(), map[string]any{
		"listener_address": "not-an-address",
		"amount_wei":       "0",
		"payment_type":     "stream",
	})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/songs/"+song.ID.String()+"/play", adminHeaders(), map[string]any{
		"listener_address": artist,
		"amount_wei":       "0",
		"payment_type":     "barter",
	})
	requireStatus(t, rec, http.StatusBadRequest)
}
