package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mycelix/cache"
	"mycelix/gateway/auth"
	"mycelix/native/economics"
	"mycelix/storage"
)

type recordPlayRequest struct {
	ListenerAddress string `json:"listener_address"`
	AmountWei       string `json:"amount_wei"`
	// PaymentType accepts the wire name ("stream") or the numeric code ("0").
	PaymentType string `json:"payment_type"`

	Signature string `json:"signature,omitempty"`
	Scheme    string `json:"scheme,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type distribution struct {
	Role      string `json:"role"`
	Recipient string `json:"recipient,omitempty"`
	AmountWei string `json:"amount_wei"`
}

type recordPlayResponse struct {
	PlayID          uuid.UUID      `json:"play_id"`
	SongID          uuid.UUID      `json:"song_id"`
	ListenerAddress string         `json:"listener_address"`
	AmountWei       string         `json:"amount_wei"`
	PaymentType     string         `json:"payment_type"`
	AppliedOffer    string         `json:"applied_offer,omitempty"`
	Distributions   []distribution `json:"distributions"`
	SongPlays       int64          `json:"song_plays"`
	SongEarningsWei string         `json:"song_earnings_wei"`
}

// handleRecordPlay prices and records one listen: authorize, enforce the
// strategy minimum and effective price, compute distributions, persist the
// play with the song counters in one transaction, then feed the live stream.
func (s *Server) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	songRef := chi.URLParam(r, "id")
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req recordPlayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	song, err := s.store.GetSong(r.Context(), songRef)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !validAddress(req.ListenerAddress) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("listener_address must be a hex address"))
		return
	}
	paymentType, err := economics.ParsePaymentType(req.PaymentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	amount, err := economics.ParseWei(req.AmountWei)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid amount_wei: %w", err))
		return
	}

	scheme, err := auth.ParseScheme(req.Scheme)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	// The message carries the URL id segment and body fields verbatim;
	// that is exactly what the client signed.
	authReq := auth.Request{
		APIKey:    r.Header.Get(auth.HeaderAPIKey),
		Address:   req.ListenerAddress,
		Scheme:    scheme,
		Signature: req.Signature,
		Message:   auth.PlayMessage(songRef, req.ListenerAddress, req.AmountWei, uint8(paymentType), req.Nonce, req.Timestamp),
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
	}
	if scheme == auth.SchemeTyped {
		typed := auth.PlayTypedData(s.chainID, songRef, req.ListenerAddress, req.AmountWei, uint8(paymentType), req.Nonce, req.Timestamp)
		authReq.TypedData = &typed
	}
	principal, err := s.verifier.Verify(r.Context(), authReq)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !principal.Admin && !strings.EqualFold(principal.Address, req.ListenerAddress) {
		writeError(w, http.StatusForbidden, codeForbidden, errors.New("signer does not match listener_address"))
		return
	}

	strategy, err := s.strategyFor(r.Context(), song.StrategyID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if minPayment := strategy.MinPayment(); amount.Cmp(minPayment) < 0 {
		writeError(w, http.StatusBadRequest, codeValidation,
			fmt.Errorf("amount %s below strategy minimum %s", amount, minPayment))
		return
	}
	listenerPlays, err := s.store.ListenerPlayCount(r.Context(), song.ID, req.ListenerAddress)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	playCtx := economics.PlayContext{
		ListenerPlays: listenerPlays,
		SongPlays:     song.Plays,
		PaymentType:   paymentType,
		Amount:        amount,
	}
	required, match, err := economics.EffectivePrice(strategy, playCtx)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	if amount.Cmp(required) < 0 {
		writeError(w, http.StatusBadRequest, codeValidation,
			fmt.Errorf("amount %s below effective price %s", amount, required))
		return
	}
	payouts, err := economics.ComputeSplits(amount, strategy.Splits)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}

	play := &storage.Play{
		SongID:          song.ID,
		ListenerAddress: req.ListenerAddress,
		AmountWei:       amount.String(),
		PaymentType:     uint8(paymentType),
	}
	if match != nil {
		play.AppliedOffer = match.Offer.Title
	}
	updated, err := s.store.RecordPlay(r.Context(), play)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.invalidateAnalytics(r.Context(), updated)
	s.live.publish(PlayEvent{
		PlayID:          play.ID.String(),
		SongID:          updated.ID.String(),
		SongTitle:       updated.Title,
		ArtistAddress:   updated.ArtistAddress,
		ListenerAddress: play.ListenerAddress,
		AmountWei:       play.AmountWei,
		PaymentType:     paymentType.String(),
		AppliedOffer:    play.AppliedOffer,
		PlayedAt:        play.CreatedAt.UTC(),
	})

	resp := recordPlayResponse{
		PlayID:          play.ID,
		SongID:          updated.ID,
		ListenerAddress: play.ListenerAddress,
		AmountWei:       play.AmountWei,
		PaymentType:     paymentType.String(),
		AppliedOffer:    play.AppliedOffer,
		Distributions:   make([]distribution, 0, len(payouts)),
		SongPlays:       updated.Plays,
		SongEarningsWei: updated.EarningsWei,
	}
	for _, payout := range payouts {
		recipient := payout.Recipient
		if recipient == "" && strings.EqualFold(payout.Role, "artist") {
			recipient = updated.ArtistAddress
		}
		resp.Distributions = append(resp.Distributions, distribution{
			Role:      payout.Role,
			Recipient: recipient,
			AmountWei: payout.Amount.String(),
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

// strategyFor resolves the pricing configuration for a song: the stored
// custom strategy when one exists, a catalog shell otherwise. Songs without
// a strategy fall back to the full-to-artist default split.
func (s *Server) strategyFor(ctx context.Context, strategyID string) (*economics.Strategy, error) {
	id := strings.TrimSpace(strategyID)
	if id == "" {
		return &economics.Strategy{Splits: economics.DefaultSplits()}, nil
	}
	stored, err := s.store.GetStrategy(ctx, id)
	if err == nil {
		strategy, perr := economics.ParseStrategy(stored.Payload)
		if perr != nil {
			s.logger.Warn("stored strategy payload invalid, using default splits", "strategy", id, "error", perr)
			return &economics.Strategy{ID: id, Splits: economics.DefaultSplits()}, nil
		}
		strategy.ID = id
		if strategy.MinPaymentWei == "" {
			strategy.MinPaymentWei = stored.MinPaymentWei
		}
		if strategy.ProtocolFeeBps == 0 {
			strategy.ProtocolFeeBps = stored.ProtocolFeeBps
		}
		return strategy, nil
	}
	if !errors.Is(err, storage.ErrStrategyNotFound) {
		return nil, err
	}
	if entry, ok := s.catalog.Lookup(id); ok {
		return &economics.Strategy{
			ID:             entry.ID,
			Splits:         economics.DefaultSplits(),
			MinPaymentWei:  entry.MinPaymentWei,
			ProtocolFeeBps: entry.ProtocolFeeBps,
		}, nil
	}
	return &economics.Strategy{ID: id, Splits: economics.DefaultSplits()}, nil
}

func (s *Server) invalidateAnalytics(ctx context.Context, song *storage.Song) {
	if s.cache == nil {
		return
	}
	err := s.cache.Delete(ctx,
		cache.Key("analytics", "song", song.ID.String()),
		cache.Key("analytics", "artist", strings.ToLower(song.ArtistAddress)),
	)
	if err != nil {
		s.logger.Warn("analytics cache invalidation failed", "song", song.ID, "error", err)
	}
}
