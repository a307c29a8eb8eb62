package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mycelix/gateway/auth"
	"mycelix/native/economics"
	"mycelix/storage"
)

type registerSongRequest struct {
	SongHash      string `json:"song_hash"`
	Title         string `json:"title"`
	ArtistAddress string `json:"artist_address"`
	IPFSHash      string `json:"ipfs_hash"`
	PaymentModel  string `json:"payment_model"`
	StrategyID    string `json:"strategy_id,omitempty"`

	Signature string `json:"signature,omitempty"`
	Scheme    string `json:"scheme,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func validateRegisterSong(req registerSongRequest) error {
	if !validHash(req.SongHash) {
		return errors.New("song_hash must be a 0x-prefixed 32-byte hex string")
	}
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if !validAddress(req.ArtistAddress) {
		return errors.New("artist_address must be a hex address")
	}
	if strings.TrimSpace(req.IPFSHash) == "" {
		return errors.New("ipfs_hash is required")
	}
	return nil
}

func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	filter := storage.SongFilter{
		Artist:       r.URL.Query().Get("artist"),
		PaymentModel: r.URL.Query().Get("payment_model"),
		StrategyID:   r.URL.Query().Get("strategy"),
		Search:       r.URL.Query().Get("search"),
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	}
	songs, err := s.store.ListSongs(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.store.GetSong(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// handleRegisterSong creates a catalog entry. The song hash is the identity
// the client signed, so the canonical message carries the body fields
// verbatim.
func (s *Server) handleRegisterSong(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req registerSongRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if err := validateRegisterSong(req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	model, err := economics.ParsePaymentModel(req.PaymentModel)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	if strategyID := strings.TrimSpace(req.StrategyID); strategyID != "" {
		known, err := s.knownStrategy(r.Context(), strategyID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if !known {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("unknown strategy %q", strategyID))
			return
		}
	}

	scheme, err := auth.ParseScheme(req.Scheme)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	authReq := auth.Request{
		APIKey:    r.Header.Get(auth.HeaderAPIKey),
		Address:   req.ArtistAddress,
		Scheme:    scheme,
		Signature: req.Signature,
		Message:   auth.SongMessage(req.SongHash, req.ArtistAddress, req.IPFSHash, req.PaymentModel, req.Nonce, req.Timestamp),
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
	}
	if scheme == auth.SchemeTyped {
		typed := auth.SongTypedData(s.chainID, req.SongHash, req.ArtistAddress, req.IPFSHash, req.PaymentModel, req.Nonce, req.Timestamp)
		authReq.TypedData = &typed
	}
	principal, err := s.verifier.Verify(r.Context(), authReq)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !principal.Admin && !strings.EqualFold(principal.Address, req.ArtistAddress) {
		writeError(w, http.StatusForbidden, codeForbidden, errors.New("signer does not match artist_address"))
		return
	}

	song := &storage.Song{
		SongHash:      req.SongHash,
		Title:         strings.TrimSpace(req.Title),
		ArtistAddress: req.ArtistAddress,
		IPFSHash:      strings.TrimSpace(req.IPFSHash),
		PaymentModel:  string(model),
		StrategyID:    strings.TrimSpace(req.StrategyID),
	}
	if err := s.store.CreateSong(r.Context(), song); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("song registered", "song", song.ID, "artist", song.ArtistAddress, "model", song.PaymentModel)
	writeJSON(w, http.StatusCreated, song)
}

// knownStrategy reports whether the id names a catalog entry or a stored
// custom strategy.
func (s *Server) knownStrategy(ctx context.Context, id string) (bool, error) {
	if _, ok := s.catalog.Lookup(id); ok {
		return true, nil
	}
	_, err := s.store.GetStrategy(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrStrategyNotFound) {
		return false, nil
	}
	return false, err
}
