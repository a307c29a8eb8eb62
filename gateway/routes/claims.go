package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mycelix/gateway/auth"
	"mycelix/storage"
)

type createClaimRequest struct {
	ArtistAddress string `json:"artist_address"`
	IPFSHash      string `json:"ipfs_hash"`
	Title         string `json:"title"`

	Signature string `json:"signature,omitempty"`
	Scheme    string `json:"scheme,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// handleCreateClaim files an ownership dispute against a registered song.
// Claims start pending; an operator resolves them out of band.
func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	songRef := chi.URLParam(r, "id")
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req createClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	song, err := s.store.GetSong(r.Context(), songRef)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !validAddress(req.ArtistAddress) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("artist_address must be a hex address"))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("title is required"))
		return
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
		Message:   auth.ClaimMessage(songRef, req.ArtistAddress, req.IPFSHash, req.Title, req.Nonce, req.Timestamp),
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
	}
	if scheme == auth.SchemeTyped {
		typed := auth.ClaimTypedData(s.chainID, songRef, req.ArtistAddress, req.IPFSHash, req.Title, req.Nonce, req.Timestamp)
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

	claim := &storage.Claim{
		SongID:        song.ID,
		ArtistAddress: req.ArtistAddress,
		IPFSHash:      strings.TrimSpace(req.IPFSHash),
		Title:         strings.TrimSpace(req.Title),
	}
	if err := s.store.CreateClaim(r.Context(), claim); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("claim filed", "claim", claim.ID, "song", song.ID, "claimant", claim.ArtistAddress)
	writeJSON(w, http.StatusCreated, claim)
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	song, err := s.store.GetSong(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	claims, err := s.store.ListClaims(r.Context(), song.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

type resolveClaimRequest struct {
	Status string `json:"status"`
}

// handleResolveClaim moves a claim to approved or rejected. Operator-only.
func (s *Server) handleResolveClaim(w http.ResponseWriter, r *http.Request) {
	principal, err := s.verifier.Verify(r.Context(), auth.Request{APIKey: r.Header.Get(auth.HeaderAPIKey)})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !principal.Admin {
		writeError(w, http.StatusForbidden, codeForbidden, errors.New("claim resolution requires the admin key"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("id must be a uuid"))
		return
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req resolveClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	var status storage.ClaimStatus
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case string(storage.ClaimApproved):
		status = storage.ClaimApproved
	case string(storage.ClaimRejected):
		status = storage.ClaimRejected
	default:
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("status must be approved or rejected, got %q", req.Status))
		return
	}
	claim, err := s.store.SetClaimStatus(r.Context(), id, status)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("claim resolved", "claim", claim.ID, "status", claim.Status)
	writeJSON(w, http.StatusOK, claim)
}
