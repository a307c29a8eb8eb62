package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mycelix/gateway/auth"
)

type sessionRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Scheme    string `json:"scheme,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleCreateSession exchanges a wallet-signed challenge for a short-lived
// bearer token. This path is signature-only: the admin key cannot mint a
// session for an arbitrary address.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Enabled() {
		writeError(w, http.StatusServiceUnavailable, codeDisabled, errors.New("sessions are not configured"))
		return
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req sessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if !validAddress(req.Address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	scheme, err := auth.ParseScheme(req.Scheme)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	authReq := auth.Request{
		Address:   req.Address,
		Scheme:    scheme,
		Signature: req.Signature,
		Message:   auth.SessionMessage(req.Address, req.Nonce, req.Timestamp),
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
	}
	if scheme == auth.SchemeTyped {
		typed := auth.SessionTypedData(s.chainID, req.Address, req.Nonce, req.Timestamp)
		authReq.TypedData = &typed
	}
	principal, err := s.verifier.Verify(r.Context(), authReq)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	token, expires, err := s.sessions.Issue(principal.Address)
	if err != nil {
		s.logger.Error("session issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		Address:   principal.Address,
		ExpiresAt: expires.UTC(),
	})
}
