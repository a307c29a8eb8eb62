package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"mycelix/gateway/auth"
	"mycelix/storage"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Machine-readable error codes. Clients branch on these, not on the text.
const (
	codeValidation       = "validation"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeMissingAuth      = "missing_auth"
	codeBadAPIKey        = "bad_api_key"
	codeBadSignature     = "bad_signature"
	codeStaleTimestamp   = "stale_timestamp"
	codeNonceReplayed    = "nonce_replayed"
	codeNonceUnavailable = "nonce_unavailable"
	codeBadToken         = "bad_token"
	codeForbidden        = "forbidden"
	codeDisabled         = "disabled"
	codeInternal         = "internal"
)

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	payload := fmt.Sprintf(`{"error":%q,"code":%q}`, msg, code)
	_, _ = w.Write([]byte(payload))
}

// writeAuthError maps verifier failures onto distinct statuses and codes so
// callers can tell a bad signature from a stale timestamp from a replay.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNonceReplayed):
		writeError(w, http.StatusConflict, codeNonceReplayed, err)
	case errors.Is(err, auth.ErrNonceUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeNonceUnavailable, err)
	case errors.Is(err, auth.ErrStaleTimestamp):
		writeError(w, http.StatusUnauthorized, codeStaleTimestamp, err)
	case errors.Is(err, auth.ErrBadAPIKey):
		writeError(w, http.StatusUnauthorized, codeBadAPIKey, err)
	case errors.Is(err, auth.ErrMissingAuth):
		writeError(w, http.StatusUnauthorized, codeMissingAuth, err)
	default:
		writeError(w, http.StatusUnauthorized, codeBadSignature, err)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrSongNotFound),
		errors.Is(err, storage.ErrStrategyNotFound),
		errors.Is(err, storage.ErrClaimNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err)
	case errors.Is(err, storage.ErrSongExists),
		errors.Is(err, storage.ErrStrategyExists):
		writeError(w, http.StatusConflict, codeConflict, err)
	case errors.Is(err, storage.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, codeValidation, err)
	default:
		s.logger.Error("storage failure", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("internal error"))
	}
}

func validAddress(value string) bool {
	return common.IsHexAddress(strings.TrimSpace(value))
}

// validHash accepts a 0x-prefixed 32-byte hex string.
func validHash(value string) bool {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 66 || !strings.HasPrefix(trimmed, "0x") {
		return false
	}
	for _, c := range trimmed[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
