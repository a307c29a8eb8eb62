package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mycelix/gateway/auth"
	"mycelix/reports"
)

// authorizeReportAccess admits the operator's admin key or a session token
// whose subject is the requested artist. Statements carry listener
// addresses, so other artists' tokens are rejected.
func (s *Server) authorizeReportAccess(w http.ResponseWriter, r *http.Request, address string) bool {
	if key := strings.TrimSpace(r.Header.Get(auth.HeaderAPIKey)); key != "" {
		if _, err := s.verifier.Verify(r.Context(), auth.Request{APIKey: key}); err != nil {
			s.writeAuthError(w, err)
			return false
		}
		return true
	}
	token := auth.ExtractBearer(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeMissingAuth, errors.New("admin key or session token required"))
		return false
	}
	subject, err := s.sessions.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeBadToken, err)
		return false
	}
	if !strings.EqualFold(subject, address) {
		writeError(w, http.StatusForbidden, codeForbidden, errors.New("session token does not match artist address"))
		return false
	}
	return true
}

type generateReportRequest struct {
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

type reportFileView struct {
	CSVPath       string `json:"csv_path"`
	ParquetPath   string `json:"parquet_path"`
	JSONLPath     string `json:"jsonl_path"`
	JSONLChecksum string `json:"jsonl_checksum"`
	Rows          int    `json:"rows"`
}

type generateReportResponse struct {
	Artist string           `json:"artist"`
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
	Rows   int              `json:"rows"`
	Files  []reportFileView `json:"files"`
}

// handleGenerateReport produces a royalty statement on demand. An empty
// body selects the trailing 24 hours.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusServiceUnavailable, codeDisabled, errors.New("reports are not configured"))
		return
	}
	if !s.authorizeReportAccess(w, r, address) {
		return
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err)
		return
	}
	var req generateReportRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid JSON payload: %w", err))
			return
		}
	}
	end := s.nowFn().UTC()
	if trimmed := strings.TrimSpace(req.End); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid end: %w", err))
			return
		}
		end = parsed
	}
	start := end.Add(-24 * time.Hour)
	if trimmed := strings.TrimSpace(req.Start); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("invalid start: %w", err))
			return
		}
		start = parsed
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("end must be after start"))
		return
	}

	result, err := s.reports.Run(r.Context(), reports.RunOptions{
		Start:  start,
		End:    end,
		Artist: address,
		DryRun: req.DryRun,
	})
	if err != nil {
		s.logger.Error("report generation failed", "artist", address, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("report generation failed"))
		return
	}
	resp := generateReportResponse{
		Artist: strings.ToLower(address),
		Start:  result.Start,
		End:    result.End,
		Rows:   len(result.Rows),
		Files:  make([]reportFileView, 0, len(result.Files)),
	}
	for _, file := range result.Files {
		resp.Files = append(resp.Files, reportFileView{
			CSVPath:       file.CSVPath,
			ParquetPath:   file.ParquetPath,
			JSONLPath:     file.JSONLPath,
			JSONLChecksum: file.JSONLChecksum,
			Rows:          file.Rows,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReportArtifacts(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusServiceUnavailable, codeDisabled, errors.New("reports are not configured"))
		return
	}
	if !s.authorizeReportAccess(w, r, address) {
		return
	}
	artifacts, err := s.reports.Artifacts(address)
	if err != nil {
		s.logger.Error("artifact listing failed", "artist", address, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, errors.New("artifact listing failed"))
		return
	}
	if artifacts == nil {
		artifacts = []reports.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}
