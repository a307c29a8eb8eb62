package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mycelix/cache"
	"mycelix/storage"
)

type artistAnalyticsResponse struct {
	Address         string               `json:"address"`
	SongCount       int64                `json:"song_count"`
	Plays           int64                `json:"plays"`
	EarningsWei     string               `json:"earnings_wei"`
	UniqueListeners int64                `json:"unique_listeners"`
	EarningsByModel []storage.ModelTotal `json:"earnings_by_model"`
	Songs           []storage.Song       `json:"songs"`
}

// handleArtistAnalytics serves the artist dashboard aggregate, cache-aside:
// entries are invalidated when a play lands and expire after the cache TTL
// otherwise.
func (s *Server) handleArtistAnalytics(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	key := cache.Key("analytics", "artist", strings.ToLower(address))
	var cached artistAnalyticsResponse
	if err := s.cache.GetJSON(r.Context(), key, &cached); err == nil {
		writeJSON(w, http.StatusOK, cached)
		return
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("analytics cache read failed", "key", key, "error", err)
	}

	totals, err := s.store.ArtistTotals(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	byModel, err := s.store.EarningsByModel(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	songs, err := s.store.SongsByArtist(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp := artistAnalyticsResponse{
		Address:         totals.Address,
		SongCount:       totals.Songs,
		Plays:           totals.Plays,
		EarningsWei:     totals.EarningsWei,
		UniqueListeners: totals.UniqueListeners,
		EarningsByModel: byModel,
		Songs:           songs,
	}
	if err := s.cache.SetJSON(r.Context(), key, resp, 0); err != nil {
		s.logger.Warn("analytics cache write failed", "key", key, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSongAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("id must be a uuid"))
		return
	}
	key := cache.Key("analytics", "song", id.String())
	var cached storage.SongTotals
	if err := s.cache.GetJSON(r.Context(), key, &cached); err == nil {
		writeJSON(w, http.StatusOK, cached)
		return
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("analytics cache read failed", "key", key, "error", err)
	}

	totals, err := s.store.SongTotals(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.cache.SetJSON(r.Context(), key, totals, 0); err != nil {
		s.logger.Warn("analytics cache write failed", "key", key, "error", err)
	}
	writeJSON(w, http.StatusOK, totals)
}

// handleTopSongs ranks the catalog. Entries are short-lived cache-aside
// only; play recording does not invalidate the ranking keys.
func (s *Server) handleTopSongs(w http.ResponseWriter, r *http.Request) {
	by := strings.TrimSpace(r.URL.Query().Get("by"))
	if by == "" {
		by = "plays"
	}
	if by != "plays" && by != "earnings" {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Errorf("by must be plays or earnings, got %q", by))
		return
	}
	limit := queryInt(r, "limit", 10)
	key := cache.Key("analytics", "top-songs", by, strconv.Itoa(limit))
	var cached []storage.Song
	if err := s.cache.GetJSON(r.Context(), key, &cached); err == nil {
		writeJSON(w, http.StatusOK, cached)
		return
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("analytics cache read failed", "key", key, "error", err)
	}

	songs, err := s.store.TopSongs(r.Context(), by, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.cache.SetJSON(r.Context(), key, songs, 0); err != nil {
		s.logger.Warn("analytics cache write failed", "key", key, "error", err)
	}
	writeJSON(w, http.StatusOK, songs)
}
