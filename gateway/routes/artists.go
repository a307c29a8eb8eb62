package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mycelix/storage"
)

type artistProfileResponse struct {
	storage.ArtistTotals
	StrategiesUsed []string `json:"strategies_used"`
}

func (s *Server) handleArtistProfile(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	totals, err := s.store.ArtistTotals(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	songs, err := s.store.SongsByArtist(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	used := make([]string, 0, len(songs))
	seen := make(map[string]struct{}, len(songs))
	for _, song := range songs {
		if song.StrategyID == "" {
			continue
		}
		if _, ok := seen[song.StrategyID]; ok {
			continue
		}
		seen[song.StrategyID] = struct{}{}
		used = append(used, song.StrategyID)
	}
	writeJSON(w, http.StatusOK, artistProfileResponse{ArtistTotals: *totals, StrategiesUsed: used})
}

func (s *Server) handleArtistSongs(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !validAddress(address) {
		writeError(w, http.StatusBadRequest, codeValidation, errors.New("address must be a hex address"))
		return
	}
	songs, err := s.store.SongsByArtist(r.Context(), address)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}
