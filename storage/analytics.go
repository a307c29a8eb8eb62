package storage

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArtistTotals aggregates catalog-wide counters for one artist.
type ArtistTotals struct {
	Address         string `json:"address"`
	Songs           int64  `json:"songs"`
	Plays           int64  `json:"plays"`
	EarningsWei     string `json:"earnings_wei"`
	UniqueListeners int64  `json:"unique_listeners"`
}

// PaymentTypeTotal breaks a song's plays down by payment type.
type PaymentTypeTotal struct {
	PaymentType uint8  `json:"payment_type"`
	Plays       int64  `json:"plays"`
	AmountWei   string `json:"amount_wei"`
}

// SongTotals aggregates play history for one song.
type SongTotals struct {
	SongID          uuid.UUID          `json:"song_id"`
	Title           string             `json:"title"`
	SongHash        string             `json:"song_hash"`
	Plays           int64              `json:"plays"`
	EarningsWei     string             `json:"earnings_wei"`
	UniqueListeners int64              `json:"unique_listeners"`
	ByType          []PaymentTypeTotal `json:"by_type"`
}

// ModelTotal aggregates an artist's earnings per payment model.
type ModelTotal struct {
	PaymentModel string `json:"payment_model"`
	Songs        int64  `json:"songs"`
	Plays        int64  `json:"plays"`
	EarningsWei  string `json:"earnings_wei"`
}

// RoyaltyRow is one play joined with its song metadata, the unit of a
// royalty statement.
type RoyaltyRow struct {
	PlayID          uuid.UUID `json:"play_id"`
	SongID          uuid.UUID `json:"song_id"`
	SongTitle       string    `json:"song_title"`
	SongHash        string    `json:"song_hash"`
	StrategyID      string    `json:"strategy_id"`
	PaymentModel    string    `json:"payment_model"`
	ListenerAddress string    `json:"listener_address"`
	AmountWei       string    `json:"amount_wei"`
	PaymentType     uint8     `json:"payment_type"`
	TxHash          *string   `json:"tx_hash,omitempty"`
	PlayedAt        time.Time `json:"played_at"`
}

// ArtistTotals sums plays, earnings, and distinct listeners across the
// artist's catalog. Wei sums are folded in Go so precision never degrades.
func (s *Store) ArtistTotals(ctx context.Context, artist string) (*ArtistTotals, error) {
	artist = normalizeAddress(artist)
	songs, err := s.SongsByArtist(ctx, artist)
	if err != nil {
		return nil, err
	}
	totals := &ArtistTotals{Address: artist, Songs: int64(len(songs))}
	earnings := new(big.Int)
	for _, song := range songs {
		totals.Plays += song.Plays
		amount, err := parseWei(song.EarningsWei)
		if err != nil {
			return nil, err
		}
		earnings.Add(earnings, amount)
	}
	totals.EarningsWei = earnings.String()
	listeners, err := s.UniqueListeners(ctx, artist)
	if err != nil {
		return nil, err
	}
	totals.UniqueListeners = listeners
	return totals, nil
}

// UniqueListeners counts distinct listener addresses across the artist's
// catalog.
func (s *Store) UniqueListeners(ctx context.Context, artist string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Play{}).
		Joins("JOIN songs ON songs.id = plays.song_id").
		Where("songs.artist_address = ?", normalizeAddress(artist)).
		Distinct("plays.listener_address").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SongTotals aggregates the song's play history with a payment-type
// breakdown.
func (s *Store) SongTotals(ctx context.Context, songID uuid.UUID) (*SongTotals, error) {
	var song Song
	if err := s.db.WithContext(ctx).First(&song, "id = ?", songID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSongNotFound
		}
		return nil, err
	}

	type playRow struct {
		PaymentType     uint8
		AmountWei       string
		ListenerAddress string
	}
	var rows []playRow
	if err := s.db.WithContext(ctx).Model(&Play{}).Where("song_id = ?", songID).Find(&rows).Error; err != nil {
		return nil, err
	}

	type typeAgg struct {
		plays  int64
		amount *big.Int
	}
	byType := make(map[uint8]*typeAgg)
	listeners := make(map[string]struct{})
	for _, row := range rows {
		listeners[row.ListenerAddress] = struct{}{}
		agg, ok := byType[row.PaymentType]
		if !ok {
			agg = &typeAgg{amount: new(big.Int)}
			byType[row.PaymentType] = agg
		}
		agg.plays++
		amount, err := parseWei(row.AmountWei)
		if err != nil {
			return nil, err
		}
		agg.amount.Add(agg.amount, amount)
	}

	totals := &SongTotals{
		SongID:          song.ID,
		Title:           song.Title,
		SongHash:        song.SongHash,
		Plays:           song.Plays,
		EarningsWei:     song.EarningsWei,
		UniqueListeners: int64(len(listeners)),
		ByType:          make([]PaymentTypeTotal, 0, len(byType)),
	}
	for paymentType, agg := range byType {
		totals.ByType = append(totals.ByType, PaymentTypeTotal{
			PaymentType: paymentType,
			Plays:       agg.plays,
			AmountWei:   agg.amount.String(),
		})
	}
	sort.Slice(totals.ByType, func(i, j int) bool {
		return totals.ByType[i].PaymentType < totals.ByType[j].PaymentType
	})
	return totals, nil
}

// TopSongs ranks the catalog by plays or earnings. Earnings ranking loads the
// catalog and compares exact wei values; play ranking stays in SQL.
func (s *Store) TopSongs(ctx context.Context, by string, limit int) ([]Song, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if by != "earnings" {
		var songs []Song
		err := s.db.WithContext(ctx).
			Order("plays DESC, created_at ASC").
			Limit(limit).
			Find(&songs).Error
		if err != nil {
			return nil, err
		}
		return songs, nil
	}

	var songs []Song
	if err := s.db.WithContext(ctx).Find(&songs).Error; err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(songs))
	for i := range songs {
		amount, err := parseWei(songs[i].EarningsWei)
		if err != nil {
			return nil, err
		}
		amounts[i] = amount
	}
	sort.SliceStable(songs, func(i, j int) bool {
		switch amounts[i].Cmp(amounts[j]) {
		case 1:
			return true
		case -1:
			return false
		default:
			return songs[i].Plays > songs[j].Plays
		}
	})
	if len(songs) > limit {
		songs = songs[:limit]
	}
	return songs, nil
}

// EarningsByModel groups the artist's earnings per payment model.
func (s *Store) EarningsByModel(ctx context.Context, artist string) ([]ModelTotal, error) {
	songs, err := s.SongsByArtist(ctx, artist)
	if err != nil {
		return nil, err
	}
	type modelAgg struct {
		songs    int64
		plays    int64
		earnings *big.Int
	}
	byModel := make(map[string]*modelAgg)
	for _, song := range songs {
		agg, ok := byModel[song.PaymentModel]
		if !ok {
			agg = &modelAgg{earnings: new(big.Int)}
			byModel[song.PaymentModel] = agg
		}
		agg.songs++
		agg.plays += song.Plays
		amount, err := parseWei(song.EarningsWei)
		if err != nil {
			return nil, err
		}
		agg.earnings.Add(agg.earnings, amount)
	}
	totals := make([]ModelTotal, 0, len(byModel))
	for model, agg := range byModel {
		totals = append(totals, ModelTotal{
			PaymentModel: model,
			Songs:        agg.songs,
			Plays:        agg.plays,
			EarningsWei:  agg.earnings.String(),
		})
	}
	sort.Slice(totals, func(i, j int) bool {
		return totals[i].PaymentModel < totals[j].PaymentModel
	})
	return totals, nil
}

// ListenerPlayCount counts the listener's recorded plays for one song. Offer
// conditions are evaluated against this count.
func (s *Store) ListenerPlayCount(ctx context.Context, songID uuid.UUID, listener string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Play{}).
		Where("song_id = ? AND listener_address = ?", songID, normalizeAddress(listener)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ArtistsWithPlays lists the distinct artist addresses with plays recorded
// inside [start, end).
func (s *Store) ArtistsWithPlays(ctx context.Context, start, end time.Time) ([]string, error) {
	var artists []string
	err := s.db.WithContext(ctx).Model(&Play{}).
		Joins("JOIN songs ON songs.id = plays.song_id").
		Where("plays.created_at >= ? AND plays.created_at < ?", start, end).
		Distinct().
		Order("songs.artist_address ASC").
		Pluck("songs.artist_address", &artists).Error
	if err != nil {
		return nil, err
	}
	return artists, nil
}

// RoyaltyRows returns the artist's plays inside [start, end) joined with
// song metadata, oldest first.
func (s *Store) RoyaltyRows(ctx context.Context, artist string, start, end time.Time) ([]RoyaltyRow, error) {
	var rows []RoyaltyRow
	err := s.db.WithContext(ctx).Model(&Play{}).
		Select("plays.id AS play_id, plays.song_id, songs.title AS song_title, songs.song_hash, songs.strategy_id, songs.payment_model, plays.listener_address, plays.amount_wei, plays.payment_type, plays.tx_hash, plays.created_at AS played_at").
		Joins("JOIN songs ON songs.id = plays.song_id").
		Where("songs.artist_address = ?", normalizeAddress(artist)).
		Where("plays.created_at >= ? AND plays.created_at < ?", start, end).
		Order("plays.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
