package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSongNotFound indicates the referenced song does not exist.
	ErrSongNotFound = errors.New("storage: song not found")
	// ErrSongExists indicates a song with the same song_hash is already registered.
	ErrSongExists = errors.New("storage: song already registered")
	// ErrStrategyNotFound indicates the referenced strategy does not exist.
	ErrStrategyNotFound = errors.New("storage: strategy not found")
	// ErrStrategyExists indicates a strategy with the same id is already stored.
	ErrStrategyExists = errors.New("storage: strategy already exists")
	// ErrClaimNotFound indicates the referenced claim does not exist.
	ErrClaimNotFound = errors.New("storage: claim not found")
	// ErrInvalidAmount indicates a wei amount failed to parse or was negative.
	ErrInvalidAmount = errors.New("storage: invalid wei amount")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store wraps the relational database with the operations the gateway,
// indexer, and reporter need.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs a store backed by the provided database.
func NewStore(db *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SongFilter narrows ListSongs results.
type SongFilter struct {
	Artist       string
	PaymentModel string
	StrategyID   string
	Search       string
	Limit        int
	Offset       int
}

// CreateSong registers a song and attributes any payment events that arrived
// on chain before the catalog entry existed.
func (s *Store) CreateSong(ctx context.Context, song *Song) error {
	if song == nil {
		return fmt.Errorf("storage: song is required")
	}
	song.SongHash = normalizeHash(song.SongHash)
	song.ArtistAddress = normalizeAddress(song.ArtistAddress)
	if song.SongHash == "" {
		return fmt.Errorf("storage: song_hash is required")
	}
	if song.ArtistAddress == "" {
		return fmt.Errorf("storage: artist_address is required")
	}
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}
	if song.EarningsWei == "" {
		song.EarningsWei = "0"
	}
	now := s.now()
	song.CreatedAt = now
	song.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Song
		err := tx.First(&existing, "song_hash = ?", song.SongHash).Error
		if err == nil {
			return ErrSongExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(song).Error; err != nil {
			return err
		}
		return s.attributeEventsTx(tx, song)
	})
}

// GetSong resolves a song by uuid or by song_hash.
func (s *Store) GetSong(ctx context.Context, ref string) (*Song, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrSongNotFound
	}
	var song Song
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		err = s.db.WithContext(ctx).First(&song, "id = ?", id).Error
	} else {
		err = s.db.WithContext(ctx).First(&song, "song_hash = ?", normalizeHash(ref)).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSongNotFound
		}
		return nil, err
	}
	return &song, nil
}

// ListSongs returns songs matching the filter, newest first.
func (s *Store) ListSongs(ctx context.Context, filter SongFilter) ([]Song, error) {
	query := s.db.WithContext(ctx).Model(&Song{})
	if artist := normalizeAddress(filter.Artist); artist != "" {
		query = query.Where("artist_address = ?", artist)
	}
	if model := strings.TrimSpace(filter.PaymentModel); model != "" {
		query = query.Where("payment_model = ?", model)
	}
	if strategy := strings.TrimSpace(filter.StrategyID); strategy != "" {
		query = query.Where("strategy_id = ?", strategy)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	var songs []Song
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&songs).Error; err != nil {
		return nil, err
	}
	return songs, nil
}

// SongsByArtist returns every song registered by the artist, newest first.
func (s *Store) SongsByArtist(ctx context.Context, artist string) ([]Song, error) {
	var songs []Song
	err := s.db.WithContext(ctx).
		Where("artist_address = ?", normalizeAddress(artist)).
		Order("created_at DESC").
		Find(&songs).Error
	if err != nil {
		return nil, err
	}
	return songs, nil
}

// RecordPlay inserts the play and bumps the song's counters in one
// transaction. The returned song carries the updated totals.
func (s *Store) RecordPlay(ctx context.Context, play *Play) (*Song, error) {
	if play == nil {
		return nil, fmt.Errorf("storage: play is required")
	}
	if play.SongID == uuid.Nil {
		return nil, fmt.Errorf("storage: song_id is required")
	}
	amount, err := parseWei(play.AmountWei)
	if err != nil {
		return nil, err
	}
	play.AmountWei = amount.String()
	play.ListenerAddress = normalizeAddress(play.ListenerAddress)
	if play.ID == uuid.Nil {
		play.ID = uuid.New()
	}
	if play.CreatedAt.IsZero() {
		play.CreatedAt = s.now()
	}

	var updated Song
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var song Song
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&song, "id = ?", play.SongID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSongNotFound
			}
			return err
		}
		if err := tx.Create(play).Error; err != nil {
			return err
		}
		if err := s.creditSongTx(tx, &song, amount); err != nil {
			return err
		}
		updated = song
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// InsertPaymentEvent appends an observed on-chain payment. The tx_hash
// primary key makes the insert idempotent: a duplicate reports (false, nil).
func (s *Store) InsertPaymentEvent(ctx context.Context, evt *PaymentEvent) (bool, error) {
	if evt == nil {
		return false, fmt.Errorf("storage: event is required")
	}
	evt.TxHash = normalizeHash(evt.TxHash)
	if evt.TxHash == "" {
		return false, fmt.Errorf("storage: tx_hash is required")
	}
	evt.SongHash = normalizeHash(evt.SongHash)
	evt.ListenerAddress = normalizeAddress(evt.ListenerAddress)
	if evt.ObservedAt.IsZero() {
		evt.ObservedAt = s.now()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(evt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyPaymentEvent stores the event and, when the song is already known,
// records the matching play. Unknown song hashes leave the event pending for
// attribution at registration time.
func (s *Store) ApplyPaymentEvent(ctx context.Context, evt *PaymentEvent) (bool, error) {
	if evt == nil {
		return false, fmt.Errorf("storage: event is required")
	}
	evt.TxHash = normalizeHash(evt.TxHash)
	if evt.TxHash == "" {
		return false, fmt.Errorf("storage: tx_hash is required")
	}
	evt.SongHash = normalizeHash(evt.SongHash)
	evt.ListenerAddress = normalizeAddress(evt.ListenerAddress)
	if evt.ObservedAt.IsZero() {
		evt.ObservedAt = s.now()
	}
	amount, err := parseWei(evt.AmountWei)
	if err != nil {
		return false, err
	}
	evt.AmountWei = amount.String()

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(evt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		var song Song
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&song, "song_hash = ?", evt.SongHash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return s.applyEventToSongTx(tx, &song, evt, amount)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// MarkSongRegistered records the on-chain registration transaction for the
// song with the given hash.
func (s *Store) MarkSongRegistered(ctx context.Context, songHash, txHash string, block uint64) error {
	songHash = normalizeHash(songHash)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var song Song
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&song, "song_hash = ?", songHash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSongNotFound
			}
			return err
		}
		song.RegisteredOnChain = true
		song.RegistrationTx = normalizeHash(txHash)
		song.RegistrationBlock = block
		song.UpdatedAt = s.now()
		return tx.Save(&song).Error
	})
}

// CreateStrategy stores a custom strategy configuration.
func (s *Store) CreateStrategy(ctx context.Context, cfg *StrategyConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage: strategy is required")
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		return fmt.Errorf("storage: strategy id is required")
	}
	now := s.now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing StrategyConfig
		err := tx.First(&existing, "id = ?", cfg.ID).Error
		if err == nil {
			return ErrStrategyExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(cfg).Error
	})
}

// GetStrategy loads one stored strategy by id.
func (s *Store) GetStrategy(ctx context.Context, id string) (*StrategyConfig, error) {
	var cfg StrategyConfig
	err := s.db.WithContext(ctx).First(&cfg, "id = ?", strings.TrimSpace(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStrategyNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// ListStrategies returns all stored strategies, oldest first.
func (s *Store) ListStrategies(ctx context.Context) ([]StrategyConfig, error) {
	var configs []StrategyConfig
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// CreateClaim files an ownership claim against a registered song.
func (s *Store) CreateClaim(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return fmt.Errorf("storage: claim is required")
	}
	if claim.SongID == uuid.Nil {
		return fmt.Errorf("storage: song_id is required")
	}
	claim.ArtistAddress = normalizeAddress(claim.ArtistAddress)
	if claim.ArtistAddress == "" {
		return fmt.Errorf("storage: artist_address is required")
	}
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	if claim.Status == "" {
		claim.Status = ClaimPending
	}
	now := s.now()
	claim.CreatedAt = now
	claim.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var song Song
		if err := tx.First(&song, "id = ?", claim.SongID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSongNotFound
			}
			return err
		}
		return tx.Create(claim).Error
	})
}

// ListClaims returns the claims filed against a song, newest first.
func (s *Store) ListClaims(ctx context.Context, songID uuid.UUID) ([]Claim, error) {
	var claims []Claim
	err := s.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("created_at DESC").
		Find(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// SetClaimStatus moves a claim to approved or rejected.
func (s *Store) SetClaimStatus(ctx context.Context, id uuid.UUID, status ClaimStatus) (*Claim, error) {
	var claim Claim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&claim, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClaimNotFound
			}
			return err
		}
		claim.Status = status
		claim.UpdatedAt = s.now()
		return tx.Save(&claim).Error
	})
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// attributeEventsTx folds payment events that were observed before the song
// was registered into the song's play history.
func (s *Store) attributeEventsTx(tx *gorm.DB, song *Song) error {
	var pending []PaymentEvent
	if err := tx.Where("song_hash = ? AND song_id IS NULL", song.SongHash).Find(&pending).Error; err != nil {
		return err
	}
	for i := range pending {
		evt := &pending[i]
		amount, err := parseWei(evt.AmountWei)
		if err != nil {
			continue
		}
		if err := s.applyEventToSongTx(tx, song, evt, amount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyEventToSongTx(tx *gorm.DB, song *Song, evt *PaymentEvent, amount *big.Int) error {
	txHash := evt.TxHash
	play := Play{
		ID:              uuid.New(),
		SongID:          song.ID,
		ListenerAddress: evt.ListenerAddress,
		AmountWei:       amount.String(),
		PaymentType:     evt.PaymentType,
		TxHash:          &txHash,
		CreatedAt:       s.now(),
	}
	if err := tx.Create(&play).Error; err != nil {
		return err
	}
	if err := tx.Model(&PaymentEvent{}).Where("tx_hash = ?", evt.TxHash).Update("song_id", song.ID).Error; err != nil {
		return err
	}
	songID := song.ID
	evt.SongID = &songID
	return s.creditSongTx(tx, song, amount)
}

func (s *Store) creditSongTx(tx *gorm.DB, song *Song, amount *big.Int) error {
	earnings, err := parseWei(song.EarningsWei)
	if err != nil {
		return err
	}
	song.Plays++
	song.EarningsWei = new(big.Int).Add(earnings, amount).String()
	song.UpdatedAt = s.now()
	return tx.Save(song).Error
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

func parseWei(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return value, nil
}
