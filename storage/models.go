// Package storage persists songs, plays, payment events, strategies, and
// ownership claims behind GORM. Production runs Postgres; tests run the same
// code over in-memory SQLite.
package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimStatus tracks the moderation state of an ownership claim.
type ClaimStatus string

// All claim states.
const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// Song is the catalog record for a registered track. Plays and EarningsWei
// are running counters maintained transactionally with each recorded play.
type Song struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SongHash          string    `gorm:"size:66;uniqueIndex" json:"song_hash"`
	Title             string    `gorm:"size:256" json:"title"`
	ArtistAddress     string    `gorm:"size:42;index" json:"artist_address"`
	IPFSHash          string    `gorm:"size:128" json:"ipfs_hash"`
	PaymentModel      string    `gorm:"size:64;index" json:"payment_model"`
	StrategyID        string    `gorm:"size:64;index" json:"strategy_id"`
	Plays             int64     `gorm:"not null" json:"plays"`
	EarningsWei       string    `gorm:"size:96" json:"earnings_wei"`
	RegisteredOnChain bool      `json:"registered_on_chain"`
	RegistrationTx    string    `gorm:"size:66" json:"registration_tx,omitempty"`
	RegistrationBlock uint64    `json:"registration_block,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Play records a single priced listen. TxHash is set only for plays that were
// attributed from on-chain payment events.
type Play struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SongID          uuid.UUID `gorm:"type:uuid;index" json:"song_id"`
	ListenerAddress string    `gorm:"size:42;index" json:"listener_address"`
	AmountWei       string    `gorm:"size:96" json:"amount_wei"`
	PaymentType     uint8     `json:"payment_type"`
	AppliedOffer    string    `gorm:"size:128" json:"applied_offer,omitempty"`
	TxHash          *string   `gorm:"size:66;index" json:"tx_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentEvent is the append-only ledger of on-chain payments observed by the
// indexer. TxHash is the primary key; inserting the same hash twice is a
// benign no-op. SongID stays nil until the referenced song_hash is known.
type PaymentEvent struct {
	TxHash          string     `gorm:"primaryKey;size:66" json:"tx_hash"`
	LogIndex        uint32     `json:"log_index"`
	BlockNumber     uint64     `gorm:"index" json:"block_number"`
	SongHash        string     `gorm:"size:66;index" json:"song_hash"`
	ListenerAddress string     `gorm:"size:42;index" json:"listener_address"`
	AmountWei       string     `gorm:"size:96" json:"amount_wei"`
	PaymentType     uint8      `json:"payment_type"`
	SongID          *uuid.UUID `gorm:"type:uuid;index" json:"song_id,omitempty"`
	ObservedAt      time.Time  `json:"observed_at"`
}

// StrategyConfig stores a custom revenue strategy alongside its canonical
// payload and seal hash.
type StrategyConfig struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	Name           string    `gorm:"size:128" json:"name"`
	Category       string    `gorm:"size:64;index" json:"category"`
	PaymentModel   string    `gorm:"size:64" json:"payment_model"`
	Payload        string    `gorm:"type:text" json:"payload"`
	Hash           string    `gorm:"size:66;index" json:"hash"`
	AdminSignature string    `gorm:"size:132" json:"admin_signature,omitempty"`
	MinPaymentWei  string    `gorm:"size:96" json:"min_payment_wei"`
	ProtocolFeeBps uint32    `json:"protocol_fee_bps"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Claim is an ownership dispute filed against a registered song.
type Claim struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SongID        uuid.UUID   `gorm:"type:uuid;index" json:"song_id"`
	ArtistAddress string      `gorm:"size:42;index" json:"artist_address"`
	IPFSHash      string      `gorm:"size:128" json:"ipfs_hash"`
	Title         string      `gorm:"size:256" json:"title"`
	Status        ClaimStatus `gorm:"size:16;index" json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Song{},
		&Play{},
		&PaymentEvent{},
		&StrategyConfig{},
		&Claim{},
	)
}
