// Package exports serialises royalty statements into the line formats
// partner accounting systems ingest.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// StatementLine is one payout line in a partner-facing export.
type StatementLine struct {
	PlayID          string    `json:"play_id"`
	SongID          string    `json:"song_id"`
	SongTitle       string    `json:"song_title"`
	SongHash        string    `json:"song_hash"`
	StrategyID      string    `json:"strategy_id,omitempty"`
	PaymentModel    string    `json:"payment_model"`
	ListenerAddress string    `json:"listener_address"`
	PaymentType     string    `json:"payment_type"`
	TxHash          string    `json:"tx_hash,omitempty"`
	PlayedAt        time.Time `json:"played_at"`
	GrossWei        string    `json:"gross_wei"`
	Role            string    `json:"role"`
	Recipient       string    `json:"recipient,omitempty"`
	AmountWei       string    `json:"amount_wei"`
	Checksum        string    `json:"checksum"`
}

// StatementsJSONL builds a JSON Lines export for the supplied statement
// lines and returns the serialised payload alongside its checksum.
func StatementsJSONL(lines []StatementLine) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, line := range lines {
		line.PlayedAt = line.PlayedAt.UTC()
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
