package chain

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Topic hashes for the payment router events the indexer consumes.
var (
	paymentProcessedSig = gethcrypto.Keccak256Hash([]byte("PaymentProcessed(bytes32,address,uint256,uint8)"))
	songRegisteredSig   = gethcrypto.Keccak256Hash([]byte("SongRegistered(bytes32,bytes32,address)"))
)

// EventKind discriminates decoded router events.
type EventKind uint8

// Decoded event kinds.
const (
	KindPayment EventKind = iota + 1
	KindRegistration
)

// Event is one decoded payment-router log.
type Event struct {
	Kind        EventKind
	TxHash      string
	LogIndex    uint32
	BlockNumber uint64
	SongHash    string

	// PaymentProcessed fields.
	Listener    string
	AmountWei   string
	PaymentType uint8

	// SongRegistered fields.
	Artist     string
	IPFSDigest string
}

// ParseLog decodes a router log into an Event. Logs that do not match a
// known event layout return an error and should be skipped.
func ParseLog(entry gethtypes.Log) (Event, error) {
	if len(entry.Topics) == 0 {
		return Event{}, fmt.Errorf("chain: log has no topics")
	}
	switch entry.Topics[0] {
	case paymentProcessedSig:
		return parsePaymentProcessed(entry)
	case songRegisteredSig:
		return parseSongRegistered(entry)
	default:
		return Event{}, fmt.Errorf("chain: unknown event topic %s", entry.Topics[0].Hex())
	}
}

// parsePaymentProcessed expects the song hash and listener indexed, with the
// amount and payment type as two data words.
func parsePaymentProcessed(entry gethtypes.Log) (Event, error) {
	if len(entry.Topics) != 3 {
		return Event{}, fmt.Errorf("chain: payment log has %d topics, want 3", len(entry.Topics))
	}
	if len(entry.Data) != 64 {
		return Event{}, fmt.Errorf("chain: payment log has %d data bytes, want 64", len(entry.Data))
	}
	amount := new(uint256.Int).SetBytes(entry.Data[:32])
	typeWord := new(uint256.Int).SetBytes(entry.Data[32:64])
	if typeWord.GtUint64(math.MaxUint8) {
		return Event{}, fmt.Errorf("chain: payment type %s out of range", typeWord.Dec())
	}
	return Event{
		Kind:        KindPayment,
		TxHash:      entry.TxHash.Hex(),
		LogIndex:    uint32(entry.Index),
		BlockNumber: entry.BlockNumber,
		SongHash:    entry.Topics[1].Hex(),
		Listener:    common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
		AmountWei:   amount.Dec(),
		PaymentType: uint8(typeWord.Uint64()),
	}, nil
}

// parseSongRegistered expects the song hash and artist indexed, with the
// IPFS digest as a single data word.
func parseSongRegistered(entry gethtypes.Log) (Event, error) {
	if len(entry.Topics) != 3 {
		return Event{}, fmt.Errorf("chain: registration log has %d topics, want 3", len(entry.Topics))
	}
	if len(entry.Data) != 32 {
		return Event{}, fmt.Errorf("chain: registration log has %d data bytes, want 32", len(entry.Data))
	}
	return Event{
		Kind:        KindRegistration,
		TxHash:      entry.TxHash.Hex(),
		LogIndex:    uint32(entry.Index),
		BlockNumber: entry.BlockNumber,
		SongHash:    entry.Topics[1].Hex(),
		Artist:      common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
		IPFSDigest:  common.BytesToHash(entry.Data).Hex(),
	}, nil
}
