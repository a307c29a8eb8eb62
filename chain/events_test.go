package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var testRouter = common.HexToAddress("0x7a69000000000000000000000000000000000001")

func paymentLog(block uint64, tx byte, songHash common.Hash, listener common.Address, amount *big.Int, paymentType uint8) gethtypes.Log {
	data := make([]byte, 64)
	amount.FillBytes(data[:32])
	data[63] = paymentType
	return gethtypes.Log{
		Address:     testRouter,
		Topics:      []common.Hash{paymentProcessedSig, songHash, common.BytesToHash(listener.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{tx}),
	}
}

func registrationLog(block uint64, tx byte, songHash common.Hash, artist common.Address, digest common.Hash) gethtypes.Log {
	return gethtypes.Log{
		Address:     testRouter,
		Topics:      []common.Hash{songRegisteredSig, songHash, common.BytesToHash(artist.Bytes())},
		Data:        digest.Bytes(),
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{tx}),
	}
}

func TestParsePaymentProcessed(t *testing.T) {
	songHash := common.HexToHash("0x" + strings.Repeat("ab", 32))
	listener := common.HexToAddress("0x5aEDA56215b167893e80B4fE645BA6d5Bab767DE")
	amount, _ := new(big.Int).SetString("1000000000000000000", 10)

	entry := paymentLog(12, 0x01, songHash, listener, amount, 2)
	entry.Index = 3
	evt, err := ParseLog(entry)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindPayment {
		t.Fatalf("expected payment kind got %d", evt.Kind)
	}
	if evt.SongHash != songHash.Hex() {
		t.Fatalf("unexpected song hash %s", evt.SongHash)
	}
	if !strings.EqualFold(evt.Listener, listener.Hex()) {
		t.Fatalf("unexpected listener %s", evt.Listener)
	}
	if evt.AmountWei != "1000000000000000000" {
		t.Fatalf("unexpected amount %s", evt.AmountWei)
	}
	if evt.PaymentType != 2 {
		t.Fatalf("unexpected payment type %d", evt.PaymentType)
	}
	if evt.BlockNumber != 12 || evt.LogIndex != 3 {
		t.Fatalf("unexpected position block=%d index=%d", evt.BlockNumber, evt.LogIndex)
	}

	// Zero-amount payments are valid under the gift economy model.
	free, err := ParseLog(paymentLog(13, 0x02, songHash, listener, big.NewInt(0), 1))
	if err != nil {
		t.Fatalf("parse zero amount: %v", err)
	}
	if free.AmountWei != "0" {
		t.Fatalf("expected 0 got %s", free.AmountWei)
	}
}

func TestParseSongRegistered(t *testing.T) {
	songHash := common.HexToHash("0x" + strings.Repeat("ab", 32))
	digest := common.HexToHash("0x" + strings.Repeat("cd", 32))
	artist := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B")

	evt, err := ParseLog(registrationLog(20, 0x03, songHash, artist, digest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindRegistration {
		t.Fatalf("expected registration kind got %d", evt.Kind)
	}
	if evt.SongHash != songHash.Hex() {
		t.Fatalf("unexpected song hash %s", evt.SongHash)
	}
	if !strings.EqualFold(evt.Artist, artist.Hex()) {
		t.Fatalf("unexpected artist %s", evt.Artist)
	}
	if evt.IPFSDigest != digest.Hex() {
		t.Fatalf("unexpected digest %s", evt.IPFSDigest)
	}
	if evt.BlockNumber != 20 {
		t.Fatalf("unexpected block %d", evt.BlockNumber)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	songHash := common.HexToHash("0x" + strings.Repeat("ab", 32))
	listener := common.HexToAddress("0x5aEDA56215b167893e80B4fE645BA6d5Bab767DE")

	overflowType := paymentLog(1, 0x04, songHash, listener, big.NewInt(1), 0)
	overflowType.Data[32] = 0x01

	shortData := paymentLog(1, 0x05, songHash, listener, big.NewInt(1), 0)
	shortData.Data = shortData.Data[:32]

	missingTopic := paymentLog(1, 0x06, songHash, listener, big.NewInt(1), 0)
	missingTopic.Topics = missingTopic.Topics[:2]

	badRegistration := registrationLog(1, 0x07, songHash, listener, common.Hash{})
	badRegistration.Data = badRegistration.Data[:16]

	cases := []struct {
		name  string
		entry gethtypes.Log
	}{
		{"no topics", gethtypes.Log{}},
		{"unknown topic", gethtypes.Log{Topics: []common.Hash{common.HexToHash("0x" + strings.Repeat("11", 32))}}},
		{"payment type overflow", overflowType},
		{"payment short data", shortData},
		{"payment missing topic", missingTopic},
		{"registration short data", badRegistration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLog(tc.entry); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
