// Package auth verifies request authorization for the API: either the
// operator's admin API key, or a wallet signature over a canonical
// pipe-delimited message with a freshness window and one-time nonces.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// HeaderAPIKey carries the operator admin key. A matching key bypasses
	// signature verification entirely.
	HeaderAPIKey = "x-api-key"

	defaultSignatureTTL = 5 * time.Minute
	maxSignatureTTL     = 30 * time.Minute
)

var (
	// ErrMissingAuth is returned when neither an API key nor a signature
	// accompanies the request.
	ErrMissingAuth = errors.New("auth: credentials required")
	// ErrBadAPIKey is returned for an API key that does not match the
	// configured admin key.
	ErrBadAPIKey = errors.New("auth: unknown api key")
	// ErrBadSignature covers malformed signatures and recovered addresses
	// that do not match the claimed signer.
	ErrBadSignature = errors.New("auth: signature verification failed")
	// ErrStaleTimestamp is returned when the signed timestamp falls outside
	// the freshness window in either direction.
	ErrStaleTimestamp = errors.New("auth: timestamp outside freshness window")
	// ErrNonceReplayed is returned when the signed nonce was already
	// consumed.
	ErrNonceReplayed = errors.New("auth: nonce already used")
	// ErrNonceUnavailable is returned when the nonce store cannot answer.
	// Verification fails closed rather than skipping replay protection.
	ErrNonceUnavailable = errors.New("auth: nonce store unavailable")
)

// Scheme selects the signature encoding a client used.
type Scheme string

const (
	// SchemePersonal is an EIP-191 personal_sign signature over the
	// canonical message text.
	SchemePersonal Scheme = "personal"
	// SchemeTyped is an EIP-712 typed-data signature over the equivalent
	// structured payload.
	SchemeTyped Scheme = "typed"
)

// ParseScheme normalises a client-supplied scheme string. An empty value
// defaults to personal_sign.
func ParseScheme(value string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "personal", "eip191", "personal_sign":
		return SchemePersonal, nil
	case "typed", "eip712", "typed_data":
		return SchemeTyped, nil
	default:
		return "", fmt.Errorf("auth: unknown signature scheme %q", value)
	}
}

// Principal is the authenticated caller.
type Principal struct {
	// Admin is true when the admin API key matched; Address is empty.
	Admin bool
	// Address is the checksummed signer address for signature auth.
	Address string
}

// Request carries everything Verify needs. Message and TypedData are
// rebuilt server-side from the request body; client-supplied message text
// is never trusted.
type Request struct {
	APIKey    string
	Address   string
	Scheme    Scheme
	Signature string
	Message   string
	TypedData *apitypes.TypedData
	Nonce     string
	Timestamp int64 // unix milliseconds, as signed
}

// Config configures a Verifier.
type Config struct {
	// AdminAPIKey enables the x-api-key bypass; empty disables it.
	AdminAPIKey string
	// SignatureTTL bounds |now - timestamp|. Zero means the default.
	SignatureTTL time.Duration
	// Nonces is the replay-protection store. Nil falls back to an
	// in-process store sized for a single replica.
	Nonces NonceStore
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Verifier authorizes API requests.
type Verifier struct {
	adminKey []byte
	ttl      time.Duration
	nonces   NonceStore
	nowFn    func() time.Time
}

// NewVerifier builds a Verifier, clamping the TTL to sane bounds.
func NewVerifier(cfg Config) *Verifier {
	ttl := cfg.SignatureTTL
	if ttl <= 0 {
		ttl = defaultSignatureTTL
	}
	if ttl > maxSignatureTTL {
		ttl = maxSignatureTTL
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = NewMemoryNonceStore(2*ttl, 0)
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	var adminKey []byte
	if trimmed := strings.TrimSpace(cfg.AdminAPIKey); trimmed != "" {
		adminKey = []byte(trimmed)
	}
	return &Verifier{adminKey: adminKey, ttl: ttl, nonces: nonces, nowFn: nowFn}
}

// SignatureTTL reports the effective freshness window.
func (v *Verifier) SignatureTTL() time.Duration {
	return v.ttl
}

// Verify authorizes a request. The admin key short-circuits all signature
// checks. Otherwise the signature is recovered and compared to the claimed
// address, the signed timestamp must sit inside the freshness window, and
// a present nonce is atomically consumed. The nonce is only consumed after
// signature and freshness pass, so a rejected request does not burn it.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Principal, error) {
	if key := strings.TrimSpace(req.APIKey); key != "" {
		if v.adminKeyMatches(key) {
			return &Principal{Admin: true}, nil
		}
		if strings.TrimSpace(req.Signature) == "" {
			return nil, ErrBadAPIKey
		}
	}
	address := strings.TrimSpace(req.Address)
	signature := strings.TrimSpace(req.Signature)
	if address == "" || signature == "" {
		return nil, ErrMissingAuth
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid signer address %q", ErrBadSignature, req.Address)
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var recovered common.Address
	switch req.Scheme {
	case SchemeTyped:
		if req.TypedData == nil {
			return nil, fmt.Errorf("%w: typed data payload missing", ErrBadSignature)
		}
		recovered, err = RecoverTyped(*req.TypedData, sig)
	default:
		recovered, err = RecoverPersonal(req.Message, sig)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return nil, ErrBadSignature
	}
	now := v.nowFn().UTC()
	drift := now.UnixMilli() - req.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > v.ttl.Milliseconds() {
		return nil, fmt.Errorf("%w: drift %dms exceeds %dms", ErrStaleTimestamp, drift, v.ttl.Milliseconds())
	}
	if nonce := strings.TrimSpace(req.Nonce); nonce != "" {
		fresh, err := v.nonces.Reserve(ctx, address, nonce, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
		}
		if !fresh {
			return nil, ErrNonceReplayed
		}
	}
	return &Principal{Address: common.HexToAddress(address).Hex()}, nil
}

func (v *Verifier) adminKeyMatches(candidate string) bool {
	if len(v.adminKey) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(v.adminKey, []byte(candidate)) == 1
}

// DecodeSignature decodes a 65-byte hex signature and normalises the
// recovery byte from the 27/28 form wallets emit.
func DecodeSignature(value string) ([]byte, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if cleaned == "" {
		return nil, errors.New("signature required")
	}
	sig, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	return normalized, nil
}

// RecoverPersonal recovers the signer of an EIP-191 personal_sign message.
func RecoverPersonal(message string, sig []byte) (common.Address, error) {
	digest := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverTyped recovers the signer of an EIP-712 typed-data payload.
func RecoverTyped(typedData apitypes.TypedData, sig []byte) (common.Address, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("hash typed data: %w", err)
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
