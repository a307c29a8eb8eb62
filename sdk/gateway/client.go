// Package gateway is a Go client for the Mycelix HTTP API. Write calls are
// signed with a wallet key over the same canonical messages the server
// rebuilds from the request, so a payload round-trips byte for byte.
package gateway

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"mycelix/gateway/auth"
	"mycelix/native/economics"
)

// Client wraps the Mycelix REST endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	key        *ecdsa.PrivateKey
	address    string
	chainID    int64
	typed      bool
	now        func() time.Time
	nonce      func() (string, error)
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClock overrides the time source used when signing requests. Primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAPIKey attaches the operator admin key to every request. Requests
// then authorize without a wallet signature.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithSigner sets the wallet key used to sign write requests.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		if key != nil {
			c.key = key
			c.address = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
		}
	}
}

// WithTypedSignatures switches the client from personal_sign to EIP-712
// typed-data signatures scoped to the given chain id.
func WithTypedSignatures(chainID int64) Option {
	return func(c *Client) {
		c.typed = true
		c.chainID = chainID
	}
}

// WithNonceSource overrides the replay nonce generator. Primarily for tests.
func WithNonceSource(nonce func() (string, error)) Option {
	return func(c *Client) {
		if nonce != nil {
			c.nonce = nonce
		}
	}
}

// New constructs a client pointed at the supplied base URL. Configure at
// least one of WithSigner or WithAPIKey before calling write endpoints.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: http.DefaultClient,
		now:        time.Now,
		nonce:      randomNonce,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.now == nil {
		client.now = time.Now
	}
	return client, nil
}

// Address reports the signer address, empty when no key is configured.
func (c *Client) Address() string {
	return c.address
}

func randomNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// APIError mirrors the gateway error envelope. Status carries the HTTP
// status; Code is the machine-readable branch key.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mycelix api %d (%s): %s", e.Status, e.Code, e.Message)
}

// Song mirrors the catalog entry returned by the song endpoints.
type Song struct {
	ID                string    `json:"id"`
	SongHash          string    `json:"song_hash"`
	Title             string    `json:"title"`
	ArtistAddress     string    `json:"artist_address"`
	IPFSHash          string    `json:"ipfs_hash"`
	PaymentModel      string    `json:"payment_model"`
	StrategyID        string    `json:"strategy_id"`
	Plays             int64     `json:"plays"`
	EarningsWei       string    `json:"earnings_wei"`
	RegisteredOnChain bool      `json:"registered_on_chain"`
	RegistrationTx    string    `json:"registration_tx,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Distribution is one leg of a play payout.
type Distribution struct {
	Role      string `json:"role"`
	Recipient string `json:"recipient,omitempty"`
	AmountWei string `json:"amount_wei"`
}

// PlayReceipt mirrors POST /api/songs/{id}/play.
type PlayReceipt struct {
	PlayID          string         `json:"play_id"`
	SongID          string         `json:"song_id"`
	ListenerAddress string         `json:"listener_address"`
	AmountWei       string         `json:"amount_wei"`
	PaymentType     string         `json:"payment_type"`
	AppliedOffer    string         `json:"applied_offer,omitempty"`
	Distributions   []Distribution `json:"distributions"`
	SongPlays       int64          `json:"song_plays"`
	SongEarningsWei string         `json:"song_earnings_wei"`
}

// Session mirrors POST /api/auth/session.
type Session struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claim mirrors an ownership claim record.
type Claim struct {
	ID            string    `json:"id"`
	SongID        string    `json:"song_id"`
	ArtistAddress string    `json:"artist_address"`
	IPFSHash      string    `json:"ipfs_hash"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RegisterSongParams describes a catalog registration. ArtistAddress
// defaults to the signer address.
type RegisterSongParams struct {
	SongHash      string
	Title         string
	ArtistAddress string
	IPFSHash      string
	PaymentModel  string
	StrategyID    string
}

// PlayParams describes one listen. ListenerAddress defaults to the signer
// address; PaymentType accepts the wire name ("stream") or numeric code and
// defaults to stream.
type PlayParams struct {
	ListenerAddress string
	AmountWei       string
	PaymentType     string
}

// ClaimParams describes an ownership dispute. ArtistAddress defaults to
// the signer address.
type ClaimParams struct {
	ArtistAddress string
	IPFSHash      string
	Title         string
}

// SongFilter narrows ListSongs.
type SongFilter struct {
	Artist       string
	PaymentModel string
	Strategy     string
	Search       string
	Limit        int
	Offset       int
}

// CreateSession signs a session challenge and exchanges it for a bearer
// token. Requires a signer key.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	if c.key == nil {
		return nil, fmt.Errorf("signer key required")
	}
	nonce, timestamp, err := c.freshNonce()
	if err != nil {
		return nil, err
	}
	message := auth.SessionMessage(c.address, nonce, timestamp)
	var typedData *apitypes.TypedData
	if c.typed {
		typed := auth.SessionTypedData(c.chainID, c.address, nonce, timestamp)
		typedData = &typed
	}
	signature, err := c.signDigest(message, typedData)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"address":   c.address,
		"signature": signature,
		"scheme":    c.scheme(),
		"nonce":     nonce,
		"timestamp": timestamp,
	}
	var session Session
	if err := c.post(ctx, "/api/auth/session", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RegisterSong creates a catalog entry.
func (c *Client) RegisterSong(ctx context.Context, params RegisterSongParams) (*Song, error) {
	artist := params.ArtistAddress
	if strings.TrimSpace(artist) == "" {
		artist = c.address
	}
	payload := map[string]any{
		"song_hash":      params.SongHash,
		"title":          params.Title,
		"artist_address": artist,
		"ipfs_hash":      params.IPFSHash,
		"payment_model":  params.PaymentModel,
	}
	if strings.TrimSpace(params.StrategyID) != "" {
		payload["strategy_id"] = params.StrategyID
	}
	if c.key != nil {
		nonce, timestamp, err := c.freshNonce()
		if err != nil {
			return nil, err
		}
		message := auth.SongMessage(params.SongHash, artist, params.IPFSHash, params.PaymentModel, nonce, timestamp)
		var typedData *apitypes.TypedData
		if c.typed {
			typed := auth.SongTypedData(c.chainID, params.SongHash, artist, params.IPFSHash, params.PaymentModel, nonce, timestamp)
			typedData = &typed
		}
		if err := c.attachSignature(payload, message, typedData, nonce, timestamp); err != nil {
			return nil, err
		}
	}
	var song Song
	if err := c.post(ctx, "/api/songs", payload, &song); err != nil {
		return nil, err
	}
	return &song, nil
}

// RecordPlay prices and records one listen against the song referenced by
// id or song hash.
func (c *Client) RecordPlay(ctx context.Context, songRef string, params PlayParams) (*PlayReceipt, error) {
	listener := params.ListenerAddress
	if strings.TrimSpace(listener) == "" {
		listener = c.address
	}
	paymentName := strings.TrimSpace(params.PaymentType)
	if paymentName == "" {
		paymentName = "stream"
	}
	payload := map[string]any{
		"listener_address": listener,
		"amount_wei":       params.AmountWei,
		"payment_type":     paymentName,
	}
	if c.key != nil {
		paymentType, err := economics.ParsePaymentType(paymentName)
		if err != nil {
			return nil, err
		}
		nonce, timestamp, err := c.freshNonce()
		if err != nil {
			return nil, err
		}
		message := auth.PlayMessage(songRef, listener, params.AmountWei, uint8(paymentType), nonce, timestamp)
		var typedData *apitypes.TypedData
		if c.typed {
			typed := auth.PlayTypedData(c.chainID, songRef, listener, params.AmountWei, uint8(paymentType), nonce, timestamp)
			typedData = &typed
		}
		if err := c.attachSignature(payload, message, typedData, nonce, timestamp); err != nil {
			return nil, err
		}
	}
	var receipt PlayReceipt
	if err := c.post(ctx, "/api/songs/"+url.PathEscape(songRef)+"/play", payload, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SubmitClaim opens an ownership dispute against a song.
func (c *Client) SubmitClaim(ctx context.Context, songRef string, params ClaimParams) (*Claim, error) {
	artist := params.ArtistAddress
	if strings.TrimSpace(artist) == "" {
		artist = c.address
	}
	payload := map[string]any{
		"artist_address": artist,
		"ipfs_hash":      params.IPFSHash,
		"title":          params.Title,
	}
	if c.key != nil {
		nonce, timestamp, err := c.freshNonce()
		if err != nil {
			return nil, err
		}
		message := auth.ClaimMessage(songRef, artist, params.IPFSHash, params.Title, nonce, timestamp)
		var typedData *apitypes.TypedData
		if c.typed {
			typed := auth.ClaimTypedData(c.chainID, songRef, artist, params.IPFSHash, params.Title, nonce, timestamp)
			typedData = &typed
		}
		if err := c.attachSignature(payload, message, typedData, nonce, timestamp); err != nil {
			return nil, err
		}
	}
	var claim Claim
	if err := c.post(ctx, "/api/songs/"+url.PathEscape(songRef)+"/claim", payload, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

// Song fetches one catalog entry by id or song hash.
func (c *Client) Song(ctx context.Context, songRef string) (*Song, error) {
	var song Song
	if err := c.get(ctx, "/api/songs/"+url.PathEscape(songRef), nil, &song); err != nil {
		return nil, err
	}
	return &song, nil
}

// ListSongs fetches catalog entries matching the filter.
func (c *Client) ListSongs(ctx context.Context, filter SongFilter) ([]Song, error) {
	query := url.Values{}
	if filter.Artist != "" {
		query.Set("artist", filter.Artist)
	}
	if filter.PaymentModel != "" {
		query.Set("payment_model", filter.PaymentModel)
	}
	if filter.Strategy != "" {
		query.Set("strategy", filter.Strategy)
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", fmt.Sprintf("%d", filter.Offset))
	}
	var songs []Song
	if err := c.get(ctx, "/api/songs", query, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

func (c *Client) scheme() string {
	if c.typed {
		return "typed"
	}
	return "personal"
}

func (c *Client) freshNonce() (string, int64, error) {
	nonce, err := c.nonce()
	if err != nil {
		return "", 0, err
	}
	return nonce, c.now().UTC().UnixMilli(), nil
}

func (c *Client) attachSignature(payload map[string]any, message string, typedData *apitypes.TypedData, nonce string, timestamp int64) error {
	signature, err := c.signDigest(message, typedData)
	if err != nil {
		return err
	}
	payload["signature"] = signature
	payload["scheme"] = c.scheme()
	payload["nonce"] = nonce
	payload["timestamp"] = timestamp
	return nil
}

func (c *Client) signDigest(message string, typedData *apitypes.TypedData) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("signer key required")
	}
	var digest []byte
	if typedData != nil {
		hashed, _, err := apitypes.TypedDataAndHash(*typedData)
		if err != nil {
			return "", fmt.Errorf("hash typed data: %w", err)
		}
		digest = hashed
	} else {
		digest = accounts.TextHash([]byte(message))
	}
	sig, err := ethcrypto.Sign(digest, c.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	rel := &url.URL{Path: endpoint}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	return c.do(ctx, http.MethodGet, rel.Path+formatQuery(rel), nil, nil, out)
}

func formatQuery(rel *url.URL) string {
	if rel.RawQuery == "" {
		return ""
	}
	return "?" + rel.RawQuery
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers http.Header, body io.Reader, out any) error {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}
	target := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderAPIKey, c.apiKey)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
