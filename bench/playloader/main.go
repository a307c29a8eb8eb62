package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"nhooyr.io/websocket"

	"mycelix/sdk/gateway"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // plays per minute
	defaultAmount   = "1000000000000000"
)

type feedEvent struct {
	Cursor          string `json:"cursor"`
	PlayID          string `json:"play_id"`
	SongID          string `json:"song_id"`
	ListenerAddress string `json:"listener_address"`
	AmountWei       string `json:"amount_wei"`
}

// latencyTracker measures submit-to-feed latency per play. The feed event
// can beat the HTTP response, so arrivals without a matching submission
// wait in arrived until track sees the play id.
type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	arrived   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{
		pending: make(map[string]time.Time),
		arrived: make(map[string]time.Time),
	}
}

func (lt *latencyTracker) track(playID string, at time.Time) {
	lt.mu.Lock()
	if seen, ok := lt.arrived[playID]; ok {
		lt.latencies = append(lt.latencies, seen.Sub(at))
		delete(lt.arrived, playID)
	} else {
		lt.pending[playID] = at
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) deliver(playID string, at time.Time) {
	lt.mu.Lock()
	if start, ok := lt.pending[playID]; ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, playID)
	} else {
		lt.arrived[playID] = at
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		apiURL       string
		privateHex   string
		playRate     int
		durationFlag time.Duration
		songRef      string
		amountWei    string
	)
	flag.StringVar(&apiURL, "api", "http://127.0.0.1:8080", "gateway base URL")
	flag.StringVar(&privateHex, "key", "", "hex-encoded secp256k1 private key for the listener wallet (overrides PLAYLOADER_KEY)")
	flag.IntVar(&playRate, "rate", defaultRate, "target rate of plays per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.StringVar(&songRef, "song", "", "song hash or id to play (empty registers a throwaway song)")
	flag.StringVar(&amountWei, "amount", defaultAmount, "wei paid per play")
	flag.Parse()

	if privateHex == "" {
		privateHex = os.Getenv("PLAYLOADER_KEY")
	}
	privateHex = strings.TrimSpace(privateHex)
	if privateHex == "" {
		log.Fatal("missing private key: provide --key or PLAYLOADER_KEY")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateHex, "0x"))
	if err != nil {
		log.Fatalf("load private key: %v", err)
	}

	parsed, err := url.Parse(apiURL)
	if err != nil {
		log.Fatalf("parse api url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	if playRate <= 0 {
		log.Fatalf("rate must be positive, got %d", playRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	client, err := gateway.New(parsed.String(), gateway.WithSigner(key), gateway.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatalf("build client: %v", err)
	}
	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/api/live/plays"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect live feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()
	go consumeFeed(feedCtx, conn, tracker)

	songRef = strings.TrimSpace(songRef)
	if songRef == "" {
		song, err := registerLoadSong(ctx, client)
		if err != nil {
			log.Fatalf("register load song: %v", err)
		}
		songRef = song.SongHash
		log.Printf("registered load song %s (%s)", song.ID, song.SongHash)
	}

	interval := time.Minute / time.Duration(playRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		start := time.Now()
		receipt, err := client.RecordPlay(ctx, songRef, gateway.PlayParams{AmountWei: amountWei})
		if err != nil {
			log.Printf("submit play %d failed: %v", submitted, err)
		} else {
			tracker.track(receipt.PlayID, start)
			submitted++
		}
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		_, pending := tracker.snapshot()
		log.Printf("feed still pending for %d plays", pending)
	}

	feedCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

func registerLoadSong(ctx context.Context, client *gateway.Client) (*gateway.Song, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("random song hash: %w", err)
	}
	return client.RegisterSong(ctx, gateway.RegisterSongParams{
		SongHash:     "0x" + hex.EncodeToString(raw),
		Title:        fmt.Sprintf("Load Run %d", time.Now().Unix()),
		IPFSHash:     "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		PaymentModel: "pay_per_stream",
	})
}

func consumeFeed(ctx context.Context, conn *websocket.Conn, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var payload feedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("decode feed event: %v", err)
			continue
		}
		if payload.PlayID != "" {
			tracker.deliver(payload.PlayID, time.Now())
		}
	}
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Play loader submitted %d plays", submitted)
	log.Printf("Feed delivered %d plays (pending: %d)", len(latencies), pending)
	log.Printf("Latency avg=%s max=%s", avg, max)
}
