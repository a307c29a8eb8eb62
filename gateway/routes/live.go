package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	liveHistoryLimit = 256
	liveWriteTimeout = 10 * time.Second
)

// PlayEvent is one entry on the live play feed. Cursor orders events so a
// client can resume after a reconnect.
type PlayEvent struct {
	Sequence        uint64    `json:"-"`
	Cursor          string    `json:"cursor"`
	PlayID          string    `json:"play_id"`
	SongID          string    `json:"song_id"`
	SongTitle       string    `json:"song_title"`
	ArtistAddress   string    `json:"artist_address"`
	ListenerAddress string    `json:"listener_address"`
	AmountWei       string    `json:"amount_wei"`
	PaymentType     string    `json:"payment_type"`
	AppliedOffer    string    `json:"applied_offer,omitempty"`
	PlayedAt        time.Time `json:"played_at"`
}

// liveHub fans recorded plays out to websocket subscribers. Publishing
// never blocks: slow subscribers drop events and catch up from history via
// the cursor on reconnect.
type liveHub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan PlayEvent
	history []PlayEvent
}

func newLiveHub() *liveHub {
	return &liveHub{subs: make(map[uint64]chan PlayEvent)}
}

func (h *liveHub) publish(evt PlayEvent) {
	h.mu.Lock()
	h.seq++
	evt.Sequence = h.seq
	evt.Cursor = strconv.FormatUint(h.seq, 10)
	h.history = append(h.history, evt)
	if len(h.history) > liveHistoryLimit {
		excess := len(h.history) - liveHistoryLimit
		trimmed := make([]PlayEvent, liveHistoryLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	subscribers := make([]chan PlayEvent, 0, len(h.subs))
	for _, ch := range h.subs {
		subscribers = append(subscribers, ch)
	}
	h.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// subscribe registers a listener for events after the supplied cursor and
// returns the retained history the cursor missed.
func (h *liveHub) subscribe(ctx context.Context, cursor string) (<-chan PlayEvent, func(), []PlayEvent) {
	events := make(chan PlayEvent, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = events
	history := make([]PlayEvent, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]PlayEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			sub, ok := h.subs[id]
			if ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return events, cancel, backlog
}

func (s *Server) handleLivePlays(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The feed is write-only. CloseRead drains control frames and cancels
	// the context when the client goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamPlays(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamPlays(ctx context.Context, conn *websocket.Conn, cursor string) error {
	events, cancel, backlog := s.live.subscribe(ctx, cursor)
	defer cancel()

	for _, evt := range backlog {
		if err := writePlayEvent(ctx, conn, evt); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := writePlayEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writePlayEvent(ctx context.Context, conn *websocket.Conn, evt PlayEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
