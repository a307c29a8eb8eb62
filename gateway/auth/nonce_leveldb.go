package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce:"
	observedKeyPrefix = "observed:"

	noncePruneInterval = time.Minute
)

// LevelDBNonceStore is a durable single-node nonce store. Consumed nonces
// survive restarts, so a signature captured while the process was down
// still cannot be replayed. Entries are indexed by observation time and
// pruned once they age out of the TTL window.
type LevelDBNonceStore struct {
	db  *leveldb.DB
	ttl time.Duration

	mu         sync.Mutex
	lastPruned time.Time
}

// NewLevelDBNonceStore opens (or creates) the store at path.
func NewLevelDBNonceStore(path string, ttl time.Duration) (*LevelDBNonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("auth: leveldb nonce store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve nonce store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: open nonce store: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if ttl > maxNonceTTL {
		ttl = maxNonceTTL
	}
	return &LevelDBNonceStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying database.
func (s *LevelDBNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Reserve consumes the nonce if unseen. The lock serialises check and
// insert so concurrent replays cannot both pass.
func (s *LevelDBNonceStore) Reserve(ctx context.Context, address, nonce string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("auth: leveldb nonce store not configured")
	}
	composite := nonceKey(address, nonce)
	entryKey := []byte(nonceKeyPrefix + composite)
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pruneLocked(ctx, now); err != nil {
		return false, err
	}
	_, err := s.db.Get(entryKey, nil)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, leveldb.ErrNotFound):
	default:
		return false, fmt.Errorf("load nonce: %w", err)
	}
	batch := new(leveldb.Batch)
	nanos := now.UnixNano()
	batch.Put(entryKey, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return true, nil
}

func (s *LevelDBNonceStore) pruneLocked(ctx context.Context, now time.Time) error {
	if !s.lastPruned.IsZero() && now.Sub(s.lastPruned) < noncePruneInterval {
		return nil
	}
	s.lastPruned = now
	cutoffKey := []byte(observedKey(now.Add(-s.ttl).UnixNano(), ""))
	iter := s.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if bytes.Compare(iter.Key(), cutoffKey) >= 0 {
			break
		}
		composite, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate observed nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune nonces: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, int64, bool) {
	raw := string(key)
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
