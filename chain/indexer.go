// Package chain follows the payment router contract and folds confirmed
// events into the relational store. Progress is checkpointed after every
// window so a restart resumes where the previous run stopped.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"mycelix/integrations/webhooks"
	"mycelix/storage"
)

const (
	defaultPollInterval  = 12 * time.Second
	defaultConfirmations = 3
	defaultMaxBlockRange = 1000
)

// EVMClient defines the subset of the Ethereum RPC used by the indexer.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Config wires an Indexer. Client and Store are required; a nil Checkpoints
// store keeps progress in memory only, and a nil Webhooks dispatcher skips
// partner notifications.
type Config struct {
	Client        EVMClient
	Store         *storage.Store
	Checkpoints   *CheckpointStore
	Webhooks      *webhooks.Dispatcher
	Router        common.Address
	Confirmations uint64
	PollInterval  time.Duration
	MaxBlockRange uint64
	StartBlock    uint64
	Logger        *slog.Logger
	Registry      prometheus.Registerer
}

// Indexer polls for confirmed router events and applies them to the store.
// Events inside the confirmation depth are left for a later poll so reorged
// blocks are never indexed.
type Indexer struct {
	client        EVMClient
	store         *storage.Store
	checkpoints   *CheckpointStore
	webhooks      *webhooks.Dispatcher
	router        common.Address
	confirmations uint64
	pollInterval  time.Duration
	maxRange      uint64
	startBlock    uint64
	logger        *slog.Logger

	lastIndexed atomic.Uint64

	blocksIndexed prometheus.Counter
	eventsApplied *prometheus.CounterVec
	lagBlocks     prometheus.Gauge
}

// New constructs an indexer and restores the persisted checkpoint.
func New(cfg Config) (*Indexer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("chain: client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("chain: store is required")
	}
	idx := &Indexer{
		client:        cfg.Client,
		store:         cfg.Store,
		checkpoints:   cfg.Checkpoints,
		webhooks:      cfg.Webhooks,
		router:        cfg.Router,
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		maxRange:      cfg.MaxBlockRange,
		startBlock:    cfg.StartBlock,
		logger:        cfg.Logger,
	}
	if idx.confirmations == 0 {
		idx.confirmations = defaultConfirmations
	}
	if idx.pollInterval <= 0 {
		idx.pollInterval = defaultPollInterval
	}
	if idx.maxRange == 0 {
		idx.maxRange = defaultMaxBlockRange
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}

	idx.blocksIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mycelix",
		Subsystem: "indexer",
		Name:      "blocks_total",
		Help:      "Blocks scanned for router events.",
	})
	idx.eventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mycelix",
		Subsystem: "indexer",
		Name:      "events_total",
		Help:      "Router events applied to the store.",
	}, []string{"event"})
	idx.lagBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mycelix",
		Subsystem: "indexer",
		Name:      "lag_blocks",
		Help:      "Distance between the chain head and the last indexed block.",
	})
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(idx.blocksIndexed, idx.eventsApplied, idx.lagBlocks)
	}

	if idx.checkpoints != nil {
		block, ok, err := idx.checkpoints.Load()
		if err != nil {
			return nil, fmt.Errorf("chain: load checkpoint: %w", err)
		}
		if ok {
			idx.lastIndexed.Store(block)
		}
	}
	return idx, nil
}

// LastIndexedBlock reports the newest block whose events have been applied.
func (i *Indexer) LastIndexedBlock() uint64 {
	if i == nil {
		return 0
	}
	return i.lastIndexed.Load()
}

// Run polls until the context is cancelled.
func (i *Indexer) Run(ctx context.Context) {
	if i == nil {
		return
	}
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()
	i.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.poll(ctx)
		}
	}
}

// poll indexes every confirmed window past the checkpoint. A failed window
// leaves the checkpoint untouched and is retried on the next tick.
func (i *Indexer) poll(ctx context.Context) {
	head, err := i.client.BlockNumber(ctx)
	if err != nil {
		i.logger.Warn("chain head lookup failed", "error", err)
		return
	}
	if head < i.confirmations {
		return
	}
	safe := head - i.confirmations
	for ctx.Err() == nil {
		from := i.lastIndexed.Load() + 1
		if from < i.startBlock {
			from = i.startBlock
		}
		if from > safe {
			i.lagBlocks.Set(float64(head - i.lastIndexed.Load()))
			return
		}
		to := from + i.maxRange - 1
		if to > safe {
			to = safe
		}
		if err := i.indexWindow(ctx, from, to); err != nil {
			i.logger.Error("index window failed", "from", from, "to", to, "error", err)
			return
		}
		i.lastIndexed.Store(to)
		if i.checkpoints != nil {
			if err := i.checkpoints.Save(to); err != nil {
				i.logger.Error("checkpoint save failed", "block", to, "error", err)
			}
		}
		i.blocksIndexed.Add(float64(to - from + 1))
		i.lagBlocks.Set(float64(head - to))
	}
}

func (i *Indexer) indexWindow(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{i.router},
		Topics:    [][]common.Hash{{paymentProcessedSig, songRegisteredSig}},
	}
	logs, err := i.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}
	for _, entry := range logs {
		if entry.Removed {
			continue
		}
		evt, err := ParseLog(entry)
		if err != nil {
			i.logger.Warn("skipping malformed log", "tx", entry.TxHash.Hex(), "log_index", entry.Index, "error", err)
			continue
		}
		if err := i.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (i *Indexer) apply(ctx context.Context, evt Event) error {
	switch evt.Kind {
	case KindPayment:
		record := &storage.PaymentEvent{
			TxHash:          evt.TxHash,
			LogIndex:        evt.LogIndex,
			BlockNumber:     evt.BlockNumber,
			SongHash:        evt.SongHash,
			ListenerAddress: evt.Listener,
			AmountWei:       evt.AmountWei,
			PaymentType:     evt.PaymentType,
		}
		inserted, err := i.store.ApplyPaymentEvent(ctx, record)
		if err != nil {
			return fmt.Errorf("apply payment %s: %w", evt.TxHash, err)
		}
		if inserted {
			i.eventsApplied.WithLabelValues("payment").Inc()
			i.notifyPayment(record)
		}
	case KindRegistration:
		if err := i.store.MarkSongRegistered(ctx, evt.SongHash, evt.TxHash, evt.BlockNumber); err != nil {
			if errors.Is(err, storage.ErrSongNotFound) {
				i.logger.Info("registration for unknown song", "song_hash", evt.SongHash, "tx", evt.TxHash)
				return nil
			}
			return fmt.Errorf("mark registered %s: %w", evt.TxHash, err)
		}
		i.eventsApplied.WithLabelValues("registration").Inc()
		i.notifyRegistration(evt)
	}
	return nil
}

// Webhook delivery is best-effort: a full queue or closed dispatcher is
// logged, never allowed to stall indexing.
func (i *Indexer) notifyPayment(record *storage.PaymentEvent) {
	if i.webhooks == nil {
		return
	}
	payload := webhooks.PaymentProcessedPayload{
		TxHash:      record.TxHash,
		BlockNumber: record.BlockNumber,
		SongHash:    record.SongHash,
		Listener:    record.ListenerAddress,
		AmountWei:   record.AmountWei,
		PaymentType: record.PaymentType,
		ObservedAt:  record.ObservedAt,
	}
	if record.SongID != nil {
		payload.SongID = record.SongID.String()
	}
	if err := i.webhooks.EnqueuePaymentProcessed(payload); err != nil {
		i.logger.Warn("payment webhook dropped", "tx", record.TxHash, "error", err)
	}
}

func (i *Indexer) notifyRegistration(evt Event) {
	if i.webhooks == nil {
		return
	}
	err := i.webhooks.EnqueueSongRegistered(webhooks.SongRegisteredPayload{
		TxHash:      evt.TxHash,
		BlockNumber: evt.BlockNumber,
		SongHash:    evt.SongHash,
		Artist:      evt.Artist,
	})
	if err != nil {
		i.logger.Warn("registration webhook dropped", "tx", evt.TxHash, "error", err)
	}
}
