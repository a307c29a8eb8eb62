// Package reports generates royalty statements from recorded plays. A
// statement recomputes per-role distributions through the same split code
// the live play path uses and writes Parquet, CSV, and JSONL artifacts per
// artist.
package reports

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"

	"mycelix/integrations/exports"
	"mycelix/native/economics"
	"mycelix/storage"
)

// Config captures the dependencies required to construct a Reporter.
type Config struct {
	Store     *storage.Store
	TZ        *time.Location
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Logger    *log.Logger
}

// RunOptions selects the statement window. An empty Artist covers every
// artist with plays inside the window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	Artist string
	DryRun bool
}

// Reporter materialises royalty statements joining plays, songs, and
// strategy configurations.
type Reporter struct {
	store     *storage.Store
	tz        *time.Location
	outputDir string
	dryRun    bool
	now       func() time.Time
	logger    *log.Logger
}

// StatementRow is one payout line: a recorded play crossed with one split
// role. Checksum commits to the identifying fields so statements are
// tamper-evident.
type StatementRow struct {
	PlayID          string
	SongID          string
	SongTitle       string
	SongHash        string
	StrategyID      string
	PaymentModel    string
	ListenerAddress string
	PaymentType     string
	TxHash          string
	PlayedAt        time.Time
	GrossWei        string
	Role            string
	Recipient       string
	AmountWei       string
	Checksum        string
}

// StatementFile references the artifacts generated for one artist. The
// checksum commits to the JSONL payload partners reconcile against.
type StatementFile struct {
	Artist        string
	CSVPath       string
	ParquetPath   string
	JSONLPath     string
	JSONLChecksum string
	Rows          int
}

// Result summarises a statement run.
type Result struct {
	Start   time.Time
	End     time.Time
	Artists int
	Rows    []StatementRow
	Files   []StatementFile
}

// Artifact is one generated statement file on disk.
type Artifact struct {
	Artist     string    `json:"artist"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Format     string    `json:"format"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewReporter builds a configured reporter.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.Store == nil {
		return nil, errors.New("reports: store is required")
	}
	if cfg.TZ == nil {
		cfg.TZ = time.UTC
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("mycelix-data", "reports")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().In(cfg.TZ) }
	}
	return &Reporter{
		store:     cfg.Store,
		tz:        cfg.TZ,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		logger:    logger,
	}, nil
}

// OutputDir reports where artifacts are written.
func (r *Reporter) OutputDir() string {
	return r.outputDir
}

// Run generates statements for the supplied window.
func (r *Reporter) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := opts.Start.In(r.tz)
	end := opts.End.In(r.tz)
	if !end.After(start) {
		return nil, fmt.Errorf("reports: window end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	dryRun := r.dryRun || opts.DryRun

	artists := []string{}
	if trimmed := strings.ToLower(strings.TrimSpace(opts.Artist)); trimmed != "" {
		artists = append(artists, trimmed)
	} else {
		found, err := r.store.ArtistsWithPlays(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("reports: list artists: %w", err)
		}
		artists = found
	}

	result := &Result{Start: start, End: end}
	splitsCache := make(map[string][]economics.Split)
	for _, artist := range artists {
		royalties, err := r.store.RoyaltyRows(ctx, artist, start, end)
		if err != nil {
			return nil, fmt.Errorf("reports: load plays for %s: %w", artist, err)
		}
		if len(royalties) == 0 {
			continue
		}
		rows := r.buildRows(ctx, artist, royalties, splitsCache)
		if len(rows) == 0 {
			continue
		}
		result.Artists++
		result.Rows = append(result.Rows, rows...)
		if dryRun {
			continue
		}
		file, err := r.writeStatement(artist, start, end, rows)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, file)
	}
	return result, nil
}

func (r *Reporter) buildRows(ctx context.Context, artist string, royalties []storage.RoyaltyRow, cache map[string][]economics.Split) []StatementRow {
	rows := make([]StatementRow, 0, len(royalties))
	for _, royalty := range royalties {
		amount, err := economics.ParseWei(royalty.AmountWei)
		if err != nil {
			r.logger.Printf("reports: play %s has unparseable amount %q, skipping", royalty.PlayID, royalty.AmountWei)
			continue
		}
		splits := r.splitsFor(ctx, royalty.StrategyID, cache)
		payouts, err := economics.ComputeSplits(amount, splits)
		if err != nil {
			r.logger.Printf("reports: play %s split computation failed: %v", royalty.PlayID, err)
			continue
		}
		txHash := ""
		if royalty.TxHash != nil {
			txHash = *royalty.TxHash
		}
		playedAt := royalty.PlayedAt.In(r.tz)
		for _, payout := range payouts {
			recipient := payout.Recipient
			if recipient == "" && strings.EqualFold(payout.Role, "artist") {
				recipient = artist
			}
			rows = append(rows, StatementRow{
				PlayID:          royalty.PlayID.String(),
				SongID:          royalty.SongID.String(),
				SongTitle:       royalty.SongTitle,
				SongHash:        royalty.SongHash,
				StrategyID:      royalty.StrategyID,
				PaymentModel:    royalty.PaymentModel,
				ListenerAddress: royalty.ListenerAddress,
				PaymentType:     economics.PaymentType(royalty.PaymentType).String(),
				TxHash:          txHash,
				PlayedAt:        playedAt,
				GrossWei:        royalty.AmountWei,
				Role:            payout.Role,
				Recipient:       recipient,
				AmountWei:       payout.Amount.String(),
				Checksum:        rowChecksum(royalty.PlayID.String(), royalty.SongID.String(), payout.Role, payout.Amount.String(), playedAt),
			})
		}
	}
	return rows
}

// splitsFor resolves the split set a play was distributed under. Stored
// strategies carry their own splits; catalog ids and unknown ids fall back
// to the full-to-artist default. A corrupt stored payload is logged and
// falls back rather than sinking the whole statement.
func (r *Reporter) splitsFor(ctx context.Context, strategyID string, cache map[string][]economics.Split) []economics.Split {
	id := strings.TrimSpace(strategyID)
	if id == "" {
		return economics.DefaultSplits()
	}
	if splits, ok := cache[id]; ok {
		return splits
	}
	splits := economics.DefaultSplits()
	cfg, err := r.store.GetStrategy(ctx, id)
	switch {
	case err == nil:
		strategy, parseErr := economics.ParseStrategy(cfg.Payload)
		if parseErr != nil {
			r.logger.Printf("reports: strategy %s payload invalid: %v", id, parseErr)
		} else {
			splits = strategy.Splits
		}
	case errors.Is(err, storage.ErrStrategyNotFound):
	default:
		r.logger.Printf("reports: load strategy %s: %v", id, err)
	}
	cache[id] = splits
	return splits
}

func (r *Reporter) writeStatement(artist string, start, end time.Time, rows []StatementRow) (StatementFile, error) {
	window := fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102"))
	runDir := filepath.Join(r.outputDir, window)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return StatementFile{}, fmt.Errorf("reports: ensure output dir: %w", err)
	}
	slug := artistSlug(artist)
	filename := fmt.Sprintf("royalties-%s-%s", slug, window)
	csvPath := filepath.Join(runDir, filename+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return StatementFile{}, err
	}
	parquetPath := filepath.Join(runDir, filename+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return StatementFile{}, err
	}
	jsonlPath := filepath.Join(runDir, filename+".jsonl")
	checksum, err := writeJSONL(jsonlPath, rows)
	if err != nil {
		return StatementFile{}, err
	}
	r.logger.Printf("reports: wrote %s (%d rows)", csvPath, len(rows))
	r.logger.Printf("reports: wrote %s (%d rows)", parquetPath, len(rows))
	r.logger.Printf("reports: wrote %s (checksum %s)", jsonlPath, checksum)
	return StatementFile{
		Artist:        artist,
		CSVPath:       csvPath,
		ParquetPath:   parquetPath,
		JSONLPath:     jsonlPath,
		JSONLChecksum: checksum,
		Rows:          len(rows),
	}, nil
}

// Artifacts lists the statement files generated for an artist, newest
// first. A missing output directory yields an empty list.
func (r *Reporter) Artifacts(artist string) ([]Artifact, error) {
	prefix := "royalties-" + artistSlug(artist) + "-"
	if _, err := os.Stat(r.outputDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reports: stat output dir: %w", err)
	}
	artifacts := make([]Artifact, 0)
	err := filepath.Walk(r.outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		artifacts = append(artifacts, Artifact{
			Artist:     strings.ToLower(strings.TrimSpace(artist)),
			Name:       name,
			Path:       path,
			Format:     strings.TrimPrefix(filepath.Ext(name), "."),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reports: walk output dir: %w", err)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].ModifiedAt.Equal(artifacts[j].ModifiedAt) {
			return artifacts[i].Name < artifacts[j].Name
		}
		return artifacts[i].ModifiedAt.After(artifacts[j].ModifiedAt)
	})
	return artifacts, nil
}

func writeCSV(path string, rows []StatementRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"play_id", "song_id", "song_title", "song_hash", "strategy_id", "payment_model",
		"listener_address", "payment_type", "tx_hash", "played_at", "gross_wei",
		"role", "recipient", "amount_wei", "checksum",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("reports: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.PlayID,
			row.SongID,
			row.SongTitle,
			row.SongHash,
			row.StrategyID,
			row.PaymentModel,
			row.ListenerAddress,
			row.PaymentType,
			row.TxHash,
			row.PlayedAt.Format(time.RFC3339),
			row.GrossWei,
			row.Role,
			row.Recipient,
			row.AmountWei,
			row.Checksum,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("reports: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("reports: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	PlayID          string `parquet:"name=play_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SongID          string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SongTitle       string `parquet:"name=song_title, type=BYTE_ARRAY, convertedtype=UTF8"`
	SongHash        string `parquet:"name=song_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	StrategyID      string `parquet:"name=strategy_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentModel    string `parquet:"name=payment_model, type=BYTE_ARRAY, convertedtype=UTF8"`
	ListenerAddress string `parquet:"name=listener_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentType     string `parquet:"name=payment_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxHash          string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlayedAt        string `parquet:"name=played_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	GrossWei        string `parquet:"name=gross_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	Role            string `parquet:"name=role, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient       string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountWei       string `parquet:"name=amount_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	Checksum        string `parquet:"name=checksum, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []StatementRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("reports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			PlayID:          row.PlayID,
			SongID:          row.SongID,
			SongTitle:       row.SongTitle,
			SongHash:        row.SongHash,
			StrategyID:      row.StrategyID,
			PaymentModel:    row.PaymentModel,
			ListenerAddress: row.ListenerAddress,
			PaymentType:     row.PaymentType,
			TxHash:          row.TxHash,
			PlayedAt:        row.PlayedAt.Format(time.RFC3339),
			GrossWei:        row.GrossWei,
			Role:            row.Role,
			Recipient:       row.Recipient,
			AmountWei:       row.AmountWei,
			Checksum:        row.Checksum,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("reports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("reports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("reports: close parquet file: %w", err)
	}
	return nil
}

func writeJSONL(path string, rows []StatementRow) (string, error) {
	lines := make([]exports.StatementLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, exports.StatementLine{
			PlayID:          row.PlayID,
			SongID:          row.SongID,
			SongTitle:       row.SongTitle,
			SongHash:        row.SongHash,
			StrategyID:      row.StrategyID,
			PaymentModel:    row.PaymentModel,
			ListenerAddress: row.ListenerAddress,
			PaymentType:     row.PaymentType,
			TxHash:          row.TxHash,
			PlayedAt:        row.PlayedAt,
			GrossWei:        row.GrossWei,
			Role:            row.Role,
			Recipient:       row.Recipient,
			AmountWei:       row.AmountWei,
			Checksum:        row.Checksum,
		})
	}
	data, checksum, err := exports.StatementsJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("reports: encode jsonl: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("reports: write jsonl: %w", err)
	}
	return checksum, nil
}

func rowChecksum(playID, songID, role, amountWei string, playedAt time.Time) string {
	payload := strings.Join([]string{playID, songID, role, amountWei, playedAt.UTC().Format(time.RFC3339Nano)}, "|")
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func artistSlug(artist string) string {
	trimmed := strings.TrimSpace(strings.ToLower(artist))
	cleaned := make([]rune, 0, len(trimmed))
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			cleaned = append(cleaned, r)
		}
	}
	return strings.Trim(string(cleaned), "-")
}
