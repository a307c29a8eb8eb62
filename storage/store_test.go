package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t), func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
}

func testSong(artist string) *Song {
	return &Song{
		SongHash:      "0x" + uuid.NewString()[:8] + "00000000000000000000000000000000000000000000000000000000",
		Title:         "Night Drive",
		ArtistAddress: artist,
		IPFSHash:      "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		PaymentModel:  "pay_per_stream",
		StrategyID:    "pay-per-stream-v1",
	}
}

func TestCreateSongAndLookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}
	if song.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}
	if song.EarningsWei != "0" {
		t.Fatalf("expected zero earnings got %s", song.EarningsWei)
	}

	byID, err := store.GetSong(ctx, song.ID.String())
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.SongHash != song.SongHash {
		t.Fatalf("expected hash %s got %s", song.SongHash, byID.SongHash)
	}

	byHash, err := store.GetSong(ctx, song.SongHash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.ID != song.ID {
		t.Fatalf("expected id %s got %s", song.ID, byHash.ID)
	}

	dup := testSong("0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B")
	dup.SongHash = song.SongHash
	if err := store.CreateSong(ctx, dup); !errors.Is(err, ErrSongExists) {
		t.Fatalf("expected ErrSongExists got %v", err)
	}

	if _, err := store.GetSong(ctx, uuid.NewString()); !errors.Is(err, ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound got %v", err)
	}
}

func TestCreateSongNormalizesAddress(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}
	songs, err := store.SongsByArtist(ctx, "0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	if err != nil {
		t.Fatalf("songs by artist: %v", err)
	}
	if len(songs) != 1 {
		t.Fatalf("expected 1 song got %d", len(songs))
	}
}

func TestRecordPlayUpdatesCounters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xartist")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}

	first := &Play{SongID: song.ID, ListenerAddress: "0xListenerOne", AmountWei: "10000000000000000", PaymentType: 0}
	updated, err := store.RecordPlay(ctx, first)
	if err != nil {
		t.Fatalf("record play: %v", err)
	}
	if updated.Plays != 1 {
		t.Fatalf("expected 1 play got %d", updated.Plays)
	}
	if updated.EarningsWei != "10000000000000000" {
		t.Fatalf("expected earnings 10000000000000000 got %s", updated.EarningsWei)
	}

	second := &Play{SongID: song.ID, ListenerAddress: "0xlistenertwo", AmountWei: "5000000000000001", PaymentType: 2}
	updated, err = store.RecordPlay(ctx, second)
	if err != nil {
		t.Fatalf("record play: %v", err)
	}
	if updated.Plays != 2 {
		t.Fatalf("expected 2 plays got %d", updated.Plays)
	}
	if updated.EarningsWei != "15000000000000001" {
		t.Fatalf("expected earnings 15000000000000001 got %s", updated.EarningsWei)
	}

	var count int64
	if err := store.DB().Model(&Play{}).Where("song_id = ?", song.ID).Count(&count).Error; err != nil {
		t.Fatalf("count plays: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 play rows got %d", count)
	}
}

func TestRecordPlayUnknownSong(t *testing.T) {
	store := testStore(t)
	play := &Play{SongID: uuid.New(), ListenerAddress: "0xlistener", AmountWei: "1"}
	if _, err := store.RecordPlay(context.Background(), play); !errors.Is(err, ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound got %v", err)
	}
}

func TestRecordPlayRejectsBadAmount(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	song := testSong("0xartist")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}
	play := &Play{SongID: song.ID, ListenerAddress: "0xlistener", AmountWei: "-5"}
	if _, err := store.RecordPlay(ctx, play); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount got %v", err)
	}
}

func TestInsertPaymentEventIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	evt := &PaymentEvent{
		TxHash:          "0xD00D000000000000000000000000000000000000000000000000000000000001",
		BlockNumber:     42,
		SongHash:        "0xfeed000000000000000000000000000000000000000000000000000000000001",
		ListenerAddress: "0xlistener",
		AmountWei:       "100",
		PaymentType:     0,
	}
	inserted, err := store.InsertPaymentEvent(ctx, evt)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report a new row")
	}

	again := *evt
	inserted, err = store.InsertPaymentEvent(ctx, &again)
	if err != nil {
		t.Fatalf("duplicate insert should be benign: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate insert to report no new row")
	}

	var count int64
	if err := store.DB().Model(&PaymentEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 event row got %d", count)
	}
}

func TestApplyPaymentEventKnownSong(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xartist")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}

	evt := &PaymentEvent{
		TxHash:          "0xaaaa000000000000000000000000000000000000000000000000000000000001",
		BlockNumber:     7,
		SongHash:        song.SongHash,
		ListenerAddress: "0xlistener",
		AmountWei:       "250",
		PaymentType:     2,
	}
	inserted, err := store.ApplyPaymentEvent(ctx, evt)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !inserted {
		t.Fatal("expected event to be inserted")
	}

	refreshed, err := store.GetSong(ctx, song.ID.String())
	if err != nil {
		t.Fatalf("get song: %v", err)
	}
	if refreshed.Plays != 1 {
		t.Fatalf("expected 1 play got %d", refreshed.Plays)
	}
	if refreshed.EarningsWei != "250" {
		t.Fatalf("expected earnings 250 got %s", refreshed.EarningsWei)
	}

	var stored PaymentEvent
	if err := store.DB().First(&stored, "tx_hash = ?", evt.TxHash).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if stored.SongID == nil || *stored.SongID != song.ID {
		t.Fatalf("expected event attributed to song %s", song.ID)
	}

	var play Play
	if err := store.DB().First(&play, "song_id = ?", song.ID).Error; err != nil {
		t.Fatalf("load play: %v", err)
	}
	if play.TxHash == nil || *play.TxHash != evt.TxHash {
		t.Fatal("expected play to carry the event tx hash")
	}

	// Replaying the event changes nothing.
	replay := *evt
	replay.SongID = nil
	inserted, err = store.ApplyPaymentEvent(ctx, &replay)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted {
		t.Fatal("expected replay to be a no-op")
	}
	refreshed, err = store.GetSong(ctx, song.ID.String())
	if err != nil {
		t.Fatalf("get song: %v", err)
	}
	if refreshed.Plays != 1 {
		t.Fatalf("expected plays to stay at 1 got %d", refreshed.Plays)
	}
}

func TestApplyPaymentEventDeferredAttribution(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	hash := "0xfeed00000000000000000000000000000000000000000000000000000000cafe"
	evt := &PaymentEvent{
		TxHash:          "0xbbbb000000000000000000000000000000000000000000000000000000000001",
		BlockNumber:     9,
		SongHash:        hash,
		ListenerAddress: "0xlistener",
		AmountWei:       "777",
		PaymentType:     0,
	}
	inserted, err := store.ApplyPaymentEvent(ctx, evt)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !inserted {
		t.Fatal("expected event for unknown song to be stored")
	}

	var plays int64
	if err := store.DB().Model(&Play{}).Count(&plays).Error; err != nil {
		t.Fatalf("count plays: %v", err)
	}
	if plays != 0 {
		t.Fatalf("expected no plays before registration got %d", plays)
	}

	song := testSong("0xartist")
	song.SongHash = hash
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}

	refreshed, err := store.GetSong(ctx, hash)
	if err != nil {
		t.Fatalf("get song: %v", err)
	}
	if refreshed.Plays != 1 {
		t.Fatalf("expected deferred play to be attributed got %d plays", refreshed.Plays)
	}
	if refreshed.EarningsWei != "777" {
		t.Fatalf("expected earnings 777 got %s", refreshed.EarningsWei)
	}

	var stored PaymentEvent
	if err := store.DB().First(&stored, "tx_hash = ?", evt.TxHash).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if stored.SongID == nil || *stored.SongID != refreshed.ID {
		t.Fatal("expected event to be linked to the registered song")
	}
}

func TestMarkSongRegistered(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xartist")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}
	txHash := "0xcccc000000000000000000000000000000000000000000000000000000000001"
	if err := store.MarkSongRegistered(ctx, song.SongHash, txHash, 1234); err != nil {
		t.Fatalf("mark registered: %v", err)
	}
	refreshed, err := store.GetSong(ctx, song.ID.String())
	if err != nil {
		t.Fatalf("get song: %v", err)
	}
	if !refreshed.RegisteredOnChain {
		t.Fatal("expected song to be marked registered")
	}
	if refreshed.RegistrationTx != txHash {
		t.Fatalf("expected tx %s got %s", txHash, refreshed.RegistrationTx)
	}
	if refreshed.RegistrationBlock != 1234 {
		t.Fatalf("expected block 1234 got %d", refreshed.RegistrationBlock)
	}

	if err := store.MarkSongRegistered(ctx, "0xmissing", txHash, 1); !errors.Is(err, ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound got %v", err)
	}
}

func TestListSongsFilters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a := testSong("0xAAA0000000000000000000000000000000000001")
	a.Title = "Sunrise Anthem"
	b := testSong("0xBBB0000000000000000000000000000000000002")
	b.Title = "Moonlight Sonata Remix"
	b.PaymentModel = "gift_economy"
	b.StrategyID = "gift-economy-v1"
	for _, song := range []*Song{a, b} {
		if err := store.CreateSong(ctx, song); err != nil {
			t.Fatalf("create song: %v", err)
		}
	}

	byArtist, err := store.ListSongs(ctx, SongFilter{Artist: "0xaaa0000000000000000000000000000000000001"})
	if err != nil {
		t.Fatalf("list by artist: %v", err)
	}
	if len(byArtist) != 1 || byArtist[0].Title != "Sunrise Anthem" {
		t.Fatalf("unexpected artist filter result: %+v", byArtist)
	}

	byModel, err := store.ListSongs(ctx, SongFilter{PaymentModel: "gift_economy"})
	if err != nil {
		t.Fatalf("list by model: %v", err)
	}
	if len(byModel) != 1 || byModel[0].ID != b.ID {
		t.Fatalf("unexpected model filter result: %+v", byModel)
	}

	bySearch, err := store.ListSongs(ctx, SongFilter{Search: "moonlight"})
	if err != nil {
		t.Fatalf("list by search: %v", err)
	}
	if len(bySearch) != 1 || bySearch[0].ID != b.ID {
		t.Fatalf("unexpected search result: %+v", bySearch)
	}

	all, err := store.ListSongs(ctx, SongFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 songs got %d", len(all))
	}
}

func TestStrategyCRUD(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cfg := &StrategyConfig{
		ID:             "midnight-special",
		Name:           "Midnight Special",
		Category:       "custom",
		PaymentModel:   "pay_per_stream",
		Payload:        `{"modules":["payment"]}`,
		Hash:           "deadbeef",
		MinPaymentWei:  "1000",
		ProtocolFeeBps: 100,
	}
	if err := store.CreateStrategy(ctx, cfg); err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	if err := store.CreateStrategy(ctx, cfg); !errors.Is(err, ErrStrategyExists) {
		t.Fatalf("expected ErrStrategyExists got %v", err)
	}

	loaded, err := store.GetStrategy(ctx, "midnight-special")
	if err != nil {
		t.Fatalf("get strategy: %v", err)
	}
	if loaded.Hash != "deadbeef" {
		t.Fatalf("expected hash deadbeef got %s", loaded.Hash)
	}

	if _, err := store.GetStrategy(ctx, "missing"); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound got %v", err)
	}

	list, err := store.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("list strategies: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 strategy got %d", len(list))
	}
}

func TestClaimLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	song := testSong("0xartist")
	if err := store.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}

	claim := &Claim{
		SongID:        song.ID,
		ArtistAddress: "0xClaimant000000000000000000000000000000001",
		IPFSHash:      song.IPFSHash,
		Title:         song.Title,
	}
	if err := store.CreateClaim(ctx, claim); err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if claim.Status != ClaimPending {
		t.Fatalf("expected pending status got %s", claim.Status)
	}

	orphan := &Claim{SongID: uuid.New(), ArtistAddress: "0xclaimant"}
	if err := store.CreateClaim(ctx, orphan); !errors.Is(err, ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound got %v", err)
	}

	claims, err := store.ListClaims(ctx, song.ID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim got %d", len(claims))
	}

	updated, err := store.SetClaimStatus(ctx, claim.ID, ClaimApproved)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != ClaimApproved {
		t.Fatalf("expected approved got %s", updated.Status)
	}

	if _, err := store.SetClaimStatus(ctx, uuid.New(), ClaimRejected); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound got %v", err)
	}
}
