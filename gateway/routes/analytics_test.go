package routes

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"mycelix/storage"
)

func TestArtistAnalytics(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	_, listenerA := testKey(t)
	_, listenerB := testKey(t)

	songOne := env.registerSong(t, artist, "")
	songTwo := env.registerSong(t, artist, "")
	env.recordPlay(t, songOne.ID, listenerA, "1000")
	env.recordPlay(t, songOne.ID, listenerB, "1000")
	env.recordPlay(t, songTwo.ID, listenerA, "1000")

	rec := env.do(t, http.MethodGet, "/api/analytics/artist/"+artist, nil, nil)
	requireStatus(t, rec, http.StatusOK)

	var resp artistAnalyticsResponse
	decodeJSON(t, rec, &resp)
	if resp.SongCount != 2 {
		t.Fatalf("expected 2 songs got %d", resp.SongCount)
	}
	if resp.Plays != 3 {
		t.Fatalf("expected 3 plays got %d", resp.Plays)
	}
	if resp.EarningsWei != "3000" {
		t.Fatalf("expected earnings 3000 got %s", resp.EarningsWei)
	}
	if resp.UniqueListeners != 2 {
		t.Fatalf("expected 2 unique listeners got %d", resp.UniqueListeners)
	}
	if len(resp.Songs) != 2 {
		t.Fatalf("expected 2 songs in payload got %d", len(resp.Songs))
	}
	if len(resp.EarningsByModel) != 1 || resp.EarningsByModel[0].PaymentModel != "pay_per_stream" {
		t.Fatalf("unexpected model breakdown %+v", resp.EarningsByModel)
	}
	if resp.EarningsByModel[0].EarningsWei != "3000" {
		t.Fatalf("expected model earnings 3000 got %s", resp.EarningsByModel[0].EarningsWei)
	}
}

func TestArtistAnalyticsInvalidAddress(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/analytics/artist/legend", nil, nil)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestSongAnalytics(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	_, listener := testKey(t)
	song := env.registerSong(t, artist, "")
	env.recordPlay(t, song.ID, listener, "500")
	env.recordPlay(t, song.ID, listener, "700")

	rec := env.do(t, http.MethodGet, "/api/analytics/song/"+song.ID.String(), nil, nil)
	requireStatus(t, rec, http.StatusOK)

	var totals storage.SongTotals
	decodeJSON(t, rec, &totals)
	if totals.Plays != 2 {
		t.Fatalf("expected 2 plays got %d", totals.Plays)
	}
	if totals.EarningsWei != "1200" {
		t.Fatalf("expected earnings 1200 got %s", totals.EarningsWei)
	}
	if totals.UniqueListeners != 1 {
		t.Fatalf("expected 1 unique listener got %d", totals.UniqueListeners)
	}

	badID := env.do(t, http.MethodGet, "/api/analytics/song/not-a-uuid", nil, nil)
	requireStatus(t, badID, http.StatusBadRequest)

	missing := env.do(t, http.MethodGet, "/api/analytics/song/"+uuid.NewString(), nil, nil)
	requireStatus(t, missing, http.StatusNotFound)
}

func TestTopSongs(t *testing.T) {
	env := newTestEnv(t)
	_, artist := testKey(t)
	_, listener := testKey(t)

	quiet := env.registerSong(t, artist, "")
	popular := env.registerSong(t, artist, "")
	env.recordPlay(t, popular.ID, listener, "100")
	env.recordPlay(t, popular.ID, listener, "100")
	env.recordPlay(t, quiet.ID, listener, "5000")

	rec := env.do(t, http.MethodGet, "/api/analytics/top-songs?by=plays", nil, nil)
	requireStatus(t, rec, http.StatusOK)
	var byPlays []storage.Song
	decodeJSON(t, rec, &byPlays)
	if len(byPlays) != 2 || byPlays[0].ID != popular.ID {
		t.Fatalf("unexpected plays ranking %+v", byPlays)
	}

	rec = env.do(t, http.MethodGet, "/api/analytics/top-songs?by=earnings", nil, nil)
	requireStatus(t, rec, http.StatusOK)
	var byEarnings []storage.Song
	decodeJSON(t, rec, &byEarnings)
	if len(byEarnings) != 2 || byEarnings[0].ID != quiet.ID {
		t.Fatalf("unexpected earnings ranking %+v", byEarnings)
	}

	rec = env.do(t, http.MethodGet, "/api/analytics/top-songs?limit=1", nil, nil)
	requireStatus(t, rec, http.StatusOK)
	var limited []storage.Song
	decodeJSON(t, rec, &limited)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply got %d", len(limited))
	}

	rec = env.do(t, http.MethodGet, "/api/analytics/top-songs?by=revenue", nil, nil)
	requireStatus(t, rec, http.StatusBadRequest)
}
