package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/edumarques81/jukeboxd/internal/history"
)

func openHandlerStore(t *testing.T) *history.Store {
	t.Helper()
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { hist.Close() })
	return hist
}

func TestHistoryHandlerRecentPlays(t *testing.T) {
	hist := openHandlerStore(t)
	if err := hist.RecordPlay(1, "So What", "Miles Davis", "Kind of Blue"); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}

	rec := httptest.NewRecorder()
	historyHandler(hist)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].SongID != 1 {
		t.Errorf("entries = %+v, want one play of song 1", entries)
	}
}

func TestHistoryHandlerPlayCount(t *testing.T) {
	hist := openHandlerStore(t)
	if err := hist.RecordPlay(7, "Blue in Green", "Miles Davis", "Kind of Blue"); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}
	if err := hist.RecordPlay(7, "Blue in Green", "Miles Davis", "Kind of Blue"); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}

	rec := httptest.NewRecorder()
	historyHandler(hist)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?song_id=7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		SongID    int64 `json:"song_id"`
		PlayCount int   `json:"play_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if body.SongID != 7 || body.PlayCount != 2 {
		t.Errorf("got song %d count %d, want song 7 count 2", body.SongID, body.PlayCount)
	}
}

func TestHistoryHandlerBadSongID(t *testing.T) {
	hist := openHandlerStore(t)

	rec := httptest.NewRecorder()
	historyHandler(hist)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?song_id=seven", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryHandlerDeleteClears(t *testing.T) {
	hist := openHandlerStore(t)
	if err := hist.RecordPlay(1, "Track", "Artist", "Album"); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}

	rec := httptest.NewRecorder()
	historyHandler(hist)(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}

	entries, err := hist.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty history after delete, got %d entries", len(entries))
	}
}

func TestHistoryHandlerUnavailableStore(t *testing.T) {
	rec := httptest.NewRecorder()
	historyHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHistoryHandlerMethodNotAllowed(t *testing.T) {
	hist := openHandlerStore(t)

	rec := httptest.NewRecorder()
	historyHandler(hist)(rec, httptest.NewRequest(http.MethodPost, "/api/v1/history", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
