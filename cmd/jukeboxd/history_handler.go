package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/edumarques81/jukeboxd/internal/history"
)

// historyHandler serves the play-history ledger: recent plays, per-song
// play counts (`?song_id=N`) and a DELETE reset. A nil store reports the
// ledger as unavailable without failing the rest of the daemon.
func historyHandler(hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if hist == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"history unavailable"}`))
			return
		}

		switch r.Method {
		case http.MethodGet:
			if idStr := r.URL.Query().Get("song_id"); idStr != "" {
				songID, err := strconv.ParseInt(idStr, 10, 64)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"error":"song_id must be a number"}`))
					return
				}
				count, err := hist.PlayCount(songID)
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"history query failed"}`))
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"song_id":    songID,
					"play_count": count,
				})
				return
			}

			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			entries, err := hist.Recent(limit)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"history query failed"}`))
				return
			}
			json.NewEncoder(w).Encode(entries)

		case http.MethodDelete:
			if err := hist.Clear(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"history reset failed"}`))
				return
			}
			w.Write([]byte(`{"status":"cleared"}`))

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			w.Write([]byte(`{"error":"method not allowed"}`))
		}
	}
}
