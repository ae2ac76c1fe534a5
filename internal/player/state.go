// Package player provides the player control core: command collapsing,
// desired/actual state reconciliation and status publication.
package player

import (
	"fmt"
	"time"
)

// DesiredState is the operator's persisted playback intent.
type DesiredState string

// Desired state values as stored in the shared store.
const (
	DesiredPlaying DesiredState = "playing"
	DesiredPaused  DesiredState = "paused"
	DesiredStopped DesiredState = "stopped"
)

// ParseDesiredState validates a stored desired-state string, falling back
// to stopped for anything unrecognized.
func ParseDesiredState(s string) DesiredState {
	switch DesiredState(s) {
	case DesiredPlaying, DesiredPaused, DesiredStopped:
		return DesiredState(s)
	default:
		return DesiredStopped
	}
}

// ActualState is the playback condition observed on the engine.
// It is derived from the live engine properties on every tick and is
// never cached across ticks.
type ActualState string

// Actual state values.
const (
	ActualStopped ActualState = "stopped"
	ActualPaused  ActualState = "paused"
	ActualPlaying ActualState = "playing"
)

// DeriveActualState computes the observed state from the two engine
// flags: an idle engine is stopped regardless of the pause flag.
func DeriveActualState(idle, paused bool) ActualState {
	switch {
	case idle:
		return ActualStopped
	case paused:
		return ActualPaused
	default:
		return ActualPlaying
	}
}

// Track describes a playable track as returned by the catalog service.
// Tracks are never mutated locally, only held as "currently loaded".
type Track struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	StreamURL       string  `json:"stream_url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Health values reported in the status snapshot.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Status is the point-in-time snapshot published to the shared store
// once per tick. It is recomputed and overwritten wholesale; no history
// is kept.
type Status struct {
	Timestamp    time.Time
	DesiredState DesiredState
	ActualState  ActualState
	IdleActive   bool
	Paused       bool
	Elapsed      float64
	Duration     float64
	Volume       int
	Track        *Track
	ErrorMessage string
}

// Remaining returns the seconds left in the current track, never negative.
func (s Status) Remaining() float64 {
	rem := s.Duration - s.Elapsed
	if rem < 0 {
		return 0
	}
	return rem
}

// ProgressPercent returns playback progress as a percentage (0 when the
// duration is unknown).
func (s Status) ProgressPercent() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return s.Elapsed / s.Duration * 100
}

// Health reports healthy unless the snapshot carries an error message.
func (s Status) Health() string {
	if s.ErrorMessage != "" {
		return HealthDegraded
	}
	return HealthHealthy
}

// Fields flattens the snapshot into the scalar fields of the shared
// status hash. Field names are part of the store schema consumed by the
// web UI and must stay stable.
func (s Status) Fields() map[string]string {
	track := s.Track
	if track == nil {
		track = &Track{}
	}

	songID := ""
	if track.ID != 0 {
		songID = fmt.Sprintf("%d", track.ID)
	}

	return map[string]string{
		"timestamp_unix":    fmt.Sprintf("%.3f", float64(s.Timestamp.UnixMilli())/1000),
		"timestamp_iso":     s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		"desired_state":     string(s.DesiredState),
		"actual_state":      string(s.ActualState),
		"idle_active":       fmt.Sprintf("%t", s.IdleActive),
		"paused":            fmt.Sprintf("%t", s.Paused),
		"elapsed_seconds":   fmt.Sprintf("%.3f", s.Elapsed),
		"duration_seconds":  fmt.Sprintf("%.3f", s.Duration),
		"remaining_seconds": fmt.Sprintf("%.3f", s.Remaining()),
		"progress_percent":  fmt.Sprintf("%.1f", s.ProgressPercent()),
		"volume":            fmt.Sprintf("%d", s.Volume),
		"song_id":           songID,
		"song_title":        track.Title,
		"song_artist":       track.Artist,
		"song_album":        track.Album,
		"song_stream_url":   track.StreamURL,
		"error_message":     s.ErrorMessage,
		"health":            s.Health(),
	}
}
