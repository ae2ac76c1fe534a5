// Package store adapts the shared Redis store: the command inbox, the
// desired-state and current-track cells and the status hash.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/jukeboxd/internal/player"
)

// Redis keys shared with the catalog service and the web UI.
const (
	KeyCommands     = "jukebox:commands"
	KeyStatus       = "jukebox:player_status"
	KeyCurrentSong  = "jukebox:current_song"
	KeyDesiredState = "jukebox:desired_state"
	KeyVolume       = "jukebox:current_volume"
)

// drainLimit bounds one tick's inbox drain so a producer flooding the
// list cannot stall the loop.
const drainLimit = 256

// Config holds the Redis connection parameters.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Store is the Redis-backed shared store adapter.
type Store struct {
	client *redis.Client
}

// Connect creates the client and verifies the connection with bounded
// retries. The store being unreachable at startup is fatal to the
// caller, so this fails rather than degrading.
func Connect(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	attempts := 5
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()

		if lastErr == nil {
			log.Info().Str("addr", client.Options().Addr).Int("db", cfg.DB).Msg("Connected to Redis")
			return &Store{client: client}, nil
		}
		if attempt < attempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis unavailable: %w", lastErr)
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// DrainCommands pops every pending command record, oldest first. Each
// record is removed exactly once; a failing pop mid-drain returns the
// records read so far along with the error.
func (s *Store) DrainCommands(ctx context.Context) ([]string, error) {
	var cmds []string
	for len(cmds) < drainLimit {
		raw, err := s.client.LPop(ctx, KeyCommands).Result()
		if errors.Is(err, redis.Nil) {
			return cmds, nil
		}
		if err != nil {
			return cmds, fmt.Errorf("popping command inbox: %w", err)
		}
		cmds = append(cmds, raw)
	}

	log.Warn().Int("drained", len(cmds)).Msg("Command inbox drain limit hit, deferring rest to next tick")
	return cmds, nil
}

// DesiredState reads the persisted playback intent. A missing or
// unrecognized value reads as stopped.
func (s *Store) DesiredState(ctx context.Context) (player.DesiredState, error) {
	val, err := s.client.Get(ctx, KeyDesiredState).Result()
	if errors.Is(err, redis.Nil) {
		return player.DesiredStopped, nil
	}
	if err != nil {
		return player.DesiredStopped, fmt.Errorf("reading desired state: %w", err)
	}
	return player.ParseDesiredState(val), nil
}

// SetDesiredState persists the playback intent.
func (s *Store) SetDesiredState(ctx context.Context, state player.DesiredState) error {
	if err := s.client.Set(ctx, KeyDesiredState, string(state), 0).Err(); err != nil {
		return fmt.Errorf("writing desired state: %w", err)
	}
	return nil
}

// Volume reads the persisted volume.
func (s *Store) Volume(ctx context.Context) (int, error) {
	val, err := s.client.Get(ctx, KeyVolume).Result()
	if err != nil {
		return 0, fmt.Errorf("reading volume: %w", err)
	}
	vol, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("persisted volume %q not a number: %w", val, err)
	}
	return vol, nil
}

// SetVolume persists the volume so a restart resumes it.
func (s *Store) SetVolume(ctx context.Context, vol int) error {
	if err := s.client.Set(ctx, KeyVolume, strconv.Itoa(vol), 0).Err(); err != nil {
		return fmt.Errorf("writing volume: %w", err)
	}
	return nil
}

// SetCurrentTrack publishes the loaded track as JSON.
func (s *Store) SetCurrentTrack(ctx context.Context, t *player.Track) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding current track: %w", err)
	}
	if err := s.client.Set(ctx, KeyCurrentSong, data, 0).Err(); err != nil {
		return fmt.Errorf("writing current track: %w", err)
	}
	return nil
}

// ClearCurrentTrack removes the current-track cell.
func (s *Store) ClearCurrentTrack(ctx context.Context) error {
	if err := s.client.Del(ctx, KeyCurrentSong).Err(); err != nil {
		return fmt.Errorf("clearing current track: %w", err)
	}
	return nil
}

// WriteStatus overwrites the status hash wholesale.
func (s *Store) WriteStatus(ctx context.Context, fields map[string]string) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := s.client.HSet(ctx, KeyStatus, args).Err(); err != nil {
		return fmt.Errorf("writing status hash: %w", err)
	}
	return nil
}
