// Package main is the entry point for the jukeboxd player daemon.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/jukeboxd/config"
	"github.com/edumarques81/jukeboxd/internal/catalog"
	"github.com/edumarques81/jukeboxd/internal/history"
	"github.com/edumarques81/jukeboxd/internal/mpv"
	"github.com/edumarques81/jukeboxd/internal/player"
	"github.com/edumarques81/jukeboxd/internal/store"
	"github.com/edumarques81/jukeboxd/internal/transport/socketio"
	"github.com/edumarques81/jukeboxd/internal/version"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Jukebox Player Control Daemon")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("api", cfg.APIBaseURL).
		Str("mpv_socket", cfg.MPVSocketPath).
		Str("redis", cfg.RedisHost+":"+strconv.Itoa(cfg.RedisPort)).
		Dur("tick", cfg.TickInterval).
		Msg("Configuration")

	// The shared store being unreachable at startup is fatal: a loop
	// that can neither read commands nor publish status is useless.
	st, err := store.Connect(store.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to shared store")
	}
	defer st.Close()

	// restore the persisted volume before spawning the engine so it
	// starts at the right level
	startVolume := cfg.Volume
	if vol, err := st.Volume(context.Background()); err == nil {
		startVolume = player.ClampVolume(vol)
	}

	engine := mpv.NewClient(mpv.Config{
		BinPath:    cfg.MPVBinPath,
		SocketPath: cfg.MPVSocketPath,
		Volume:     startVolume,
		CacheSecs:  cfg.CacheSecs,
	})
	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start playback engine")
	}

	catalogClient := catalog.NewClient(cfg.APIBaseURL)

	// Play history is best-effort: the loop keeps running without it.
	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		log.Warn().Err(err).Msg("Play history unavailable")
		hist = nil
	} else {
		defer hist.Close()
	}

	socketServer, err := socketio.NewServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	reconciler := player.NewReconciler(engine, st, catalogClient, player.Options{
		Tick:          cfg.TickInterval,
		DefaultVolume: startVolume,
		OnStatus:      socketServer.BroadcastStatus,
		OnTrackStart: func(t player.Track) {
			if hist == nil {
				return
			}
			if err := hist.RecordPlay(t.ID, t.Title, t.Artist, t.Album); err != nil {
				log.Warn().Err(err).Msg("Recording play failed")
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler.Init(ctx)

	loopDone := make(chan struct{})
	go func() {
		reconciler.Run(ctx)
		close(loopDone)
	}()

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","store":"disconnected"}`))
			return
		}
		if !engine.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","engine":"down"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","store":"connected","engine":"running"}`))
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	// Play-history ledger
	mux.HandleFunc("/api/v1/history", historyHandler(hist))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	// wait for the loop to observe the cancellation, then silence and
	// release the engine
	<-loopDone
	if err := engine.Stop(); err != nil {
		log.Warn().Err(err).Msg("Final engine stop failed")
	}
	engine.Shutdown()

	log.Info().Msg("Shutdown complete")
}
