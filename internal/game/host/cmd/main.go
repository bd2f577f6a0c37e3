package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/board"
	"github.com/buzzboard/buzzboard/internal/game"
	"github.com/buzzboard/buzzboard/internal/game/host"
	"github.com/buzzboard/buzzboard/internal/natsconfig"
	"github.com/buzzboard/buzzboard/internal/roomsync"
	"github.com/buzzboard/buzzboard/internal/snapshot"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	boardPath := getEnv("BOARD_FILE", "configs/board.yaml")
	snapshotPath := getEnv("SNAPSHOT_FILE", "buzzboard.db")
	addr := fmt.Sprintf(":%s", getEnv("HOST_PORT", "8080"))

	categories, err := board.LoadFile(boardPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", boardPath).Msg("failed to load board")
	}

	store, err := snapshot.Open(snapshotPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", snapshotPath).Msg("failed to open snapshot store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncCfg := natsconfig.NewConfigFromEnv()
	sync, err := roomsync.Connect(ctx, syncCfg)
	if err != nil {
		log.Fatal().Err(err).Str("url", syncCfg.URL).Msg("failed to connect to NATS")
	}
	defer sync.Close()

	h, resumed, err := host.NewFromSnapshot(categories, game.DefaultConfig(), sync, store, clockwork.NewRealClock())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build host")
	}

	log.Info().
		Str("room", h.RoomCode()).
		Bool("resumed", resumed).
		Str("board", boardPath).
		Str("nats_url", syncCfg.URL).
		Msg("starting trivia host")

	go func() {
		if err := h.Run(ctx); err != nil {
			log.Error().Err(err).Msg("host loop failed")
			cancel()
		}
	}()

	server := &http.Server{
		Addr:         addr,
		Handler:      host.NewAPI(h).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("control API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control API server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API shutdown failed")
	}
	cancel()

	log.Info().Msg("trivia host shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
