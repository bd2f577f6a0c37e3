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
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/gateway"
	"github.com/buzzboard/buzzboard/internal/natsconfig"
	"github.com/buzzboard/buzzboard/internal/roomsync"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	addr := fmt.Sprintf(":%s", getEnv("GATEWAY_PORT", "8081"))
	joinBaseURL := getEnv("JOIN_BASE_URL", "http://localhost:5173/join")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncCfg := natsconfig.NewConfigFromEnv()
	sync, err := roomsync.Connect(ctx, syncCfg)
	if err != nil {
		log.Fatal().Err(err).Str("url", syncCfg.URL).Msg("failed to connect to NATS")
	}
	defer sync.Close()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	svc, err := gateway.NewService(cm, sync, clockwork.NewRealClock())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway service")
	}

	go func() {
		if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("gateway event consumer failed")
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/room", svc.HandleRoomConnection)
	mux.Handle("/qr", gateway.NewQRHandler(joinBaseURL))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats := cm.Stats()
		fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d}`,
			stats["total_connections"], stats["active_rooms"])
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("nats_url", syncCfg.URL).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server failed")
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
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
	cancel()

	log.Info().Msg("gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
