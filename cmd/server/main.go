package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/adapters/call"
	"github.com/carelink/realtime/internal/adapters/chat"
	"github.com/carelink/realtime/internal/adapters/gateway"
	router "github.com/carelink/realtime/internal/adapters/http"
	"github.com/carelink/realtime/internal/adapters/store"
	"github.com/carelink/realtime/internal/app"
	"github.com/carelink/realtime/internal/auth"
	"github.com/carelink/realtime/internal/config"
	"github.com/carelink/realtime/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Collaborator backends: redis when configured, in-memory otherwise.
	var (
		revocations core.RevocationList
		limiter     core.RateStore
	)
	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		revocations = store.NewRedisRevocations(rdb)
		limiter = store.NewRedisRateStore(rdb, cfg.RateLimit, cfg.RateWindow)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis revocation/rate stores")
	} else {
		revocations = store.NewMemoryRevocations()
		limiter = app.NewWindowLimiter(cfg.RateLimit, cfg.RateWindow)
	}

	verifier := auth.NewVerifier(cfg.Secret, revocations)

	messages := store.NewMemoryMessageStore()
	profiles := store.NewStaticProfiles()
	callLog := store.NopCallLog{}

	chatConns := gateway.NewConnSet()
	callConns := gateway.NewConnSet()

	chatRooms := app.NewRoomMembership()
	callRooms := app.NewRoomMembership()
	chatPresence := app.NewPresenceRegistry(chatConns)
	callPresence := app.NewPresenceRegistry(callConns)

	chatCtl := &chat.Controller{
		Rooms:    chatRooms,
		Presence: chatPresence,
		Limiter:  limiter,
		Store:    messages,
		Profiles: profiles,
	}
	callCtl := call.NewController(callRooms, callPresence, limiter, callLog, profiles, callConns)

	chatEndpoint := gateway.NewEndpoint("chat", verifier, chatConns, chatCtl, cfg.ReadLimit)
	callEndpoint := gateway.NewEndpoint("call", verifier, callConns, callCtl, cfg.ReadLimit)

	r := router.SetupRouter(ctx, cfg, chatEndpoint, callEndpoint)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("realtime gateway started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
