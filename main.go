package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/audiostore"
	"github.com/room4-2/tarotobot/cache"
	"github.com/room4-2/tarotobot/config"
	"github.com/room4-2/tarotobot/gemini"
	"github.com/room4-2/tarotobot/llm"
	"github.com/room4-2/tarotobot/logging"
	"github.com/room4-2/tarotobot/server"
	"github.com/room4-2/tarotobot/session"
	"github.com/room4-2/tarotobot/tarot"
	"github.com/room4-2/tarotobot/translate"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional; run in memory when it is absent or unreachable
	rdb, err := cache.Connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, continuing without it")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	if !cfg.Iflytek.Configured() {
		logger.Warn("IFLYTEK_APP_ID / IFLYTEK_API_KEY / IFLYTEK_API_SECRET not set, /ws/asr will reject sessions")
	}

	synthesizer, err := gemini.NewSynthesizer(ctx, cfg.TTS, logging.Component(logger, "tts"))
	if err != nil {
		logger.Fatalf("Failed to create speech synthesizer: %v", err)
	}

	chat := llm.NewClient(cfg.Moonshot, logging.Component(logger, "llm"))
	if !chat.Configured() {
		logger.Warn("MOONSHOT_API_KEY not set, readings are disabled")
	}

	services := server.Services{
		Cards:      tarot.NewClient(cfg.TarotURL),
		Translator: translate.NewClient(cfg.Baidu, logging.Component(logger, "translate")),
		Chat:       chat,
		Speech:     synthesizer,
		Audio:      audiostore.New(rdb, cfg.AudioTTL),
	}

	// Create connection registry
	sessionManager := session.NewManager(rdb, logging.Component(logger, "registry"))
	go sessionManager.StartPresenceRoutine(ctx)

	srv := server.NewServer(cfg, sessionManager, services, logging.Component(logger, "server"))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("server stopped")
}
