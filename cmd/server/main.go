package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voicepipe/server/adapters/llm"
	"github.com/voicepipe/server/adapters/stt"
	"github.com/voicepipe/server/adapters/tts"
	"github.com/voicepipe/server/internal/api"
	"github.com/voicepipe/server/internal/config"
	"github.com/voicepipe/server/internal/metrics"
	"github.com/voicepipe/server/internal/session"
	"github.com/voicepipe/server/internal/websocket"
	"github.com/voicepipe/server/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// Missing credentials degrade to fallbacks, not a crash.
		logger.Warn("Configuration incomplete", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	e.Use(api.MetricsMiddleware(m))

	// Initialize adapters
	speechToText := stt.NewGoogleSpeechToText(logger)

	languageModel, err := llm.NewGeminiLLM(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM client", zap.Error(err))
	}

	textToSpeech, err := tts.NewMurfTTS(tts.MurfConfig{
		APIKey:  cfg.MurfAPIKey,
		VoiceID: cfg.MurfVoiceID,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize TTS client", zap.Error(err))
	}

	// Session registry with idle expiry
	sessions := session.NewStore(cfg.SessionTTL, m, logger)
	sessions.StartJanitor()
	defer sessions.StopJanitor()

	orchestrator := usecase.NewOrchestrator(languageModel, textToSpeech, cfg.ServiceTimeout, m, logger)

	// Initialize WebSocket hub
	hub := websocket.NewHub(speechToText, orchestrator, sessions, cfg, m, logger)
	go hub.Run()

	// Initialize API routes
	handler := api.NewHandler(hub, sessions, speechToText, textToSpeech, orchestrator, cfg, logger)
	api.InitRoutes(e, handler, registry)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
