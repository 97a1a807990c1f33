package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/domain/repositories"
	"github.com/voicepipe/server/internal/config"
	"github.com/voicepipe/server/internal/metrics"
	"github.com/voicepipe/server/internal/session"
	"github.com/voicepipe/server/internal/websocket"
	"github.com/voicepipe/server/usecase"
)

// Handler bundles the dependencies the REST surface dispatches into.
type Handler struct {
	hub          *websocket.Hub
	sessions     *session.Store
	stt          repositories.SpeechToText
	tts          repositories.TextToSpeech
	orchestrator *usecase.Orchestrator
	cfg          *config.Config
	logger       *zap.Logger
}

func NewHandler(
	hub *websocket.Hub,
	sessions *session.Store,
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	orchestrator *usecase.Orchestrator,
	cfg *config.Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		hub:          hub,
		sessions:     sessions,
		stt:          stt,
		tts:          tts,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logger,
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			method := c.Request().Method
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
			m.HTTPDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, h *Handler, gatherer prometheus.Gatherer) {
	e.GET("/api/health", h.health)

	agent := e.Group("/api/agent/chat")
	agent.POST("/:session_id", h.agentChat)
	agent.GET("/:session_id/history", h.history)
	agent.DELETE("/:session_id/clear", h.clear)

	e.POST("/api/tts", h.generateSpeech)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// WebSocket endpoints
	e.GET("/ws/audio", func(c echo.Context) error {
		return websocket.ServeAudio(h.hub, c)
	})
	e.GET("/ws/turn-detection", func(c echo.Context) error {
		return websocket.ServeTurnDetection(h.hub, c)
	})
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "voicepipe-server",
		Timestamp: time.Now(),
		APIs:      h.cfg.APIStatus(),
	})
}

// agentChat runs one full voice exchange: uploaded audio in, transcript
// plus reply plus hosted audio URL out. Stage failures degrade into a
// fallback response rather than an HTTP error.
func (h *Handler) agentChat(c echo.Context) error {
	sessionID := c.Param("session_id")
	sess := h.sessions.GetOrCreate(sessionID)

	file, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_audio",
			Message: "An audio file upload named 'audio' is required",
		})
	}

	src, err := file.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded audio", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "upload_read_failed",
			Message: "Could not read the uploaded audio",
		})
	}
	defer src.Close()

	audio, err := io.ReadAll(src)
	if err != nil {
		h.logger.Error("Failed to read uploaded audio", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "upload_read_failed",
			Message: "Could not read the uploaded audio",
		})
	}

	ctx := c.Request().Context()
	transcription, err := h.stt.TranscribeAudio(ctx, audio, repositories.AudioConfig{
		SampleRate: h.cfg.SampleRate,
		Encoding:   h.cfg.Encoding,
		Language:   h.cfg.Language,
	})
	if err != nil {
		h.logger.Error("Transcription failed",
			zap.String("sessionID", sess.ID),
			zap.Error(err))
		return c.JSON(http.StatusOK, AgentChatResponse{
			Success:           false,
			SessionID:         sess.ID,
			AssistantResponse: entities.FallbackText(entities.ErrorKindSTT),
			FallbackText:      entities.FallbackText(entities.ErrorKindSTT),
			MessageCount:      sess.MessageCount(),
			IsFallback:        true,
			ErrorType:         string(entities.ErrorKindSTT),
		})
	}

	result := h.orchestrator.RespondOnce(ctx, sess, transcription.Text)

	response := AgentChatResponse{
		Success:           !result.IsFallback,
		SessionID:         sess.ID,
		UserMessage:       result.UserMessage,
		AssistantResponse: result.AssistantResponse,
		AudioURL:          result.AudioURL,
		MessageCount:      result.MessageCount,
		IsFallback:        result.IsFallback,
		ErrorType:         string(result.ErrorKind),
	}
	if result.IsFallback {
		response.FallbackText = result.AssistantResponse
	}

	return c.JSON(http.StatusOK, response)
}

func (h *Handler) history(c echo.Context) error {
	sessionID := c.Param("session_id")
	sess := h.sessions.Get(sessionID)
	if sess == nil {
		return c.JSON(http.StatusOK, HistoryResponse{
			SessionID: sessionID,
			Messages:  []HistoryMessage{},
		})
	}

	history := sess.History()
	messages := make([]HistoryMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, HistoryMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		SessionID:    sessionID,
		Messages:     messages,
		MessageCount: len(messages),
	})
}

// clear resets a session's history. Clearing a session that does not
// exist succeeds with the same response.
func (h *Handler) clear(c echo.Context) error {
	sessionID := c.Param("session_id")
	h.sessions.Clear(sessionID)

	return c.JSON(http.StatusOK, ClearResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "Conversation history cleared",
	})
}

func (h *Handler) generateSpeech(c echo.Context) error {
	var req TTSRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_text",
			Message: "Text is required",
		})
	}

	audioURL, err := h.tts.GenerateSpeechURL(c.Request().Context(), req.Text)
	if err != nil {
		h.logger.Error("Speech synthesis failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "synthesis_failed",
			Message: "Could not synthesize speech",
		})
	}

	return c.JSON(http.StatusOK, TTSResponse{
		Success:  true,
		AudioURL: audioURL,
	})
}
