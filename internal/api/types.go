package api

import "time"

// HealthResponse reports service liveness and per-vendor key status.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	APIs      map[string]string `json:"apis"`
}

// AgentChatResponse is the result of one voice exchange on the REST path.
type AgentChatResponse struct {
	Success           bool   `json:"success"`
	SessionID         string `json:"session_id"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
	AudioURL          string `json:"audio_url,omitempty"`
	FallbackText      string `json:"fallback_text,omitempty"`
	MessageCount      int    `json:"message_count"`
	IsFallback        bool   `json:"is_fallback"`
	ErrorType         string `json:"error_type,omitempty"`
}

// HistoryMessage is one entry of a session transcript.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse carries a session's conversation history.
type HistoryResponse struct {
	SessionID    string           `json:"session_id"`
	Messages     []HistoryMessage `json:"messages"`
	MessageCount int              `json:"message_count"`
}

// ClearResponse acknowledges a history reset.
type ClearResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// TTSRequest asks for standalone speech synthesis.
type TTSRequest struct {
	Text    string `json:"text" validate:"required"`
	VoiceID string `json:"voice_id,omitempty"`
}

// TTSResponse carries the hosted audio for a synthesis request.
type TTSResponse struct {
	Success  bool   `json:"success"`
	AudioURL string `json:"audio_url"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
