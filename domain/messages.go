package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voicepipe/server/domain/entities"
)

// MessageType defines the type of a structured transport message.
type MessageType string

// The closed set of message kinds carried over the chunk transport.
// Client to server:
const (
	MessageTypeStart MessageType = "start"
	MessageTypeStop  MessageType = "stop"
	MessageTypePing  MessageType = "ping"
)

// Server to client:
const (
	MessageTypeStatus               MessageType = "status"
	MessageTypePong                 MessageType = "pong"
	MessageTypeChunkReceived        MessageType = "chunk_received"
	MessageTypeTranscriptionUpdate  MessageType = "transcription_update"
	MessageTypeTurnEnd              MessageType = "turn_end"
	MessageTypeLLMStreamChunk       MessageType = "llm_stream_chunk"
	MessageTypeAudioChunk           MessageType = "audio_chunk"
	MessageTypeConversationComplete MessageType = "conversation_complete"
	MessageTypeAudioFallback        MessageType = "audio_fallback"
	MessageTypeError                MessageType = "error"
)

// Inbound is the tagged union of messages a client sends to the server.
type Inbound interface{ inbound() }

// Outbound is the tagged union of messages the server sends to a client.
type Outbound interface{ outbound() }

// StartMessage opens a recording session on a transport channel.
type StartMessage struct {
	Type       MessageType `json:"type"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Encoding   string      `json:"encoding,omitempty"`
	Language   string      `json:"language,omitempty"`
}

// StopMessage ends recording; on the turn channel it forces immediate
// finalization of the open turn.
type StopMessage struct {
	Type MessageType `json:"type"`
}

// PingMessage is a keep-alive probe.
type PingMessage struct {
	Type MessageType `json:"type"`
}

// AudioPayload is a decoded inbound audio fragment. It is not a JSON
// message: it arrives either as a binary frame or as bare base64 text.
type AudioPayload struct {
	Data []byte
}

func (StartMessage) inbound() {}
func (StopMessage) inbound()  {}
func (PingMessage) inbound()  {}
func (AudioPayload) inbound() {}

// StatusMessage reports transport-level state changes.
type StatusMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type MessageType `json:"type"`
}

// ChunkReceivedMessage acknowledges an inbound audio fragment.
type ChunkReceivedMessage struct {
	Type      MessageType `json:"type"`
	ChunkSize int         `json:"chunk_size"`
	TotalSize int         `json:"total_size"`
}

// TranscriptionUpdateMessage carries the current best transcript of the
// in-progress utterance. Transcripts are cumulative, not deltas.
type TranscriptionUpdateMessage struct {
	Type       MessageType `json:"type"`
	Transcript string      `json:"transcript"`
	SessionID  string      `json:"session_id"`
	Timestamp  int64       `json:"timestamp"`
	IsSpeaking bool        `json:"is_speaking"`
}

// TurnEndMessage signals a finalized turn boundary.
type TurnEndMessage struct {
	Type       MessageType `json:"type"`
	Transcript string      `json:"transcript"`
	SessionID  string      `json:"session_id"`
	Timestamp  int64       `json:"timestamp"`
}

// LLMStreamChunkMessage carries one fragment of the generated reply. The
// terminal chunk has IsComplete set, an empty Chunk, and the assembled
// FullResponse.
type LLMStreamChunkMessage struct {
	Type         MessageType `json:"type"`
	Chunk        string      `json:"chunk"`
	IsComplete   bool        `json:"is_complete"`
	FullResponse string      `json:"full_response,omitempty"`
	SessionID    string      `json:"session_id"`
	MessageCount int         `json:"message_count,omitempty"`
}

// AudioChunkMessage carries one indexed fragment of synthesized audio,
// base64 encoded. TotalChunks is provisional (zero) until the terminal
// chunk, which carries the real count, an empty Chunk and IsComplete.
type AudioChunkMessage struct {
	Type        MessageType `json:"type"`
	Chunk       string      `json:"chunk"`
	ChunkIndex  int         `json:"chunk_index"`
	TotalChunks int         `json:"total_chunks"`
	IsComplete  bool        `json:"is_complete"`
	Text        string      `json:"text,omitempty"`
	SessionID   string      `json:"session_id"`
}

// ConversationCompleteMessage closes a turn on the wire.
type ConversationCompleteMessage struct {
	Type              MessageType `json:"type"`
	UserMessage       string      `json:"user_message"`
	AssistantResponse string      `json:"assistant_response"`
	SessionID         string      `json:"session_id"`
	MessageCount      int         `json:"message_count"`
	AudioGenerated    bool        `json:"audio_generated"`
}

// AudioFallbackMessage is a degraded text-only reply emitted when a
// pipeline stage fails.
type AudioFallbackMessage struct {
	Type         MessageType        `json:"type"`
	ErrorKind    entities.ErrorKind `json:"error_type"`
	FallbackText string             `json:"fallback_text"`
	SessionID    string             `json:"session_id"`
}

// ErrorMessage reports a transport-level problem.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (StatusMessage) outbound()               {}
func (PongMessage) outbound()                 {}
func (ChunkReceivedMessage) outbound()        {}
func (TranscriptionUpdateMessage) outbound()  {}
func (TurnEndMessage) outbound()              {}
func (LLMStreamChunkMessage) outbound()       {}
func (AudioChunkMessage) outbound()           {}
func (ConversationCompleteMessage) outbound() {}
func (AudioFallbackMessage) outbound()        {}
func (ErrorMessage) outbound()                {}

type envelope struct {
	Type MessageType `json:"type"`
}

// ErrUnknownMessageType is returned for a structured message whose type is
// outside the closed set. Callers log and drop; it is never fatal.
type ErrUnknownMessageType struct {
	Type MessageType
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type: %q", e.Type)
}

// DecodeInbound parses one text frame from a client. Valid JSON with a
// known type decodes to that message; text that is not JSON is treated as
// bare base64 audio.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		payload, b64Err := decodeBase64Audio(data)
		if b64Err != nil {
			return nil, fmt.Errorf("frame is neither a control message nor base64 audio: %w", b64Err)
		}
		return AudioPayload{Data: payload}, nil
	}

	switch env.Type {
	case MessageTypeStart:
		var msg StartMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid start message: %w", err)
		}
		return msg, nil
	case MessageTypeStop:
		return StopMessage{Type: MessageTypeStop}, nil
	case MessageTypePing:
		return PingMessage{Type: MessageTypePing}, nil
	default:
		return nil, &ErrUnknownMessageType{Type: env.Type}
	}
}

// DecodeOutbound parses one text frame from the server.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid server frame: %w", err)
	}

	decode := func(v Outbound) (Outbound, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("invalid %s message: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case MessageTypeStatus:
		return decode(&StatusMessage{})
	case MessageTypePong:
		return decode(&PongMessage{})
	case MessageTypeChunkReceived:
		return decode(&ChunkReceivedMessage{})
	case MessageTypeTranscriptionUpdate:
		return decode(&TranscriptionUpdateMessage{})
	case MessageTypeTurnEnd:
		return decode(&TurnEndMessage{})
	case MessageTypeLLMStreamChunk:
		return decode(&LLMStreamChunkMessage{})
	case MessageTypeAudioChunk:
		return decode(&AudioChunkMessage{})
	case MessageTypeConversationComplete:
		return decode(&ConversationCompleteMessage{})
	case MessageTypeAudioFallback:
		return decode(&AudioFallbackMessage{})
	case MessageTypeError:
		return decode(&ErrorMessage{})
	default:
		return nil, &ErrUnknownMessageType{Type: env.Type}
	}
}

// Encode marshals a message for the wire.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeBase64Audio(data []byte) ([]byte, error) {
	text := strings.TrimSpace(string(data))
	if len(text) < 4 {
		return nil, fmt.Errorf("payload too short for audio")
	}
	return base64.StdEncoding.DecodeString(text)
}
