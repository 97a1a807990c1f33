package websocket

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/voicepipe/server/domain"
	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/domain/repositories"
	"github.com/voicepipe/server/internal/config"
	"github.com/voicepipe/server/internal/metrics"
	"github.com/voicepipe/server/internal/session"
	"github.com/voicepipe/server/usecase"
)

// mockSTTStream emits one scripted partial per Stream call.
type mockSTTStream struct {
	mu          sync.Mutex
	transcripts []string
	next        int
	results     chan repositories.PartialTranscript
	closed      bool
}

func (m *mockSTTStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next < len(m.transcripts) {
		m.results <- repositories.PartialTranscript{Text: m.transcripts[m.next]}
		m.next++
	}
	return nil
}

func (m *mockSTTStream) Results() <-chan repositories.PartialTranscript {
	return m.results
}

func (m *mockSTTStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.results)
	}
	return nil
}

// ctxSTTStream fails Stream once the context it was opened with is
// cancelled, the way a gRPC streaming call does.
type ctxSTTStream struct {
	ctx        context.Context
	transcript string
	results    chan repositories.PartialTranscript
	closeOnce  sync.Once
}

func (s *ctxSTTStream) Stream(data []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	select {
	case s.results <- repositories.PartialTranscript{Text: s.transcript}:
	default:
	}
	return nil
}

func (s *ctxSTTStream) Results() <-chan repositories.PartialTranscript {
	return s.results
}

func (s *ctxSTTStream) Close() error {
	s.closeOnce.Do(func() { close(s.results) })
	return nil
}

// ctxBoundSTT hands out streams bound to the context passed to
// InitTranscribeStreaming.
type ctxBoundSTT struct {
	transcript string
}

func (m *ctxBoundSTT) TranscribeAudio(ctx context.Context, audioData []byte, cfg repositories.AudioConfig) (repositories.Transcription, error) {
	return repositories.Transcription{Text: m.transcript, Confidence: 0.9}, nil
}

func (m *ctxBoundSTT) InitTranscribeStreaming(ctx context.Context, cfg repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	return &ctxSTTStream{
		ctx:        ctx,
		transcript: m.transcript,
		results:    make(chan repositories.PartialTranscript, 16),
	}, nil
}

type mockSTT struct {
	transcript string
	partials   []string
}

func (m *mockSTT) TranscribeAudio(ctx context.Context, audioData []byte, cfg repositories.AudioConfig) (repositories.Transcription, error) {
	return repositories.Transcription{Text: m.transcript, Confidence: 0.9}, nil
}

func (m *mockSTT) InitTranscribeStreaming(ctx context.Context, cfg repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	return &mockSTTStream{
		transcripts: m.partials,
		results:     make(chan repositories.PartialTranscript, 16),
	}, nil
}

type mockLLM struct{ reply string }

func (m *mockLLM) GenerateReply(ctx context.Context, history []entities.Message) (string, error) {
	return m.reply, nil
}

func (m *mockLLM) GenerateReplyStream(ctx context.Context, history []entities.Message) (<-chan string, error) {
	out := make(chan string, 1)
	out <- m.reply
	close(out)
	return out, nil
}

type mockTTS struct{ audio []byte }

func (m *mockTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	if len(m.audio) > 0 {
		out <- m.audio
	}
	close(out)
	return out, nil
}

func (m *mockTTS) GenerateSpeechURL(ctx context.Context, text string) (string, error) {
	return "https://cdn.example.com/audio.mp3", nil
}

// gatedCore drops log writes once the test is over so the hub goroutine,
// which outlives the connections it serves, cannot log through zaptest
// after the test has completed.
type gatedCore struct {
	zapcore.Core
	done *atomic.Bool
}

func (c gatedCore) With(fields []zapcore.Field) zapcore.Core {
	return gatedCore{Core: c.Core.With(fields), done: c.done}
}

func (c gatedCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && !c.done.Load() {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c gatedCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.done.Load() {
		return nil
	}
	return c.Core.Write(ent, fields)
}

func newTestServer(t *testing.T, stt repositories.SpeechToText, silenceWindow time.Duration) (*httptest.Server, *session.Store) {
	t.Helper()

	done := &atomic.Bool{}
	t.Cleanup(func() { done.Store(true) })
	logger := zaptest.NewLogger(t).WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return gatedCore{Core: core, done: done}
	}))
	m := metrics.New(prometheus.NewRegistry())
	store := session.NewStore(time.Hour, m, logger)
	orch := usecase.NewOrchestrator(&mockLLM{reply: "Hi there"}, &mockTTS{audio: []byte("pcm-bytes")}, 5*time.Second, m, logger)

	cfg := &config.Config{
		SampleRate:     16000,
		Encoding:       "WEBM_OPUS",
		Language:       "en-US",
		SilenceWindow:  silenceWindow,
		ServiceTimeout: 5 * time.Second,
	}

	hub := NewHub(stt, orch, store, cfg, m, logger)
	go hub.Run()

	e := echo.New()
	e.GET("/ws/audio", func(c echo.Context) error { return ServeAudio(hub, c) })
	e.GET("/ws/turn-detection", func(c echo.Context) error { return ServeTurnDetection(hub, c) })

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, store
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collect reads frames until a conversation_complete arrives or the
// deadline passes.
func collect(t *testing.T, conn *websocket.Conn, deadline time.Duration) []domain.Outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(deadline))

	var messages []domain.Outbound
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read before conversation_complete: %v (got %d messages)", err, len(messages))
		}
		msg, err := domain.DecodeOutbound(frame)
		if err != nil {
			t.Fatalf("undecodable server frame %q: %v", frame, err)
		}
		messages = append(messages, msg)
		if _, ok := msg.(*domain.ConversationCompleteMessage); ok {
			return messages
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := domain.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestTurnDetectionChannel_SilenceFinalizesTurn(t *testing.T) {
	stt := &mockSTT{partials: []string{"hel", "hello", "hello there"}}
	server, _ := newTestServer(t, stt, 150*time.Millisecond)

	conn := dial(t, server, "/ws/turn-detection?session_id=turn-sess")
	sendJSON(t, conn, domain.StartMessage{Type: domain.MessageTypeStart})

	audio := base64.StdEncoding.EncodeToString([]byte("audio-fragment"))
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(audio)); err != nil {
			t.Fatalf("write audio: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	messages := collect(t, conn, 5*time.Second)

	var updates []*domain.TranscriptionUpdateMessage
	var turnEnd *domain.TurnEndMessage
	var llmChunks, audioChunks int
	for _, msg := range messages {
		switch m := msg.(type) {
		case *domain.TranscriptionUpdateMessage:
			updates = append(updates, m)
		case *domain.TurnEndMessage:
			turnEnd = m
		case *domain.LLMStreamChunkMessage:
			llmChunks++
		case *domain.AudioChunkMessage:
			audioChunks++
		case *domain.AudioFallbackMessage:
			t.Errorf("unexpected fallback %+v", m)
		}
	}

	if len(updates) == 0 {
		t.Fatal("expected transcription updates before the boundary")
	}
	if updates[len(updates)-1].Transcript != "hello there" {
		t.Errorf("last update should carry the cumulative transcript, got %q",
			updates[len(updates)-1].Transcript)
	}
	if turnEnd == nil {
		t.Fatal("expected a turn_end after the silence window")
	}
	if turnEnd.Transcript != "hello there" {
		t.Errorf("turn_end transcript = %q, want the last partial", turnEnd.Transcript)
	}
	if llmChunks == 0 {
		t.Error("expected llm_stream_chunk messages after the boundary")
	}
	if audioChunks == 0 {
		t.Error("expected audio_chunk messages after the boundary")
	}
}

func TestTurnDetectionChannel_StreamSurvivesPastStart(t *testing.T) {
	stt := &ctxBoundSTT{transcript: "still listening"}
	server, _ := newTestServer(t, stt, 150*time.Millisecond)

	conn := dial(t, server, "/ws/turn-detection?session_id=long-sess")
	sendJSON(t, conn, domain.StartMessage{Type: domain.MessageTypeStart})

	// Audio arrives well after handleStart has returned; the recognition
	// stream must still accept it.
	time.Sleep(50 * time.Millisecond)
	audio := base64.StdEncoding.EncodeToString([]byte("audio-fragment"))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(audio)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	messages := collect(t, conn, 5*time.Second)

	var ack *domain.ChunkReceivedMessage
	var turnEnd *domain.TurnEndMessage
	for _, msg := range messages {
		switch m := msg.(type) {
		case *domain.ChunkReceivedMessage:
			ack = m
		case *domain.TurnEndMessage:
			turnEnd = m
		case *domain.AudioFallbackMessage:
			t.Fatalf("audio after start must stream, not fall back: %+v", m)
		}
	}
	if ack == nil {
		t.Fatal("expected a chunk_received ack for the late audio")
	}
	if turnEnd == nil || turnEnd.Transcript != "still listening" {
		t.Errorf("bad turn_end %+v", turnEnd)
	}
}

func TestTurnDetectionChannel_StopFinalizesImmediately(t *testing.T) {
	stt := &mockSTT{partials: []string{"quick question"}}
	// Long window: only the explicit stop can finalize within the test.
	server, _ := newTestServer(t, stt, time.Hour)

	conn := dial(t, server, "/ws/turn-detection?session_id=stop-sess")
	sendJSON(t, conn, domain.StartMessage{Type: domain.MessageTypeStart})

	audio := base64.StdEncoding.EncodeToString([]byte("audio-fragment"))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(audio)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	// Let the partial propagate through the recognition goroutine.
	time.Sleep(100 * time.Millisecond)
	sendJSON(t, conn, domain.StopMessage{Type: domain.MessageTypeStop})

	messages := collect(t, conn, 5*time.Second)

	var turnEnd *domain.TurnEndMessage
	for _, msg := range messages {
		if m, ok := msg.(*domain.TurnEndMessage); ok {
			turnEnd = m
		}
	}
	if turnEnd == nil {
		t.Fatal("stop must finalize the open turn")
	}
	if turnEnd.Transcript != "quick question" {
		t.Errorf("turn_end transcript = %q", turnEnd.Transcript)
	}
}

func TestBatchChannel_StopTriggersPipeline(t *testing.T) {
	stt := &mockSTT{transcript: "what is the weather"}
	server, store := newTestServer(t, stt, time.Second)

	conn := dial(t, server, "/ws/audio?session_id=batch-sess")
	sendJSON(t, conn, domain.StartMessage{Type: domain.MessageTypeStart})

	audio := base64.StdEncoding.EncodeToString([]byte("buffered-audio"))
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(audio)); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	sendJSON(t, conn, domain.StopMessage{Type: domain.MessageTypeStop})

	messages := collect(t, conn, 5*time.Second)

	var acks int
	var turnEnd *domain.TurnEndMessage
	var complete *domain.ConversationCompleteMessage
	for _, msg := range messages {
		switch m := msg.(type) {
		case *domain.ChunkReceivedMessage:
			acks++
		case *domain.TurnEndMessage:
			turnEnd = m
		case *domain.ConversationCompleteMessage:
			complete = m
		}
	}

	if acks != 2 {
		t.Errorf("expected 2 chunk acks, got %d", acks)
	}
	if turnEnd == nil || turnEnd.Transcript != "what is the weather" {
		t.Errorf("bad turn_end %+v", turnEnd)
	}
	if complete == nil || !complete.AudioGenerated {
		t.Errorf("bad completion %+v", complete)
	}

	sess := store.Get("batch-sess")
	if sess == nil {
		t.Fatal("session must exist after the turn")
	}
	if sess.MessageCount() != 2 {
		t.Errorf("expected 2 history entries, got %d", sess.MessageCount())
	}
}

func TestUnknownFramesAreDropped(t *testing.T) {
	stt := &mockSTT{transcript: "hello"}
	server, _ := newTestServer(t, stt, time.Second)

	conn := dial(t, server, "/ws/audio")

	// Unknown structured type and garbage both get dropped without
	// killing the connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("!!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	sendJSON(t, conn, domain.PingMessage{Type: domain.MessageTypePing})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection died after bad frames: %v", err)
		}
		msg, err := domain.DecodeOutbound(frame)
		if err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		if _, ok := msg.(*domain.PongMessage); ok {
			return
		}
	}
}
