package usecase

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicepipe/server/domain"
	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/domain/repositories"
	"github.com/voicepipe/server/internal/metrics"
)

// Emitter delivers outbound messages to a connected client. The websocket
// client's buffered send channel satisfies this.
type Emitter interface {
	Emit(message domain.Outbound) error
}

// Orchestrator runs the voice pipeline for a finalized turn: LLM reply
// generation followed by speech synthesis. Failures at each stage degrade
// to a spoken fallback instead of aborting the conversation.
type Orchestrator struct {
	llm     repositories.LargeLanguageModel
	tts     repositories.TextToSpeech
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
}

// TurnResult summarizes a completed pipeline run for REST callers.
type TurnResult struct {
	UserMessage       string
	AssistantResponse string
	AudioURL          string
	IsFallback        bool
	ErrorKind         entities.ErrorKind
	MessageCount      int
}

func NewOrchestrator(
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		llm:     llm,
		tts:     tts,
		metrics: m,
		logger:  logger,
		timeout: timeout,
	}
}

// HandleTurn appends the transcript to the session history, streams an LLM
// reply to the client, synthesizes it, and streams the audio back as
// indexed chunks. Each stage failure emits an audio_fallback graded by the
// stage that failed; the turn always ends with conversation_complete.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *entities.Session, transcript string, emit Emitter) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// A panic in any stage must not take the connection down with it.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Pipeline panicked",
				zap.String("sessionID", sess.ID),
				zap.Any("panic", r))
			o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindGeneral)).Inc()
			o.emitFallback(sess, entities.ErrorKindGeneral, "", emit)
			o.finish(sess, transcript, "", false, emit)
		}
	}()

	start := time.Now()
	logger := o.logger.With(
		zap.String("sessionID", sess.ID),
		zap.Int("transcriptLength", len(transcript)),
	)
	logger.Info("Handling finalized turn")

	o.metrics.TranscriptLength.Observe(float64(len(transcript)))
	sess.AddMessage(entities.MessageRoleUser, transcript)

	reply, err := o.streamReply(ctx, sess, emit)
	if err != nil || reply == "" {
		logger.Error("LLM reply generation failed", zap.Error(err))
		o.emitFallback(sess, entities.ErrorKindLLM, "", emit)
		o.finish(sess, transcript, "", false, emit)
		return
	}

	sess.AddMessage(entities.MessageRoleAssistant, reply)

	audioGenerated := o.streamSpeech(ctx, sess, reply, emit)
	if !audioGenerated {
		o.emitFallback(sess, entities.ErrorKindTTS, reply, emit)
	}

	o.finish(sess, transcript, reply, audioGenerated, emit)

	o.metrics.TurnsFinalized.Inc()
	o.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	logger.Info("Turn completed",
		zap.Bool("audioGenerated", audioGenerated),
		zap.Duration("elapsed", time.Since(start)))
}

// RespondOnce runs the non-streaming pipeline for the REST chat endpoint:
// one LLM reply plus a hosted audio URL instead of chunked audio.
func (o *Orchestrator) RespondOnce(ctx context.Context, sess *entities.Session, transcript string) TurnResult {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sess.AddMessage(entities.MessageRoleUser, transcript)

	reply, err := o.llm.GenerateReply(ctx, sess.History())
	if err != nil || strings.TrimSpace(reply) == "" {
		o.logger.Error("LLM reply generation failed",
			zap.String("sessionID", sess.ID), zap.Error(err))
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindLLM)).Inc()
		o.metrics.FallbacksEmitted.WithLabelValues(string(entities.ErrorKindLLM)).Inc()
		return TurnResult{
			UserMessage:       transcript,
			AssistantResponse: entities.FallbackText(entities.ErrorKindLLM),
			IsFallback:        true,
			ErrorKind:         entities.ErrorKindLLM,
			MessageCount:      sess.MessageCount(),
		}
	}

	sess.AddMessage(entities.MessageRoleAssistant, reply)

	audioURL, err := o.tts.GenerateSpeechURL(ctx, reply)
	if err != nil {
		o.logger.Error("Speech URL generation failed",
			zap.String("sessionID", sess.ID), zap.Error(err))
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindTTS)).Inc()
		o.metrics.FallbacksEmitted.WithLabelValues(string(entities.ErrorKindTTS)).Inc()
		return TurnResult{
			UserMessage:       transcript,
			AssistantResponse: reply,
			IsFallback:        true,
			ErrorKind:         entities.ErrorKindTTS,
			MessageCount:      sess.MessageCount(),
		}
	}

	return TurnResult{
		UserMessage:       transcript,
		AssistantResponse: reply,
		AudioURL:          audioURL,
		MessageCount:      sess.MessageCount(),
	}
}

// streamReply streams LLM fragments to the client and returns the full
// reply text. An empty stream counts as a failed generation.
func (o *Orchestrator) streamReply(ctx context.Context, sess *entities.Session, emit Emitter) (string, error) {
	fragments, err := o.llm.GenerateReplyStream(ctx, sess.History())
	if err != nil {
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindLLM)).Inc()
		return "", err
	}

	var full strings.Builder
	for fragment := range fragments {
		full.WriteString(fragment)
		if err := emit.Emit(domain.LLMStreamChunkMessage{
			Type:      domain.MessageTypeLLMStreamChunk,
			Chunk:     fragment,
			SessionID: sess.ID,
		}); err != nil {
			return "", err
		}
	}

	reply := strings.TrimSpace(full.String())
	if reply == "" {
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindLLM)).Inc()
		return "", nil
	}

	if err := emit.Emit(domain.LLMStreamChunkMessage{
		Type:         domain.MessageTypeLLMStreamChunk,
		IsComplete:   true,
		FullResponse: reply,
		SessionID:    sess.ID,
		MessageCount: sess.MessageCount() + 1,
	}); err != nil {
		return "", err
	}

	return reply, nil
}

// streamSpeech synthesizes the reply and emits indexed audio_chunk
// messages. Chunks carry a provisional total of zero; the terminal empty
// chunk carries the real count and the completion flag. Returns false when
// no audio was produced.
func (o *Orchestrator) streamSpeech(ctx context.Context, sess *entities.Session, reply string, emit Emitter) bool {
	audioChan, err := o.tts.ConvertTextToSpeech(ctx, reply)
	if err != nil {
		o.logger.Error("Speech synthesis failed",
			zap.String("sessionID", sess.ID), zap.Error(err))
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindTTS)).Inc()
		return false
	}

	index := 0
	for chunk := range audioChan {
		if len(chunk) == 0 {
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(chunk)
		if err := emit.Emit(domain.AudioChunkMessage{
			Type:       domain.MessageTypeAudioChunk,
			Chunk:      encoded,
			ChunkIndex: index,
			Text:       reply,
			SessionID:  sess.ID,
		}); err != nil {
			return false
		}
		o.metrics.AudioChunksSent.Inc()
		o.metrics.AudioChunkBytes.Observe(float64(len(chunk)))
		index++
	}

	if index == 0 {
		o.logger.Warn("Speech synthesis produced no audio",
			zap.String("sessionID", sess.ID))
		o.metrics.StageFailures.WithLabelValues(string(entities.ErrorKindTTS)).Inc()
		return false
	}

	if err := emit.Emit(domain.AudioChunkMessage{
		Type:        domain.MessageTypeAudioChunk,
		ChunkIndex:  index,
		TotalChunks: index,
		IsComplete:  true,
		Text:        reply,
		SessionID:   sess.ID,
	}); err != nil {
		return false
	}

	return true
}

func (o *Orchestrator) emitFallback(sess *entities.Session, kind entities.ErrorKind, fallbackText string, emit Emitter) {
	if fallbackText == "" {
		fallbackText = entities.FallbackText(kind)
	}
	o.metrics.FallbacksEmitted.WithLabelValues(string(kind)).Inc()
	if err := emit.Emit(domain.AudioFallbackMessage{
		Type:         domain.MessageTypeAudioFallback,
		ErrorKind:    kind,
		FallbackText: fallbackText,
		SessionID:    sess.ID,
	}); err != nil {
		o.logger.Warn("Failed to emit fallback", zap.Error(err))
	}
}

func (o *Orchestrator) finish(sess *entities.Session, transcript, reply string, audioGenerated bool, emit Emitter) {
	if err := emit.Emit(domain.ConversationCompleteMessage{
		Type:              domain.MessageTypeConversationComplete,
		UserMessage:       transcript,
		AssistantResponse: reply,
		SessionID:         sess.ID,
		MessageCount:      sess.MessageCount(),
		AudioGenerated:    audioGenerated,
	}); err != nil {
		o.logger.Warn("Failed to emit conversation completion", zap.Error(err))
	}
}
