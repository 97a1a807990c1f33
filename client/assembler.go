package client

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicepipe/server/domain"
)

// AssembledAudio is one fully reassembled synthesized response.
type AssembledAudio struct {
	// StreamID identifies the reassembly, generated client-side on the
	// first chunk of a response.
	StreamID string
	Data     []byte
	Text     string
	Chunks   int
}

// Assembler rebuilds synthesized audio from indexed chunk messages. One
// response streams at a time: the first chunk opens a stream, sequential
// chunks append, and the completion chunk flushes the assembled audio to
// the callback and resets for the next response.
//
// Chunks must arrive in index order. A gap or repeat means the transport
// reordered or dropped frames, and the whole stream is discarded rather
// than played corrupted.
type Assembler struct {
	onComplete func(AssembledAudio)
	logger     *zap.Logger

	mu        sync.Mutex
	streamID  string
	buffer    []byte
	nextIndex int
	text      string
}

func NewAssembler(onComplete func(AssembledAudio), logger *zap.Logger) *Assembler {
	return &Assembler{
		onComplete: onComplete,
		logger:     logger,
	}
}

// OnChunk feeds one audio chunk message into the reassembly.
func (a *Assembler) OnChunk(msg *domain.AudioChunkMessage) error {
	a.mu.Lock()

	if a.streamID == "" {
		a.streamID = uuid.New().String()
		a.buffer = nil
		a.nextIndex = 0
	}
	if msg.Text != "" {
		a.text = msg.Text
	}

	if msg.IsComplete {
		assembled := AssembledAudio{
			StreamID: a.streamID,
			Data:     a.buffer,
			Text:     a.text,
			Chunks:   a.nextIndex,
		}
		total := msg.TotalChunks
		a.resetLocked()
		a.mu.Unlock()

		if total != assembled.Chunks {
			a.logger.Warn("Chunk count mismatch on completion",
				zap.Int("received", assembled.Chunks),
				zap.Int("announced", total))
		}
		if len(assembled.Data) == 0 {
			return fmt.Errorf("completed stream %s has no audio", assembled.StreamID)
		}

		a.logger.Info("Audio reassembled",
			zap.String("streamID", assembled.StreamID),
			zap.Int("chunks", assembled.Chunks),
			zap.Int("bytes", len(assembled.Data)))
		if a.onComplete != nil {
			a.onComplete(assembled)
		}
		return nil
	}

	if msg.ChunkIndex != a.nextIndex {
		streamID := a.streamID
		expected := a.nextIndex
		a.resetLocked()
		a.mu.Unlock()
		return fmt.Errorf("stream %s: chunk index %d, expected %d; discarding stream",
			streamID, msg.ChunkIndex, expected)
	}

	decoded, err := base64.StdEncoding.DecodeString(msg.Chunk)
	if err != nil {
		streamID := a.streamID
		a.resetLocked()
		a.mu.Unlock()
		return fmt.Errorf("stream %s: chunk %d is not valid base64: %w",
			streamID, msg.ChunkIndex, err)
	}

	a.buffer = append(a.buffer, decoded...)
	a.nextIndex++
	a.mu.Unlock()
	return nil
}

// Reset discards any partial stream.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

func (a *Assembler) resetLocked() {
	a.streamID = ""
	a.buffer = nil
	a.nextIndex = 0
	a.text = ""
}
