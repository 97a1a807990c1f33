package repositories

import "context"

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcription is the result of recognizing one complete utterance.
type Transcription struct {
	Text       string
	Confidence float64
}

// PartialTranscript is an incremental recognition event. Text is the
// current best transcript for the whole in-progress utterance (cumulative,
// not a delta); Final marks the recognizer's last word on that utterance.
type PartialTranscript struct {
	Text  string
	Final bool
}

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts a complete audio payload to text.
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (Transcription, error)
	// InitTranscribeStreaming opens a streaming recognition session that
	// emits partial transcripts as audio is fed in.
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// SpeechToTextStreaming is one live recognition stream. Results must be
// drained by the caller; Close releases the stream and its client.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	Results() <-chan PartialTranscript
	Close() error
}
