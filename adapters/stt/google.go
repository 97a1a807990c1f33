package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/voicepipe/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud.
type GoogleSpeechToText struct {
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a Google Cloud STT adapter. Credentials
// come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// InitTranscribeStreaming opens a streaming recognition session. Interim
// results are enabled: each result carries the current best transcript of
// the whole in-progress utterance, which is what the turn detector's
// replacement semantics rely on.
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleSpeechToTextStream{
		client:  client,
		stream:  stream,
		logger:  g.logger,
		results: make(chan repositories.PartialTranscript, 16),
	}
	go s.receiveResults()

	return s, nil
}

type googleSpeechToTextStream struct {
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	logger  *zap.Logger
	results chan repositories.PartialTranscript
}

func (s *googleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (s *googleSpeechToTextStream) Results() <-chan repositories.PartialTranscript {
	return s.results
}

func (s *googleSpeechToTextStream) Close() error {
	err := s.stream.CloseSend()
	s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

func (s *googleSpeechToTextStream) receiveResults() {
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("Streaming recognition receive failed", zap.Error(err))
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			s.results <- repositories.PartialTranscript{
				Text:  result.Alternatives[0].Transcript,
				Final: result.IsFinal,
			}
		}
	}
}

// TranscribeAudio converts a complete audio payload to text using unary
// recognition, for the batch and request/response paths.
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcription, error) {
	if len(audioData) == 0 {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return repositories.Transcription{}, fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return repositories.Transcription{}, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        encoding,
			SampleRateHertz: int32(config.SampleRate),
			LanguageCode:    config.Language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return repositories.Transcription{}, fmt.Errorf("recognition failed: %w", err)
	}

	var transcription repositories.Transcription
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		best := result.Alternatives[0]
		transcription.Text += best.Transcript
		transcription.Confidence = float64(best.Confidence)
	}

	if transcription.Text == "" {
		return repositories.Transcription{}, fmt.Errorf("no speech detected in audio")
	}
	return transcription, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
