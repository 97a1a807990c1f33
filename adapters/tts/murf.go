package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicepipe/server/domain/repositories"
)

const (
	defaultAPIBaseURL = "https://api.murf.ai/v1"
	defaultVoiceID    = "en-US-ken"
	defaultFormat     = "MP3"
	defaultSampleRate = 24000
	defaultChunkSize  = 1024 // Size of audio chunks to stream
)

// MurfConfig holds configuration for the MurfTTS adapter.
// Required fields:
// - APIKey: Your Murf API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Murf API (default: "https://api.murf.ai/v1")
// - VoiceID: The voice ID to use (default: "en-US-ken")
// - Format: The output audio format (default: "MP3")
// - SampleRate: The output sample rate (default: 24000)
// - ChunkSize: The size of audio chunks to stream (default: 1024)
type MurfConfig struct {
	APIKey     string
	APIBaseURL string
	VoiceID    string
	Format     string
	SampleRate int
	ChunkSize  int
}

// MurfTTS implements TextToSpeech using the Murf speech generation API.
// Murf returns a hosted audio file URL; the streaming form downloads that
// file and re-chunks it onto a channel.
type MurfTTS struct {
	apiKey     string
	apiBaseURL string
	voiceID    string
	format     string
	sampleRate int
	chunkSize  int
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure MurfTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*MurfTTS)(nil)

// murfGenerateRequest is the payload for the Murf generate endpoint.
type murfGenerateRequest struct {
	VoiceID     string `json:"voiceId"`
	Text        string `json:"text"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sampleRate"`
	ChannelType string `json:"channelType"`
}

// murfGenerateResponse is the subset of the Murf response we consume.
type murfGenerateResponse struct {
	AudioFile            string  `json:"audioFile"`
	AudioLengthInSeconds float64 `json:"audioLengthInSeconds"`
}

// ValidateMurfConfig validates the MurfConfig. A missing API key is not
// a construction error: synthesis calls fail instead, and the pipeline
// degrades to its fallback response.
func ValidateMurfConfig(config MurfConfig) error {
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	return nil
}

// NewMurfTTS creates a new Murf TTS instance.
func NewMurfTTS(config MurfConfig, logger *zap.Logger) (*MurfTTS, error) {
	if err := ValidateMurfConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	format := config.Format
	if format == "" {
		format = defaultFormat
	}
	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}

	return &MurfTTS{
		apiKey:     config.APIKey,
		apiBaseURL: apiBaseURL,
		voiceID:    voiceID,
		format:     format,
		sampleRate: sampleRate,
		chunkSize:  chunkSize,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

// GenerateSpeechURL synthesizes text and returns the hosted audio URL.
func (m *MurfTTS) GenerateSpeechURL(ctx context.Context, text string) (string, error) {
	generated, err := m.generate(ctx, text)
	if err != nil {
		return "", err
	}
	return generated.AudioFile, nil
}

// ConvertTextToSpeech synthesizes text and streams the encoded audio as
// byte fragments. The generate call fails synchronously; download errors
// after that close the channel early.
func (m *MurfTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	generated, err := m.generate(ctx, text)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, generated.AudioFile, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio download request: %w", err)
	}

	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)

		resp, err := m.httpClient.Do(req)
		if err != nil {
			m.logger.Error("Failed to download synthesized audio", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			m.logger.Error("Audio download returned error",
				zap.Int("statusCode", resp.StatusCode))
			return
		}

		buffer := make([]byte, m.chunkSize)
		totalBytes := 0
		chunkCount := 0

		for {
			n, err := resp.Body.Read(buffer)
			if n > 0 {
				totalBytes += n
				chunkCount++

				chunk := make([]byte, n)
				copy(chunk, buffer[:n])

				select {
				case audioChan <- chunk:
				case <-ctx.Done():
					m.logger.Warn("Context cancelled while streaming audio")
					return
				}
			}
			if err == io.EOF {
				m.logger.Info("Finished streaming synthesized audio",
					zap.Int("totalChunks", chunkCount),
					zap.Int("totalBytes", totalBytes))
				return
			}
			if err != nil {
				m.logger.Error("Error reading audio body", zap.Error(err))
				return
			}
		}
	}()

	return audioChan, nil
}

func (m *MurfTTS) generate(ctx context.Context, text string) (*murfGenerateResponse, error) {
	if m.apiKey == "" {
		return nil, fmt.Errorf("murf API key is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	requestBody, err := json.Marshal(murfGenerateRequest{
		VoiceID:     m.voiceID,
		Text:        text,
		Format:      m.format,
		SampleRate:  m.sampleRate,
		ChannelType: "MONO",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/speech/generate", m.apiBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", m.apiKey)

	m.logger.Debug("Sending request to Murf API",
		zap.String("voiceID", m.voiceID),
		zap.Int("textLength", len(text)))

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("murf API returned %d: %s", resp.StatusCode, string(errorBody))
	}

	var generated murfGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if generated.AudioFile == "" {
		return nil, fmt.Errorf("murf API returned no audio file")
	}

	m.logger.Info("Speech generated",
		zap.Float64("audioSeconds", generated.AudioLengthInSeconds))

	return &generated, nil
}

// NewMurfConfigFromEnv creates a MurfConfig from environment variables.
func NewMurfConfigFromEnv() MurfConfig {
	config := MurfConfig{
		APIKey:     os.Getenv("MURF_API_KEY"),
		APIBaseURL: os.Getenv("MURF_API_BASE_URL"),
		VoiceID:    os.Getenv("MURF_VOICE_ID"),
		Format:     os.Getenv("MURF_FORMAT"),
	}

	if sampleRateStr := os.Getenv("MURF_SAMPLE_RATE"); sampleRateStr != "" {
		if sampleRate, err := strconv.Atoi(sampleRateStr); err == nil && sampleRate > 0 {
			config.SampleRate = sampleRate
		}
	}
	if chunkSizeStr := os.Getenv("MURF_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	return config
}
