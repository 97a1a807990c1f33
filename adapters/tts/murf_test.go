package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestValidateMurfConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  MurfConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  MurfConfig{APIKey: "test-key"},
			wantErr: false,
		},
		{
			name:    "missing API key is allowed",
			config:  MurfConfig{},
			wantErr: false,
		},
		{
			name:    "negative sample rate",
			config:  MurfConfig{APIKey: "test-key", SampleRate: -1},
			wantErr: true,
		},
		{
			name:    "negative chunk size",
			config:  MurfConfig{APIKey: "test-key", ChunkSize: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMurfConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMurfConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMurfTTS_ConvertTextToSpeech(t *testing.T) {
	audioPayload := bytes.Repeat([]byte("voice-bytes-"), 300)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/speech/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req murfGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Text == "" || req.VoiceID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(murfGenerateResponse{
			AudioFile:            server.URL + "/audio/out.mp3",
			AudioLengthInSeconds: 1.5,
		})
	})
	mux.HandleFunc("/audio/out.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioPayload)
	})

	murf, err := NewMurfTTS(MurfConfig{
		APIKey:     "test-key",
		APIBaseURL: server.URL,
		ChunkSize:  256,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMurfTTS() error = %v", err)
	}

	audioChan, err := murf.ConvertTextToSpeech(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech() error = %v", err)
	}

	var received []byte
	chunkCount := 0
	for chunk := range audioChan {
		if len(chunk) == 0 {
			t.Error("received empty chunk")
		}
		if len(chunk) > 256 {
			t.Errorf("chunk size %d exceeds configured chunk size 256", len(chunk))
		}
		received = append(received, chunk...)
		chunkCount++
	}

	if !bytes.Equal(received, audioPayload) {
		t.Errorf("reassembled audio differs: got %d bytes, want %d", len(received), len(audioPayload))
	}
	if chunkCount < 2 {
		t.Errorf("expected audio to be split into multiple chunks, got %d", chunkCount)
	}
}

func TestMurfTTS_GenerateSpeechURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(murfGenerateResponse{
			AudioFile: "https://cdn.example.com/audio/abc.mp3",
		})
	}))
	defer server.Close()

	murf, err := NewMurfTTS(MurfConfig{APIKey: "test-key", APIBaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMurfTTS() error = %v", err)
	}

	url, err := murf.GenerateSpeechURL(context.Background(), "hello")
	if err != nil {
		t.Fatalf("GenerateSpeechURL() error = %v", err)
	}
	if url != "https://cdn.example.com/audio/abc.mp3" {
		t.Errorf("unexpected audio URL %q", url)
	}
}

func TestMurfTTS_MissingAPIKeyFailsAtRequestTime(t *testing.T) {
	murf, err := NewMurfTTS(MurfConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMurfTTS() error = %v", err)
	}

	if _, err := murf.ConvertTextToSpeech(context.Background(), "hello"); err == nil {
		t.Error("expected error when synthesizing without an API key")
	}
	if _, err := murf.GenerateSpeechURL(context.Background(), "hello"); err == nil {
		t.Error("expected error when generating a URL without an API key")
	}
}

func TestMurfTTS_EmptyText(t *testing.T) {
	murf, err := NewMurfTTS(MurfConfig{APIKey: "test-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMurfTTS() error = %v", err)
	}

	if _, err := murf.ConvertTextToSpeech(context.Background(), "   "); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestMurfTTS_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errorMessage":"invalid api key"}`))
	}))
	defer server.Close()

	murf, err := NewMurfTTS(MurfConfig{APIKey: "bad-key", APIBaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMurfTTS() error = %v", err)
	}

	_, err = murf.ConvertTextToSpeech(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error from API failure")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry the status code, got %v", err)
	}
}
