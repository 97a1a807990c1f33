package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/voicepipe/server/domain"
)

func TestCapture_StreamsSourceAndStops(t *testing.T) {
	frames := make(chan domain.Inbound, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := domain.DecodeInbound(frame)
			if err != nil {
				t.Errorf("undecodable frame %q: %v", frame, err)
				continue
			}
			frames <- msg
		}
	}))
	defer server.Close()

	transport, err := Dial(TransportConfig{URL: wsURL(server)}, func(domain.Outbound) {}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer transport.Close()

	source := bytes.NewReader(bytes.Repeat([]byte("x"), 10))
	capture := NewCapture(source, transport, zaptest.NewLogger(t),
		WithChunkSize(4),
		WithInterval(5*time.Millisecond),
		WithAudioFormat(16000, "LINEAR16", "en-US"))

	if err := capture.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	var received []domain.Inbound
	// start + 3 audio chunks (4+4+2 bytes) + stop
	for len(received) < 5 {
		select {
		case msg := <-frames:
			received = append(received, msg)
		case <-deadline:
			t.Fatalf("only %d frames arrived", len(received))
		}
	}

	start, ok := received[0].(domain.StartMessage)
	if !ok {
		t.Fatalf("first frame = %T, want start", received[0])
	}
	if start.SampleRate != 16000 || start.Encoding != "LINEAR16" {
		t.Errorf("start config %+v", start)
	}

	var audio []byte
	for _, msg := range received[1 : len(received)-1] {
		payload, ok := msg.(domain.AudioPayload)
		if !ok {
			t.Fatalf("middle frame = %T, want audio", msg)
		}
		audio = append(audio, payload.Data...)
	}
	if len(audio) != 10 {
		t.Errorf("reassembled %d audio bytes, want 10", len(audio))
	}

	if _, ok := received[len(received)-1].(domain.StopMessage); !ok {
		t.Errorf("last frame = %T, want stop", received[len(received)-1])
	}
}

func TestCapture_ContextCancelSendsStop(t *testing.T) {
	frames := make(chan domain.Inbound, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := domain.DecodeInbound(frame); err == nil {
				frames <- msg
			}
		}
	}))
	defer server.Close()

	transport, err := Dial(TransportConfig{URL: wsURL(server)}, func(domain.Outbound) {}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	// An endless source: the capture only stops through the context.
	source := endlessReader{}
	capture := NewCapture(source, transport, zaptest.NewLogger(t), WithInterval(5*time.Millisecond))

	errCh := make(chan error, 1)
	go func() { errCh <- capture.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() never returned after cancel")
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-frames:
			if _, ok := msg.(domain.StopMessage); ok {
				return
			}
		case <-deadline:
			t.Fatal("stop never arrived after cancel")
		}
	}
}

type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x55
	}
	return len(p), nil
}
