// Package client is the connecting side of the voice pipeline: it ships
// microphone audio up a chunk transport and reassembles and plays the
// synthesized audio coming back.
package client

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicepipe/server/domain"
)

const (
	defaultMaxReconnects  = 5
	defaultReconnectDelay = time.Second
	writeWait             = 10 * time.Second
)

// ErrDisconnected is returned once reconnection attempts are exhausted.
// The transport is dead after this; callers build a new one.
var ErrDisconnected = fmt.Errorf("transport disconnected")

// TransportConfig configures one connection to the server.
type TransportConfig struct {
	// URL is the full websocket endpoint, e.g.
	// ws://localhost:8080/ws/turn-detection?session_id=abc.
	URL string

	// MaxReconnects bounds reconnection attempts after a drop. Zero means
	// defaultMaxReconnects.
	MaxReconnects int

	// ReconnectDelay is the base delay; attempt n waits n times this.
	// Zero means defaultReconnectDelay.
	ReconnectDelay time.Duration

	// OnDrop runs after the connection drops, before any reconnect
	// attempt. Use it to discard state tied to the dead connection, such
	// as a partially reassembled audio stream whose remaining chunks will
	// never arrive.
	OnDrop func()
}

// MessageHandler receives every decoded server message, synchronously and
// in arrival order. Slow handlers stall the receive loop; keep them short.
type MessageHandler func(message domain.Outbound)

// Transport is one client connection. All sends are serialized; the
// receive loop dispatches decoded messages to the handler one at a time,
// so handlers never race each other.
type Transport struct {
	cfg     TransportConfig
	handler MessageHandler
	logger  *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}

	mu   sync.Mutex
	err  error
	dead bool
}

// Dial connects to the server and starts the receive loop.
func Dial(cfg TransportConfig, handler MessageHandler, logger *zap.Logger) (*Transport, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	t := &Transport{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}

	conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	t.conn = conn

	go t.readLoop()

	return t, nil
}

func (t *Transport) dial() (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(t.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.cfg.URL, err)
	}
	return conn, nil
}

// Send encodes and writes one control message.
func (t *Transport) Send(message domain.Inbound) error {
	payload, err := domain.Encode(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return t.write(payload)
}

// SendAudio ships one audio fragment as a bare base64 text frame.
func (t *Transport) SendAudio(data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	return t.write([]byte(encoded))
}

func (t *Transport) write(payload []byte) error {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return ErrDisconnected
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Err reports why the transport died, or nil while it is alive.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the transport has permanently stopped.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close tears the connection down without reconnecting.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.dead = true
		t.mu.Unlock()
		close(t.done)
	})
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Close()
}

// readLoop reads frames, decodes them, and dispatches to the handler.
// Undecodable frames are logged and dropped. On a connection drop it
// attempts reconnection with linearly increasing backoff before giving up.
func (t *Transport) readLoop() {
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			dead := t.dead
			t.mu.Unlock()
			if dead {
				return
			}

			if t.cfg.OnDrop != nil {
				t.cfg.OnDrop()
			}
			if !t.reconnect() {
				return
			}
			continue
		}

		message, err := domain.DecodeOutbound(frame)
		if err != nil {
			t.logger.Warn("Dropping undecodable server frame", zap.Error(err))
			continue
		}

		t.handler(message)
	}
}

// reconnect retries the dial with a delay that grows linearly per
// attempt. Returns false once attempts are exhausted, marking the
// transport dead.
func (t *Transport) reconnect() bool {
	for attempt := 1; attempt <= t.cfg.MaxReconnects; attempt++ {
		delay := time.Duration(attempt) * t.cfg.ReconnectDelay
		t.logger.Info("Reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-t.done:
			return false
		}

		conn, err := t.dial()
		if err != nil {
			t.logger.Warn("Reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		t.writeMu.Lock()
		t.conn = conn
		t.writeMu.Unlock()
		t.logger.Info("Reconnected", zap.Int("attempt", attempt))
		return true
	}

	t.mu.Lock()
	t.dead = true
	t.err = ErrDisconnected
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
	t.logger.Error("Reconnection attempts exhausted",
		zap.Int("attempts", t.cfg.MaxReconnects))
	return false
}
