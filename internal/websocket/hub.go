package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voicepipe/server/domain"
	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/domain/repositories"
	"github.com/voicepipe/server/internal/config"
	"github.com/voicepipe/server/internal/metrics"
	"github.com/voicepipe/server/internal/session"
	"github.com/voicepipe/server/internal/turn"
	"github.com/voicepipe/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ChannelMode selects how a connection feeds audio into the pipeline.
type ChannelMode int

const (
	// ModeBatch buffers chunks and transcribes once on stop.
	ModeBatch ChannelMode = iota
	// ModeTurn streams chunks into live recognition with silence-based
	// turn detection.
	ModeTurn
)

// Hub maintains the set of active clients and holds the shared pipeline
// dependencies they dispatch into.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	stt          repositories.SpeechToText
	orchestrator *usecase.Orchestrator
	sessions     *session.Store
	cfg          *config.Config
	metrics      *metrics.Metrics

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	stt repositories.SpeechToText,
	orchestrator *usecase.Orchestrator,
	sessions *session.Store,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		stt:          stt,
		orchestrator: orchestrator,
		sessions:     sessions,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.ConnectionsOpened.Inc()
			h.metrics.ActiveConnections.Inc()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("sessionID", client.session.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.metrics.ActiveConnections.Dec()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))
		}
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	id      string
	mode    ChannelMode
	session *entities.Session

	// ctx lives as long as the connection; the recognition stream is
	// bound to it so it survives across handler calls.
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	// Recording state, guarded by mutex.
	mutex       sync.Mutex
	recording   bool
	audioBuffer []byte
	chunkCount  int
	totalBytes  int
	audioConfig repositories.AudioConfig
	sttStream   repositories.SpeechToTextStreaming
	detector    *turn.Detector
	closeOnce   sync.Once
	done        chan struct{}
}

// Emit marshals an outbound message onto the client's send channel. It
// satisfies the orchestrator's Emitter so pipeline stages can write
// directly to the connection.
func (c *Client) Emit(message domain.Outbound) error {
	payload, err := domain.Encode(message)
	if err != nil {
		return fmt.Errorf("failed to encode outbound message: %w", err)
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("client %s disconnected", c.id)
	}
}

// ServeAudio upgrades a request on the batch audio channel.
func ServeAudio(hub *Hub, c echo.Context) error {
	return serve(hub, c, ModeBatch)
}

// ServeTurnDetection upgrades a request on the live turn-detection channel.
func ServeTurnDetection(hub *Hub, c echo.Context) error {
	return serve(hub, c, ModeTurn)
}

func serve(hub *Hub, c echo.Context, mode ChannelMode) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		id:      uuid.New().String(),
		mode:    mode,
		session: hub.sessions.GetOrCreate(sessionID),
		ctx:     ctx,
		cancel:  cancel,
		logger:  hub.logger.With(zap.String("sessionID", sessionID)),
		done:    make(chan struct{}),
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return client.Emit(domain.StatusMessage{
		Type:      domain.MessageTypeStatus,
		Message:   "connected",
		SessionID: sessionID,
	})
}

// readPump pumps messages from the websocket connection into the pipeline.
func (c *Client) readPump() {
	defer func() {
		c.teardown()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processFrame(message)
		case websocket.BinaryMessage:
			c.handleAudio(message)
		default:
			c.logger.Warn("Received unknown frame type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processFrame decodes one text frame and dispatches it. Unparseable or
// unknown frames are logged and dropped; they never kill the connection.
func (c *Client) processFrame(data []byte) {
	msg, err := domain.DecodeInbound(data)
	if err != nil {
		c.metrics().FramesDropped.Inc()
		c.logger.Warn("Dropping unparseable frame", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case domain.StartMessage:
		c.handleStart(m)
	case domain.StopMessage:
		c.handleStop()
	case domain.PingMessage:
		c.Emit(domain.PongMessage{Type: domain.MessageTypePong})
	case domain.AudioPayload:
		c.handleAudio(m.Data)
	default:
		c.metrics().FramesDropped.Inc()
		c.logger.Warn("Dropping frame with no handler")
	}
}

func (c *Client) metrics() *metrics.Metrics {
	return c.hub.metrics
}

// handleStart begins a recording. On the turn channel this opens a live
// recognition stream and arms a fresh silence detector.
func (c *Client) handleStart(msg domain.StartMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.recording {
		c.logger.Warn("Start received while already recording")
		return
	}

	cfg := c.hub.cfg
	c.audioConfig = repositories.AudioConfig{
		SampleRate: cfg.SampleRate,
		Encoding:   cfg.Encoding,
		Language:   cfg.Language,
	}
	if msg.SampleRate > 0 {
		c.audioConfig.SampleRate = msg.SampleRate
	}
	if msg.Encoding != "" {
		c.audioConfig.Encoding = msg.Encoding
	}
	if msg.Language != "" {
		c.audioConfig.Language = msg.Language
	}

	c.audioBuffer = nil
	c.chunkCount = 0
	c.totalBytes = 0

	if c.mode == ModeTurn {
		if err := c.startStreamingLocked(); err != nil {
			c.logger.Error("Failed to start streaming recognition", zap.Error(err))
			c.emitFallback(entities.ErrorKindSTT)
			return
		}
	}

	c.recording = true
	c.session.Touch()
	c.logger.Info("Recording started",
		zap.Int("sampleRate", c.audioConfig.SampleRate),
		zap.String("encoding", c.audioConfig.Encoding))

	c.Emit(domain.StatusMessage{
		Type:      domain.MessageTypeStatus,
		Message:   "listening started",
		SessionID: c.session.ID,
	})
}

// startStreamingLocked opens the recognition stream and wires its partial
// results into a fresh turn detector. Caller holds c.mutex. The stream is
// bound to the connection context: it must stay open across handler calls
// until stop or teardown, so a call-scoped context would kill it before
// any audio arrives.
func (c *Client) startStreamingLocked() error {
	stream, err := c.hub.stt.InitTranscribeStreaming(c.ctx, c.audioConfig)
	if err != nil {
		return err
	}

	detector := turn.NewDetector(c.hub.cfg.SilenceWindow,
		func(transcript string) {
			c.Emit(domain.TranscriptionUpdateMessage{
				Type:       domain.MessageTypeTranscriptionUpdate,
				Transcript: transcript,
				SessionID:  c.session.ID,
				Timestamp:  time.Now().Unix(),
				IsSpeaking: true,
			})
		},
		func(boundary turn.Boundary) {
			c.Emit(domain.TurnEndMessage{
				Type:       domain.MessageTypeTurnEnd,
				Transcript: boundary.Transcript,
				SessionID:  c.session.ID,
				Timestamp:  boundary.At.Unix(),
			})
			go c.hub.orchestrator.HandleTurn(context.Background(), c.session, boundary.Transcript, c)
		},
		c.logger,
	)

	c.sttStream = stream
	c.detector = detector

	go func() {
		for partial := range stream.Results() {
			detector.OnPartial(partial.Text)
		}
	}()

	return nil
}

// handleAudio feeds one decoded audio fragment into the active recording.
func (c *Client) handleAudio(data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.recording {
		c.logger.Warn("Audio received with no active recording")
		return
	}

	c.chunkCount++
	c.totalBytes += len(data)
	c.metrics().ChunksReceived.Inc()
	c.metrics().ChunkBytes.Observe(float64(len(data)))

	switch c.mode {
	case ModeTurn:
		if err := c.sttStream.Stream(data); err != nil {
			c.logger.Error("Failed to stream audio to recognizer", zap.Error(err))
			c.emitFallback(entities.ErrorKindSTT)
			c.stopStreamingLocked(false)
			c.recording = false
			return
		}
	case ModeBatch:
		c.audioBuffer = append(c.audioBuffer, data...)
	}

	c.Emit(domain.ChunkReceivedMessage{
		Type:      domain.MessageTypeChunkReceived,
		ChunkSize: len(data),
		TotalSize: c.totalBytes,
	})
}

// handleStop ends the recording. On the turn channel the open turn
// finalizes immediately without waiting for silence; on the batch channel
// the buffered audio is transcribed and the pipeline runs on the result.
func (c *Client) handleStop() {
	c.mutex.Lock()

	if !c.recording {
		c.mutex.Unlock()
		return
	}
	c.recording = false

	if c.mode == ModeTurn {
		c.stopStreamingLocked(true)
		c.mutex.Unlock()
		return
	}

	buffered := c.audioBuffer
	c.audioBuffer = nil
	audioConfig := c.audioConfig
	c.mutex.Unlock()

	c.logger.Info("Recording stopped",
		zap.Int("chunks", c.chunkCount),
		zap.Int("totalBytes", len(buffered)))

	go c.transcribeAndRespond(buffered, audioConfig)
}

// stopStreamingLocked tears down the recognition stream. When finalize is
// set, the open turn is flushed through the detector first.
func (c *Client) stopStreamingLocked(finalize bool) {
	if c.detector != nil {
		if finalize {
			c.detector.Finish()
		} else {
			c.detector.Stop()
		}
		c.detector = nil
	}
	if c.sttStream != nil {
		if err := c.sttStream.Close(); err != nil {
			c.logger.Warn("Failed to close recognition stream", zap.Error(err))
		}
		c.sttStream = nil
	}
}

// transcribeAndRespond runs the batch pipeline: one unary recognition over
// the buffered audio, then the full turn pipeline on the transcript.
func (c *Client) transcribeAndRespond(audio []byte, audioConfig repositories.AudioConfig) {
	if len(audio) == 0 {
		c.logger.Warn("Stop received with no buffered audio")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.ServiceTimeout)
	defer cancel()

	transcription, err := c.hub.stt.TranscribeAudio(ctx, audio, audioConfig)
	if err != nil {
		c.logger.Error("Transcription failed", zap.Error(err))
		c.metrics().StageFailures.WithLabelValues(string(entities.ErrorKindSTT)).Inc()
		c.emitFallback(entities.ErrorKindSTT)
		return
	}

	c.Emit(domain.TurnEndMessage{
		Type:       domain.MessageTypeTurnEnd,
		Transcript: transcription.Text,
		SessionID:  c.session.ID,
		Timestamp:  time.Now().Unix(),
	})

	c.hub.orchestrator.HandleTurn(ctx, c.session, transcription.Text, c)
}

func (c *Client) emitFallback(kind entities.ErrorKind) {
	c.metrics().FallbacksEmitted.WithLabelValues(string(kind)).Inc()
	c.Emit(domain.AudioFallbackMessage{
		Type:         domain.MessageTypeAudioFallback,
		ErrorKind:    kind,
		FallbackText: entities.FallbackText(kind),
		SessionID:    c.session.ID,
	})
}

// teardown releases recording resources when the connection drops. An open
// turn is discarded, not finalized: a vanished client cannot receive the
// response.
func (c *Client) teardown() {
	c.closeOnce.Do(func() { close(c.done) })
	c.cancel()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.recording = false
	c.stopStreamingLocked(false)
	c.audioBuffer = nil
}
