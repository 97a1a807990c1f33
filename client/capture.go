package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/voicepipe/server/domain"
)

const (
	defaultCaptureChunkSize = 4096
	defaultCaptureInterval  = 100 * time.Millisecond
)

// Capture pumps audio from a source into the transport as fixed-size
// chunks on a fixed cadence, bracketed by start and stop control
// messages. The source stands in for a microphone; any reader works.
type Capture struct {
	source    io.Reader
	transport *Transport
	logger    *zap.Logger

	chunkSize int
	interval  time.Duration

	sampleRate int
	encoding   string
	language   string
}

// CaptureOption tweaks a Capture.
type CaptureOption func(*Capture)

func WithChunkSize(size int) CaptureOption {
	return func(c *Capture) { c.chunkSize = size }
}

func WithInterval(interval time.Duration) CaptureOption {
	return func(c *Capture) { c.interval = interval }
}

func WithAudioFormat(sampleRate int, encoding, language string) CaptureOption {
	return func(c *Capture) {
		c.sampleRate = sampleRate
		c.encoding = encoding
		c.language = language
	}
}

// NewCapture wires a source reader to a transport.
func NewCapture(source io.Reader, transport *Transport, logger *zap.Logger, opts ...CaptureOption) *Capture {
	c := &Capture{
		source:    source,
		transport: transport,
		logger:    logger,
		chunkSize: defaultCaptureChunkSize,
		interval:  defaultCaptureInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run sends start, streams the source to exhaustion one chunk per tick,
// then sends stop. It returns early if the context is cancelled or the
// transport dies.
func (c *Capture) Run(ctx context.Context) error {
	if err := c.transport.Send(domain.StartMessage{
		Type:       domain.MessageTypeStart,
		SampleRate: c.sampleRate,
		Encoding:   c.encoding,
		Language:   c.language,
	}); err != nil {
		return fmt.Errorf("failed to send start: %w", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	buffer := make([]byte, c.chunkSize)
	sent := 0

	for {
		select {
		case <-ctx.Done():
			c.stop()
			return ctx.Err()
		case <-c.transport.Done():
			return ErrDisconnected
		case <-ticker.C:
			n, err := io.ReadFull(c.source, buffer)
			if n > 0 {
				if sendErr := c.transport.SendAudio(buffer[:n]); sendErr != nil {
					return fmt.Errorf("failed to send audio chunk: %w", sendErr)
				}
				sent++
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				c.logger.Info("Capture source exhausted", zap.Int("chunksSent", sent))
				return c.stop()
			}
			if err != nil {
				c.stop()
				return fmt.Errorf("failed to read capture source: %w", err)
			}
		}
	}
}

func (c *Capture) stop() error {
	return c.transport.Send(domain.StopMessage{Type: domain.MessageTypeStop})
}
