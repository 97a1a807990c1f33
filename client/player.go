package client

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clip is decoded audio ready for playback.
type Clip struct {
	Format     string
	SampleRate int
	Channels   int
	Duration   time.Duration
	Data       []byte
}

// Decoder turns one encoded audio payload into a playable clip. Decoders
// are tried in order; a decoder that does not recognize the payload
// returns an error so the next one gets a chance.
type Decoder interface {
	Name() string
	Decode(data []byte) (*Clip, error)
}

// DefaultDecoders is the standard fallback chain: WAV, then MP3, then
// raw PCM as the last resort that accepts anything.
func DefaultDecoders() []Decoder {
	return []Decoder{
		WAVDecoder{},
		MP3Decoder{},
		RawPCMDecoder{SampleRate: 16000, Channels: 1},
	}
}

// DecodeAudio runs the payload through the decoder chain and returns the
// first successful clip.
func DecodeAudio(data []byte, decoders []Decoder) (*Clip, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	var lastErr error
	for _, decoder := range decoders {
		clip, err := decoder.Decode(data)
		if err == nil {
			return clip, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no decoder accepted the payload: %w", lastErr)
}

// WAVDecoder parses RIFF/WAVE containers.
type WAVDecoder struct{}

func (WAVDecoder) Name() string { return "wav" }

func (WAVDecoder) Decode(data []byte) (*Clip, error) {
	if len(data) < 44 || !bytes.HasPrefix(data, []byte("RIFF")) || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var (
		channels   int
		sampleRate int
		byteRate   int
		samples    []byte
	)

	// Walk the chunk list for fmt and data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			return nil, fmt.Errorf("truncated %s chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt chunk too short")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
		case "data":
			samples = data[body : body+chunkSize]
		}

		// Chunks are word aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if sampleRate == 0 || samples == nil {
		return nil, fmt.Errorf("missing fmt or data chunk")
	}

	clip := &Clip{
		Format:     "wav",
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       samples,
	}
	if byteRate > 0 {
		clip.Duration = time.Duration(float64(len(samples)) / float64(byteRate) * float64(time.Second))
	}
	return clip, nil
}

// MP3Decoder recognizes MP3 payloads by their frame sync or ID3 header.
// It does not decompress; the clip carries the encoded bytes through to a
// sink that understands them.
type MP3Decoder struct{}

func (MP3Decoder) Name() string { return "mp3" }

func (MP3Decoder) Decode(data []byte) (*Clip, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("payload too short for MP3")
	}
	hasSync := data[0] == 0xFF && data[1]&0xE0 == 0xE0
	hasID3 := bytes.HasPrefix(data, []byte("ID3"))
	if !hasSync && !hasID3 {
		return nil, fmt.Errorf("no MP3 frame sync or ID3 header")
	}
	return &Clip{Format: "mp3", Data: data}, nil
}

// RawPCMDecoder accepts any payload as signed 16-bit PCM. It terminates
// the fallback chain.
type RawPCMDecoder struct {
	SampleRate int
	Channels   int
}

func (RawPCMDecoder) Name() string { return "pcm" }

func (d RawPCMDecoder) Decode(data []byte) (*Clip, error) {
	sampleRate := d.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := d.Channels
	if channels == 0 {
		channels = 1
	}

	clip := &Clip{
		Format:     "pcm",
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       data,
	}
	bytesPerSecond := sampleRate * channels * 2
	clip.Duration = time.Duration(float64(len(data)) / float64(bytesPerSecond) * float64(time.Second))
	return clip, nil
}

// Sink renders one clip. Play blocks until the clip has finished.
type Sink interface {
	Play(clip *Clip) error
}

// Player serializes clip playback: responses queue up and play one at a
// time in arrival order, never overlapping.
type Player struct {
	sink     Sink
	decoders []Decoder
	logger   *zap.Logger
	onDone   func(clip *Clip)

	queue     chan *Clip
	done      chan struct{}
	closeOnce sync.Once
}

func NewPlayer(sink Sink, decoders []Decoder, logger *zap.Logger) *Player {
	p := &Player{
		sink:     sink,
		decoders: decoders,
		logger:   logger,
		queue:    make(chan *Clip, 16),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// OnClipDone registers a callback fired after each clip finishes. Set it
// before enqueueing.
func (p *Player) OnClipDone(fn func(clip *Clip)) {
	p.onDone = fn
}

// Enqueue decodes the payload through the fallback chain and queues the
// clip for playback.
func (p *Player) Enqueue(audio AssembledAudio) error {
	clip, err := DecodeAudio(audio.Data, p.decoders)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", audio.StreamID, err)
	}

	p.logger.Info("Clip queued",
		zap.String("streamID", audio.StreamID),
		zap.String("format", clip.Format),
		zap.Duration("duration", clip.Duration))

	select {
	case <-p.done:
		return fmt.Errorf("player closed")
	default:
	}

	select {
	case p.queue <- clip:
		return nil
	case <-p.done:
		return fmt.Errorf("player closed")
	}
}

// Close stops the playback worker after the current clip. Safe to call
// more than once.
func (p *Player) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Player) run() {
	for {
		select {
		case clip := <-p.queue:
			if err := p.sink.Play(clip); err != nil {
				p.logger.Error("Playback failed",
					zap.String("format", clip.Format),
					zap.Error(err))
			}
			if p.onDone != nil {
				p.onDone(clip)
			}
		case <-p.done:
			return
		}
	}
}
