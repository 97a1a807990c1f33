package repositories

import "context"

// TextToSpeech abstracts speech synthesis services.
type TextToSpeech interface {
	// ConvertTextToSpeech synthesizes text and streams the encoded audio
	// as byte fragments. Fragments are byte slices of one encoded stream,
	// not independently decodable frames; the channel closes at end of
	// audio. Hard failures are returned synchronously.
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
	// GenerateSpeechURL synthesizes text and returns a URL to the hosted
	// audio file, for the non-streaming request/response path.
	GenerateSpeechURL(ctx context.Context, text string) (string, error)
}
