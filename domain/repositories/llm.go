package repositories

import (
	"context"

	"github.com/voicepipe/server/domain/entities"
)

// LargeLanguageModel abstracts any chat/LLM provider. History is passed in
// full on each call; providers are expected to bound it themselves if the
// caller's cap is too generous for their context window.
type LargeLanguageModel interface {
	// GenerateReply returns the complete reply for the conversation.
	GenerateReply(ctx context.Context, history []entities.Message) (string, error)
	// GenerateReplyStream returns reply fragments as they are produced.
	// The channel closes when the reply is complete; a stream that closes
	// without ever yielding text is a failed generation.
	GenerateReplyStream(ctx context.Context, history []entities.Message) (<-chan string, error)
}
