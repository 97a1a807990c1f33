package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/domain/repositories"
)

const (
	defaultModel           = "gemini-1.5-flash"
	defaultMaxOutputTokens = 1024
	defaultTemperature     = 0.7
)

const systemPrompt = "You are a helpful voice assistant. Keep replies short and conversational; they will be spoken aloud."

// GeminiLLM implements the LargeLanguageModel interface using Google's
// Gemini API.
type GeminiLLM struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance. A missing API key is
// not a construction error: calls fail instead, and the pipeline degrades
// to its fallback response.
func NewGeminiLLM(apiKey, model string, logger *zap.Logger) (*GeminiLLM, error) {
	if model == "" {
		model = defaultModel
	}

	g := &GeminiLLM{
		logger: logger,
		model:  model,
	}

	if apiKey == "" {
		logger.Warn("Gemini API key not set, reply generation will fail")
		return g, nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client

	return g, nil
}

// GenerateReply returns the complete reply for the conversation.
func (g *GeminiLLM) GenerateReply(ctx context.Context, history []entities.Message) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("gemini API key is not configured")
	}

	contents := g.buildContents(history)

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.generateConfig())
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := extractText(response)
	if text == "" {
		return "", fmt.Errorf("no content generated")
	}

	g.logger.Info("Generated reply",
		zap.String("model", g.model),
		zap.Int("history_length", len(history)),
		zap.Int("reply_length", len(text)))

	return text, nil
}

// GenerateReplyStream returns reply fragments as the model produces them.
func (g *GeminiLLM) GenerateReplyStream(ctx context.Context, history []entities.Message) (<-chan string, error) {
	if g.client == nil {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	contents := g.buildContents(history)
	out := make(chan string, 8)

	go func() {
		defer close(out)

		for response, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.generateConfig()) {
			if err != nil {
				g.logger.Warn("Gemini stream failed", zap.Error(err))
				return
			}
			if text := extractText(response); text != "" {
				select {
				case out <- text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (g *GeminiLLM) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		MaxOutputTokens: int32(defaultMaxOutputTokens),
	}
}

// buildContents converts the session history into Gemini contents, with
// the system prompt leading the conversation.
func (g *GeminiLLM) buildContents(history []entities.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, genai.NewContentFromText(systemPrompt, genai.RoleUser))

	for _, msg := range history {
		var role genai.Role = genai.RoleUser
		if msg.Role == entities.MessageRoleAssistant {
			role = genai.RoleModel
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text
}
