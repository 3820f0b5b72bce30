package provider

import (
	"context"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/liliang-cn/veilchat/internal/config"
	"github.com/liliang-cn/veilchat/internal/tokenizer"
)

// ChatMessage is a provider-neutral chat message
type ChatMessage struct {
	Role    string
	Content string
}

// Usage reports token consumption for one completion
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one delta of a completion stream. Usage is non-nil only on
// the provider's final usage chunk.
type StreamChunk struct {
	Content string
	Usage   *Usage
}

// Stream is a token stream from the completion provider. Recv returns io.EOF
// when the stream is exhausted.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// OpenAIProvider talks to any OpenAI-compatible completion endpoint
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32

	estimatorOnce sync.Once
	estimator     *tokenizer.Estimator
}

// NewOpenAIProvider creates a provider from LLM configuration
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// StreamCompletion opens a token stream for the given conversation context.
// Usage reporting is requested so the final chunk carries exact token counts
// when the endpoint supports it.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, messages []ChatMessage) (Stream, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &openaiStream{inner: stream}, nil
}

// Completion issues one non-streaming completion over full conversation
// context, for the non-streaming send path
func (p *OpenAIProvider) Completion(ctx context.Context, messages []ChatMessage) (string, *Usage, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", nil, err
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("empty completion response")
	}

	usage := &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Complete issues a single non-streaming completion. Used by the AI detector
// (temperature 0 for deterministic parsing) and by the non-streaming send
// path. An empty model falls back to the provider's default model.
func (p *OpenAIProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if model == "" {
		model = p.model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// EstimateTokens estimates the token count of messages, for when the
// provider omits usage
func (p *OpenAIProvider) EstimateTokens(messages []ChatMessage) int {
	p.estimatorOnce.Do(func() {
		p.estimator = tokenizer.NewEstimator(p.model)
	})

	total := 0
	for _, m := range messages {
		// Per-message overhead for role framing
		total += 4 + p.estimator.Count(m.Content)
	}
	return total
}

func convertMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

type openaiStream struct {
	inner *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (StreamChunk, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		if err == io.EOF {
			return StreamChunk{}, io.EOF
		}
		return StreamChunk{}, err
	}

	chunk := StreamChunk{}
	if len(resp.Choices) > 0 {
		chunk.Content = resp.Choices[0].Delta.Content
	}
	if resp.Usage != nil {
		chunk.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return chunk, nil
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}
