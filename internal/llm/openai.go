package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DineshTeja/aria/internal/metrics"
)

// Message is a minimal chat message used by the pipeline services.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Request describes a completion call. Zero values fall through to the
// provider defaults.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	TopP        float32
	JSONOutput  bool
}

// Client defines the model operations required by the pipeline.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
	Embed(ctx context.Context, model, input string) ([]float32, error)
	DescribeImage(ctx context.Context, model, instruction, imageDataURL string) (string, error)
}

// OpenAIClient calls the OpenAI API for completions, embeddings and vision.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient constructs an OpenAI-backed client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey)}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != RoleSystem && role != RoleUser && role != RoleAssistant {
			// coerce anything unknown to user
			role = RoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	r := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if req.JSONOutput {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return r
}

// Complete returns the whole completion as a single string.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	metrics.ModelCalls.WithLabelValues("complete").Inc()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream requests an incremental completion, forwarding each chunk to
// onChunk (which may be nil) and returning the concatenated text.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	metrics.ModelCalls.WithLabelValues("stream").Inc()
	r := c.buildRequest(req)
	r.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.String(), err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return b.String(), nil
}

// Embed returns the embedding vector for the input text.
func (c *OpenAIClient) Embed(ctx context.Context, model, input string) ([]float32, error) {
	if c.client == nil {
		return nil, errors.New("openai client not initialized")
	}
	metrics.ModelCalls.WithLabelValues("embed").Inc()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// DescribeImage sends a vision request with the instruction and a data-URL
// encoded image and returns the model's description.
func (c *OpenAIClient) DescribeImage(ctx context.Context, model, instruction, imageDataURL string) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	metrics.ModelCalls.WithLabelValues("vision").Inc()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{{
			Role: RoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: instruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageDataURL}},
			},
		}},
		Temperature: 0.2,
		MaxTokens:   1024,
		TopP:        1,
	})
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
