package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient calls chat completions through the official SDK.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAI constructs an OpenAI client. Retries are left to the job queue.
func NewOpenAI(hc *http.Client, baseURL, apiKey, model string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(withSlash(baseURL)))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

// Name implements Provider.
func (c *OpenAIClient) Name() string { return OpenAI }

// Generate implements Provider.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := orDefault(req.Model, c.model)
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	out, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return Response{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Response{}, errEmptyCompletion
	}
	return Response{
		Text:         strings.TrimSpace(out.Choices[0].Message.Content),
		Model:        orDefault(out.Model, model),
		InputTokens:  int(out.Usage.PromptTokens),
		OutputTokens: int(out.Usage.CompletionTokens),
	}, nil
}
