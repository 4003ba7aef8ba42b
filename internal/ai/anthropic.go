package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens applies when a rule sets no limit; the API requires one.
const anthropicMaxTokens = 1024

// AnthropicClient calls the messages API through the official SDK.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropic constructs an Anthropic client. baseURL is the API host
// without the /v1 suffix.
func NewAnthropic(hc *http.Client, baseURL, apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(withSlash(baseURL)))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

// Name implements Provider.
func (c *AnthropicClient) Name() string { return Anthropic }

// Generate implements Provider.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := orDefault(req.Model, c.model)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Response{}, &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return Response{}, err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return Response{}, errEmptyCompletion
	}
	return Response{
		Text:         text,
		Model:        orDefault(string(msg.Model), model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
