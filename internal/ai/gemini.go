package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const geminiAPIVersion = "v1beta"

// GeminiClient calls generateContent through the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a Gemini API client. baseURL is the API host without
// the version segment.
func NewGemini(hc *http.Client, baseURL, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    withSlash(baseURL),
			APIVersion: geminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Name implements Provider.
func (c *GeminiClient) Name() string { return Gemini }

// Generate implements Provider.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := orDefault(req.Model, c.model)
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	out, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Response{}, &StatusError{StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return Response{}, &StatusError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
		}
		return Response{}, err
	}
	if len(out.Candidates) == 0 {
		return Response{}, errors.New("no candidates returned")
	}
	text := strings.TrimSpace(out.Text())
	if text == "" {
		return Response{}, errEmptyCompletion
	}
	resp := Response{Text: text, Model: orDefault(out.ModelVersion, model)}
	if u := out.UsageMetadata; u != nil {
		resp.InputTokens = int(u.PromptTokenCount)
		resp.OutputTokens = int(u.CandidatesTokenCount)
	}
	return resp, nil
}
