// Package ai wraps the third-party text generation APIs behind one interface
// and throttles calls per provider.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/policy/ratelimit"
)

// Provider names accepted in prompt rules.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
)

// ErrUnknownProvider is returned for provider names with no configured client.
var ErrUnknownProvider = errors.New("unknown ai provider")

var errEmptyCompletion = errors.New("empty completion")

// StatusError reports a non-2xx provider answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Request is one text generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the generated text plus usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider generates text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Registry dispatches requests to providers by name.
type Registry struct {
	providers map[string]Provider
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// NewRegistry builds a registry of explicit providers. Limits are keyed by
// provider name.
func NewRegistry(limiter *ratelimit.Limiter, logger *zap.Logger, providers ...Provider) *Registry {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{providers: make(map[string]Provider), limiter: limiter, logger: logger}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// FromConfig builds clients for every provider with an API key.
func FromConfig(cfg config.AIConfig, logger *zap.Logger) *Registry {
	client := &http.Client{Timeout: cfg.Timeout}
	limiter := ratelimit.New(ratelimit.Config{})
	var providers []Provider
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			continue
		}
		var p Provider
		switch name {
		case OpenAI:
			p = NewOpenAI(client, pc.BaseURL, pc.APIKey, pc.Model)
		case Anthropic:
			p = NewAnthropic(client, pc.BaseURL, pc.APIKey, pc.Model)
		case Gemini:
			g, err := NewGemini(client, pc.BaseURL, pc.APIKey, pc.Model)
			if err != nil {
				if logger != nil {
					logger.Warn("skipping gemini provider", zap.Error(err))
				}
				continue
			}
			p = g
		default:
			if logger != nil {
				logger.Warn("ignoring unsupported ai provider", zap.String("provider", name))
			}
			continue
		}
		limiter.SetLimit(name, pc.RPS, pc.Burst)
		providers = append(providers, p)
	}
	return NewRegistry(limiter, logger, providers...)
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Generate throttles and forwards req to the named provider.
func (r *Registry) Generate(ctx context.Context, provider string, req Request) (Response, error) {
	p, ok := r.providers[provider]
	if !ok {
		return Response{}, fmt.Errorf("%w %q (configured: %v)", ErrUnknownProvider, provider, r.Names())
	}
	if err := r.limiter.Wait(ctx, provider); err != nil {
		return Response{}, err
	}
	start := time.Now()
	resp, err := p.Generate(ctx, req)
	metrics.ObserveAICall(provider, err, time.Since(start))
	if err != nil {
		return Response{}, fmt.Errorf("%s generate: %w", provider, err)
	}
	r.logger.Debug("ai call finished",
		zap.String("provider", provider),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("dur", time.Since(start)),
	)
	return resp, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// withSlash makes base URLs join with the SDKs' relative endpoint paths.
func withSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
