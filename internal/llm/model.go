// Package llm answers assistant prompts with a langchaingo provider or a
// local generate endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/jobpilot/internal/config"
	"github.com/raphaelgruber/jobpilot/internal/metrics"
)

// ErrFatalAPI marks provider errors that retrying will not fix, such as
// exhausted credit or a rejected key.
var ErrFatalAPI = errors.New("fatal llm api error")

var fatalMarkers = []string{
	"credit balance", "billing", "quota exceeded", "rate limit",
	"invalid api key", "authentication", "unauthorized", "401", "403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(fatalMarkers, func(m string) bool {
		return strings.Contains(msg, m)
	})
}

func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}

type providerFunc func(ctx context.Context, cfg config.Config) (llms.Model, error)

var providers = map[string]providerFunc{
	config.ProviderOllama: func(_ context.Context, cfg config.Config) (llms.Model, error) {
		return ollama.New(ollama.WithModel(cfg.LLMModel), ollama.WithServerURL(cfg.OllamaHost))
	},
	config.ProviderOpenAI: func(_ context.Context, cfg config.Config) (llms.Model, error) {
		if err := requireKey("OpenAI", cfg.OpenAIAPIKey); err != nil {
			return nil, err
		}
		return openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithModel(cfg.LLMModel))
	},
	config.ProviderAnthropic: func(_ context.Context, cfg config.Config) (llms.Model, error) {
		if err := requireKey("Anthropic", cfg.AnthropicAPIKey); err != nil {
			return nil, err
		}
		return anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey), anthropic.WithModel(cfg.LLMModel))
	},
	config.ProviderGoogleAI: func(ctx context.Context, cfg config.Config) (llms.Model, error) {
		if err := requireKey("Google", cfg.GoogleAPIKey); err != nil {
			return nil, err
		}
		return googleai.New(ctx, googleai.WithAPIKey(cfg.GoogleAPIKey), googleai.WithDefaultModel(cfg.LLMModel))
	},
	config.ProviderBedrock: func(ctx context.Context, cfg config.Config) (llms.Model, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
	},
}

func requireKey(provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s API key required", provider)
	}
	return nil
}

// Model answers prompts through one langchaingo provider.
type Model struct {
	llm      llms.Model
	provider string
	name     string
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewModel builds the provider named by cfg.LLMProvider.
func NewModel(ctx context.Context, cfg config.Config, mc *metrics.Collector, logger *slog.Logger) (*Model, error) {
	build, ok := providers[cfg.LLMProvider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
	model, err := build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.LLMProvider, err)
	}
	return newModel(model, cfg.LLMProvider, cfg.LLMModel, mc, logger), nil
}

func newModel(model llms.Model, provider, name string, mc *metrics.Collector, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		llm:      model,
		provider: provider,
		name:     name,
		metrics:  mc,
		logger:   logger.With("provider", provider, "model", name),
	}
}

// Generate answers a single prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	done := m.metrics.Time(metrics.OpLLMGenerate)
	start := time.Now()
	answer, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	done(err)

	if err != nil {
		m.logger.Warn("generate failed", "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	m.logger.Debug("generated", "prompt_len", len(prompt), "answer_len", len(answer), "duration", time.Since(start))
	return answer, nil
}

func (m *Model) Model() string    { return m.name }
func (m *Model) Provider() string { return m.provider }
