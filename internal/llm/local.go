package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/metrics"
)

// LocalClient posts prompts to an Ollama-style generate endpoint
// ({model, prompt, stream:false} in, {response} out). The endpoint and
// model come from the user settings on every call.
type LocalClient struct {
	http    *http.Client
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewLocalClient creates a client. A nil httpClient uses a client with a
// 5 minute timeout; local models can be slow on the first prompt.
func NewLocalClient(httpClient *http.Client, mc *metrics.Collector, logger *slog.Logger) *LocalClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalClient{http: httpClient, metrics: mc, logger: logger}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate sends one non-streaming generate request.
func (c *LocalClient) Generate(ctx context.Context, endpoint, model, prompt string) (answer string, err error) {
	finish := c.metrics.Time(metrics.OpLLMGenerate)
	defer func() { finish(err) }()

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out generateResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = string(bytes.TrimSpace(data))
		}
		return "", wrapFatalError(fmt.Errorf("local generate: HTTP %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", fmt.Errorf("local generate: %s", out.Error)
	}

	c.logger.Debug("local generate complete", "endpoint", endpoint, "model", model, "answer_len", len(out.Response))
	return out.Response, nil
}
