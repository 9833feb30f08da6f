// Package client talks to a running jobpilot daemon over POST /rpc.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const (
	DefaultEndpoint = "http://127.0.0.1:7878/rpc"

	// prompts wait on the assistant, so the default is generous
	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 4 << 10
)

type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a client for endpoint. An empty endpoint falls back to
// JOBPILOT_SERVER_URL and then DefaultEndpoint. JOBPILOT_CLIENT_TIMEOUT
// overrides the request timeout.
func New(endpoint string) *Client {
	return &Client{
		endpoint: rpcURL(endpoint),
		http:     &http.Client{Timeout: timeoutFromEnv()},
	}
}

func rpcURL(endpoint string) string {
	for _, candidate := range []string{endpoint, os.Getenv("JOBPILOT_SERVER_URL"), DefaultEndpoint} {
		if candidate == "" {
			continue
		}
		if strings.HasSuffix(candidate, "/rpc") {
			return candidate
		}
		return strings.TrimSuffix(candidate, "/") + "/rpc"
	}
	return DefaultEndpoint
}

func timeoutFromEnv() time.Duration {
	d, err := time.ParseDuration(os.Getenv("JOBPILOT_CLIENT_TIMEOUT"))
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

func (c *Client) Endpoint() string { return c.endpoint }

// Call sends a message of type t and decodes the answer into result, which
// may be nil. A response with success=false comes back as
// *models.ResponseError.
func (c *Client) Call(ctx context.Context, t models.MessageType, payload, result any) error {
	msg, err := models.NewMessage(uuid.NewString(), t, "", payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", t, err)
	}

	resp, err := c.post(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	if resp.ID != msg.ID {
		return fmt.Errorf("%s: response id %q does not match request %q", t, resp.ID, msg.ID)
	}
	if err := resp.DecodeData(result); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, msg models.Message) (*models.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, fmt.Errorf("daemon returned %s: %s", httpResp.Status, strings.TrimSpace(string(text)))
	}

	var resp models.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Stats returns the counters, queue and tab snapshot.
func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	var snap models.StatsSnapshot
	if err := c.Call(ctx, models.MsgGetStats, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Settings returns the current settings.
func (c *Client) Settings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	if err := c.Call(ctx, models.MsgGetConfig, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings merges patch into the settings and returns the result.
func (c *Client) UpdateSettings(ctx context.Context, patch models.SettingsPatch) (*models.Settings, error) {
	var s models.Settings
	if err := c.Call(ctx, models.MsgUpdateConfig, patch, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Start resumes automation.
func (c *Client) Start(ctx context.Context) error {
	return c.Call(ctx, models.MsgStartAutomation, nil, nil)
}

// Stop pauses automation.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, models.MsgStopAutomation, nil, nil)
}

// FetchJobs opens the search result tabs.
func (c *Client) FetchJobs(ctx context.Context) error {
	return c.Call(ctx, models.MsgFetchJobs, nil, nil)
}

// ClearCache empties the queue and the counters.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.Call(ctx, models.MsgClearCache, nil, nil)
}

// Prompt asks the configured assistant.
func (c *Client) Prompt(ctx context.Context, prompt string) (string, error) {
	var answer string
	if err := c.Call(ctx, models.MsgProxyPrompt, models.PromptPayload{Prompt: prompt}, &answer); err != nil {
		return "", err
	}
	return answer, nil
}
