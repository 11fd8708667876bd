package replicate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	DefaultBaseURL      = "https://api.replicate.com"
	DefaultPollInterval = 2 * time.Second
	DefaultMaxPolls     = 60
	providerName        = "replicate"
)

// Client implements media.Composer with an ace-step model hosted on Replicate.
type Client struct {
	token        string
	version      string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// NewClient constructs a client for the given model version.
func NewClient(token, version, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("ACE_STEP_MODEL_VERSION is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		token:        token,
		version:      version,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
	}, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

type predictionInput struct {
	Tags     string `json:"tags"`
	Duration int    `json:"duration"`
}

func (c *Client) Name() string { return providerName }

// Compose creates a prediction, polls it to completion and downloads the output.
func (c *Client) Compose(ctx context.Context, req media.ComposeRequest) ([]byte, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	seconds := max(1, req.DurationMs/1000)
	body, err := json.Marshal(map[string]any{
		"version": c.version,
		"input":   predictionInput{Tags: req.Prompt, Duration: seconds},
	})
	if err != nil {
		return nil, err
	}

	var pred prediction
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/predictions", body, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("replicate prediction missing id")
	}

	done, err := c.poll(ctx, pred)
	if err != nil {
		return nil, err
	}
	outURL, err := outputURL(done.Output)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", done.ID, err)
	}
	audio, err := c.download(ctx, outURL)
	if err != nil {
		return nil, err
	}
	telemetry.Info("media.compose.complete", map[string]any{
		"provider":      providerName,
		"prediction_id": done.ID,
		"bytes":         len(audio),
	})
	return audio, nil
}

func (c *Client) poll(ctx context.Context, pred prediction) (prediction, error) {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			reason := "unknown error"
			if pred.Error != nil {
				reason = fmt.Sprint(pred.Error)
			}
			return pred, fmt.Errorf("prediction %s %s: %s", pred.ID, pred.Status, reason)
		}

		t := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return pred, ctx.Err()
		case <-t.C:
		}

		var next prediction
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/predictions/"+pred.ID, nil, &next); err != nil {
			return pred, err
		}
		pred = next
	}
	if pred.Status == "succeeded" {
		return pred, nil
	}
	return pred, fmt.Errorf("prediction %s did not complete within %d polls", pred.ID, c.maxPolls)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &media.APIError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("replicate response parse: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, media.MaxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	if len(data) == 0 {
		return nil, media.ErrEmptyAudio
	}
	return data, nil
}

// outputURL accepts either a single URL or a list and returns the first.
func outputURL(raw []byte) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", fmt.Errorf("missing output url")
}

var _ media.Composer = (*Client)(nil)
