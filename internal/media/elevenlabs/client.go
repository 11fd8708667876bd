package elevenlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/shared/retry"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	providerName   = "elevenlabs"
	modelID        = "music_v1"
)

// Client implements media.Composer with the ElevenLabs music endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient constructs a client. An empty baseURL uses the public endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	p := retry.Default()
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		telemetry.Warn("media.retry", map[string]any{
			"provider": providerName,
			"attempt":  attempt,
			"wait_ms":  wait.Milliseconds(),
			"error":    err.Error(),
		})
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		policy:     p,
	}, nil
}

type composeBody struct {
	ModelID           string `json:"model_id"`
	Prompt            string `json:"prompt"`
	ForceInstrumental bool   `json:"force_instrumental"`
	MusicLengthMs     int    `json:"music_length_ms"`
}

func (c *Client) Name() string { return providerName }

// Compose returns the encoded clip. Rate limits and 5xx answers are retried.
func (c *Client) Compose(ctx context.Context, req media.ComposeRequest) ([]byte, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(composeBody{
		ModelID:           modelID,
		Prompt:            req.Prompt,
		ForceInstrumental: req.Instrumental,
		MusicLengthMs:     req.DurationMs,
	})
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/v1/music?" + url.Values{"output_format": {req.OutputFormat}}.Encode()

	var audio []byte
	err = retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("xi-api-key", c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
				return fmt.Errorf("elevenlabs request timeout: %w", err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return &media.APIError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(body)}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, media.MaxAudioBytes))
		if err != nil {
			return fmt.Errorf("elevenlabs read audio: %w", err)
		}
		if len(data) == 0 {
			return media.ErrEmptyAudio
		}
		audio = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Info("media.compose.complete", map[string]any{
		"provider":      providerName,
		"bytes":         len(audio),
		"prompt_length": len(req.Prompt),
		"duration_ms":   req.DurationMs,
	})
	return audio, nil
}

var _ media.Composer = (*Client)(nil)
