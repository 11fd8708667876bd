package perplexity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/shared/retry"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	providerName   = "perplexity"
	maxErrorBody   = 4 << 10
)

// Client implements llm.Client against the Perplexity chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient constructs a client. An empty baseURL uses the public endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	p := retry.Default()
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		telemetry.Warn("llm.retry", map[string]any{
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

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []llm.Message   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a non-streaming completion, retrying rate limits and server errors.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	payload, err := c.encode(req, false)
	if err != nil {
		return llm.Response{}, err
	}

	var out llm.Response
	err = retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		resp, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("perplexity read body: %w", err)
		}
		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("perplexity response parse: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("perplexity response missing choices")
		}
		content := strings.TrimSpace(parsed.Choices[0].Message.Content)
		if content == "" {
			return llm.ErrEmptyResponse
		}
		out = llm.Response{Model: parsed.Model, Content: content}
		if parsed.Usage != nil {
			out.Usage = &llm.Usage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			}
		}
		return nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	logUsage(req.Model, out.Usage)
	return out, nil
}

// Stream opens an SSE completion. Only the connection attempt is retried.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	payload, err := c.encode(req, true)
	if err != nil {
		return nil, err
	}
	var resp *http.Response
	err = retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		r, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

func (c *Client) encode(req llm.Request, stream bool) ([]byte, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("perplexity model is required")
	}
	body := chatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: map[string]any{"name": req.Schema.Name, "schema": req.Schema.Schema},
		}
	}
	return json.Marshal(body)
}

// post returns a response with a 2xx status; any other status is drained into an *llm.APIError.
func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, fmt.Errorf("perplexity request timeout: %w", err)
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.APIError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *sseStream) Recv() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("perplexity stream parse: %w", err)
		}
		var b strings.Builder
		for _, choice := range chunk.Choices {
			switch {
			case choice.Delta.Content != "":
				b.WriteString(choice.Delta.Content)
			case choice.Message.Content != "":
				b.WriteString(choice.Message.Content)
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				s.done = true
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	if err := s.scanner.Err(); err != nil && !s.done {
		return "", fmt.Errorf("perplexity stream read: %w", err)
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

func logUsage(model string, usage *llm.Usage) {
	fields := map[string]any{"provider": providerName, "model": model}
	if usage != nil {
		fields["prompt_tokens"] = usage.PromptTokens
		fields["completion_tokens"] = usage.CompletionTokens
		fields["total_tokens"] = usage.TotalTokens
	}
	telemetry.Info("llm.response", fields)
}

var _ llm.Client = (*Client)(nil)
