package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultDurationMs   = 10000
	DefaultOutputFormat = "mp3_44100_128"
	// MaxAudioBytes caps a downloaded or returned clip.
	MaxAudioBytes = 50 << 20
)

// ComposeRequest describes one short instrumental clip.
type ComposeRequest struct {
	Prompt       string
	DurationMs   int
	Instrumental bool
	OutputFormat string
}

// Composer turns a musical prompt into encoded audio bytes.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) ([]byte, error)
	// Name identifies the provider in artifact metadata.
	Name() string
}

var (
	ErrEmptyPrompt = errors.New("compose prompt is required")
	ErrEmptyAudio  = errors.New("provider returned no audio")
)

// APIError is a non-2xx answer from a music provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, body)
}

// Temporary reports whether the call is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Normalize fills defaults and rejects an empty prompt.
func (r ComposeRequest) Normalize() (ComposeRequest, error) {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return r, ErrEmptyPrompt
	}
	if r.DurationMs <= 0 {
		r.DurationMs = DefaultDurationMs
	}
	if strings.TrimSpace(r.OutputFormat) == "" {
		r.OutputFormat = DefaultOutputFormat
	}
	return r, nil
}
