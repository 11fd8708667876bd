package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiobrand-backend/internal/media"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("xi-key", srv.URL, 5*time.Second)
	require.NoError(t, err)
	c.policy.BaseDelay = time.Millisecond
	c.policy.Jitter = 0
	c.policy.OnRetry = nil
	return c
}

func TestComposeSendsPromptRequest(t *testing.T) {
	type seen struct {
		path, format, key string
		body              map[string]any
	}
	requests := make(chan seen, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests <- seen{path: r.URL.Path, format: r.URL.Query().Get("output_format"), key: r.Header.Get("xi-api-key"), body: body}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	})

	audio, err := c.Compose(context.Background(), media.ComposeRequest{
		Prompt:       "bright ukulele motif",
		DurationMs:   10000,
		Instrumental: true,
		OutputFormat: "mp3_44100_128",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)

	got := <-requests
	assert.Equal(t, "/v1/music", got.path)
	assert.Equal(t, "mp3_44100_128", got.format)
	assert.Equal(t, "xi-key", got.key)
	assert.Equal(t, "music_v1", got.body["model_id"])
	assert.Equal(t, "bright ukulele motif", got.body["prompt"])
	assert.Equal(t, true, got.body["force_instrumental"])
	assert.EqualValues(t, 10000, got.body["music_length_ms"])
	assert.Equal(t, "elevenlabs", c.Name())
}

func TestComposeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("audio"))
	})
	audio, err := c.Compose(context.Background(), media.ComposeRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "audio", string(audio))
	assert.EqualValues(t, 2, calls.Load())
}

func TestComposeRejectedPrompt(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"bad_prompt"}`))
	})
	_, err := c.Compose(context.Background(), media.ComposeRequest{Prompt: "x"})
	var apiErr *media.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "bad_prompt")
	assert.EqualValues(t, 1, calls.Load())
}

func TestComposeEmptyPromptSkipsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	})
	_, err := c.Compose(context.Background(), media.ComposeRequest{Prompt: " "})
	require.ErrorIs(t, err, media.ErrEmptyPrompt)
}

func TestComposeEmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := c.Compose(context.Background(), media.ComposeRequest{Prompt: "x"})
	require.ErrorIs(t, err, media.ErrEmptyAudio)
}
