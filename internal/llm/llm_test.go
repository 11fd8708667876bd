package llm

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "plain", content: `{"a":1}`, want: `{"a":1}`},
		{name: "leading prose", content: "Here you go:\n{\"a\":1} trailing", want: `{"a":1}`},
		{name: "closed think", content: "<think>maybe {x} or {y}</think>\n{\"a\":1}", want: `{"a":1}`},
		{name: "unclosed think", content: "<think>planning the answer\n{\"a\":{\"b\":2}}", want: `{"a":{"b":2}}`},
		{name: "reasoning tag", content: "<reasoning>r</reasoning>{\"a\":true}", want: `{"a":true}`},
		{name: "code fence", content: "```json\n{\"a\":\"x\"}\n```", want: `{"a":"x"}`},
		{name: "braces in strings", content: `{"a":"}{","b":"\"}"}`, want: `{"a":"}{","b":"\"}"}`},
		{name: "nested then more", content: `{"a":{"b":{}}} {"c":1}`, want: `{"a":{"b":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.content)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSONFailures(t *testing.T) {
	for _, content := range []string{"", "no json here", `{"a":`, "<think>never closes"} {
		_, err := ExtractJSON(content)
		assert.ErrorIs(t, err, ErrNoJSON, "content %q", content)
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Temporary())
	assert.True(t, (&APIError{StatusCode: 503}).Temporary())
	assert.False(t, (&APIError{StatusCode: 400}).Temporary())
	assert.False(t, (&APIError{StatusCode: 401}).Temporary())

	err := error(&APIError{Provider: "perplexity", StatusCode: 500, Body: " boom "})
	assert.Equal(t, "perplexity api error: status 500: boom", err.Error())
}

type sliceStream struct {
	deltas []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func TestCollect(t *testing.T) {
	s := &sliceStream{deltas: []string{"Hel", "lo"}}
	out, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
	assert.True(t, s.closed)

	boom := errors.New("boom")
	s = &sliceStream{deltas: []string{"partial"}, err: boom}
	out, err = Collect(s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", out)
}

func TestMessages(t *testing.T) {
	assert.Len(t, Messages("", "hi"), 1)
	msgs := Messages("sys", "hi")
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
}
