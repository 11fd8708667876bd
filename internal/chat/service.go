// Package chat streams free-form assistant replies for a project
// conversation. Both sides of the exchange are stored as project messages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/shared/telemetry"
)

const (
	defaultModel       = "sonar-pro"
	defaultTemperature = 0.4
	defaultMaxTokens   = 4000
)

const systemPrompt = `You are a sonic branding strategist and music director helping a brand refine its audio identity.
Tie every brand insight to a concrete musical direction: instrumentation, rhythm, hooks and production style.
Format replies with markdown.`

// ErrInvalidInput is returned for an empty or malformed chat message.
var ErrInvalidInput = errors.New("invalid chat input")

// Request is one user turn.
type Request struct {
	Message          json.RawMessage `json:"message"`
	UseFindingsDraft bool            `json:"useFindingsDraft"`
	// RigidResponse is the report of a finalize run the user is discussing.
	RigidResponse json.RawMessage `json:"rigidResponse,omitempty"`
}

// Service opens chat turns.
type Service struct {
	Projects *projects.Service
	LLM      llm.Client
	Model    string
}

// Turn is an open assistant reply. The caller drains Next until io.EOF and
// then calls Finish, or calls Close to abandon it.
type Turn struct {
	UserMessage projects.Message

	svc       *Service
	projectID string
	stream    llm.Stream
	reply     strings.Builder
}

// Start stores the user message and opens the completion stream. Errors
// returned here happen before anything has been streamed.
func (s *Service) Start(ctx context.Context, projectID, senderID string, req Request) (*Turn, error) {
	text, err := messageText(req.Message)
	if err != nil {
		return nil, err
	}
	project, err := s.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.Projects.PostMessage(ctx, projectID, projects.RoleUser, req.Message, senderID)
	if err != nil {
		return nil, err
	}

	model := s.Model
	if model == "" {
		model = defaultModel
	}
	stream, err := s.LLM.Stream(ctx, llm.Request{
		Model:       model,
		Messages:    llm.Messages(systemPrompt, userPrompt(project, req, text)),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	telemetry.Info("chat.stream.started", map[string]any{"project_id": projectID, "model": model})
	return &Turn{UserMessage: userMsg, svc: s, projectID: projectID, stream: stream}, nil
}

// Next returns the next non-empty delta, or io.EOF once the reply is complete.
func (t *Turn) Next() (string, error) {
	for {
		delta, err := t.stream.Recv()
		if err != nil {
			return "", err
		}
		if delta == "" {
			continue
		}
		t.reply.WriteString(delta)
		return delta, nil
	}
}

// Finish closes the stream and stores the assistant reply.
func (t *Turn) Finish(ctx context.Context) (projects.Message, error) {
	_ = t.stream.Close()
	content, err := json.Marshal(map[string]string{
		"type": "chat_response",
		"text": strings.TrimSpace(t.reply.String()),
	})
	if err != nil {
		return projects.Message{}, err
	}
	msg, err := t.svc.Projects.PostMessage(ctx, t.projectID, projects.RoleAssistant, content, "")
	if err != nil {
		return projects.Message{}, err
	}
	telemetry.Info("chat.stream.completed", map[string]any{
		"project_id": t.projectID,
		"message_id": msg.ID,
		"chars":      t.reply.Len(),
	})
	return msg, nil
}

// Close abandons the turn without storing a reply.
func (t *Turn) Close() error {
	return t.stream.Close()
}

// messageText accepts a JSON string, an object with a text field, or any
// other JSON value, which is used verbatim.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || !json.Valid(raw) {
		return "", fmt.Errorf("%w: message must be JSON", ErrInvalidInput)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: message is empty", ErrInvalidInput)
		}
		return s, nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Text) != "" {
		return obj.Text, nil
	}
	return string(raw), nil
}

func userPrompt(p projects.Project, req Request, text string) string {
	var b strings.Builder
	if len(req.RigidResponse) > 0 && string(req.RigidResponse) != "null" {
		b.WriteString("The previous suggestions were:\n")
		b.Write(req.RigidResponse)
		b.WriteString("\n\n")
	}
	if req.UseFindingsDraft && len(p.FindingsDraft) > 0 {
		b.WriteString("Based on the previous findings:\n")
		b.Write(p.FindingsDraft)
		b.WriteString("\n\n")
	}
	b.WriteString(text)
	return b.String()
}
