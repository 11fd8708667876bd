package queue

import (
	"time"

	json "github.com/goccy/go-json"
)

// Message is the wake-up notice published when a job becomes ready.
// It carries no job data; workers always claim from the job store.
type Message struct {
	Queue      string `json:"queue"`
	JobID      string `json:"jobId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a message for the given queue and job.
func NewMessage(queueName, jobID string, now time.Time) Message {
	return Message{
		Queue:      queueName,
		JobID:      jobID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    1,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
