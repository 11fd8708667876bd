package jobs

import (
	stdjson "encoding/json"
	"fmt"

	json "github.com/goccy/go-json"
)

// EncodePayload marshals a job payload or result.
func EncodePayload(v any) (stdjson.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(stdjson.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a job payload into v.
func DecodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("decode payload: empty body")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
