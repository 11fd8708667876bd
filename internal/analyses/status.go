package analyses

import (
	"encoding/json"
	"time"
)

// StatusView is the polling projection of an analysis.
type StatusView struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	Progress      int             `json:"progress"`
	PartialResult json.RawMessage `json:"partialResult,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	StartedAt     *time.Time      `json:"startedAt"`
	FinishedAt    *time.Time      `json:"finishedAt"`
}

// DeriveStatus projects an analysis for polling clients. It never mutates a
// and tolerates a nil, partial or malformed response.
func DeriveStatus(a Analysis) StatusView {
	view := StatusView{
		ID:            a.ID,
		Kind:          a.Kind,
		Status:        a.Status,
		Progress:      progressOf(a.Response),
		FailureReason: a.FailureReason,
	}
	if len(a.Response) > 0 && json.Valid(a.Response) {
		view.PartialResult = a.Response
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		view.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		view.FinishedAt = &t
	}
	return view
}

func progressOf(response json.RawMessage) int {
	if len(response) == 0 {
		return 0
	}
	var doc struct {
		Metadata struct {
			Progress any `json:"progress"`
		} `json:"_metadata"`
	}
	if err := json.Unmarshal(response, &doc); err != nil {
		return 0
	}
	p, ok := doc.Metadata.Progress.(float64)
	if !ok {
		return 0
	}
	return min(100, max(0, int(p)))
}
