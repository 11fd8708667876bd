package analyses

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDeriveStatusProgress(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{name: "no response", response: "", want: 0},
		{name: "no metadata", response: `{"jingle":{}}`, want: 0},
		{name: "progress", response: `{"_metadata":{"progress":60}}`, want: 60},
		{name: "fractional", response: `{"_metadata":{"progress":40.9}}`, want: 40},
		{name: "clamped high", response: `{"_metadata":{"progress":250}}`, want: 100},
		{name: "clamped low", response: `{"_metadata":{"progress":-5}}`, want: 0},
		{name: "string progress", response: `{"_metadata":{"progress":"80"}}`, want: 0},
		{name: "metadata not object", response: `{"_metadata":7}`, want: 0},
		{name: "array response", response: `[1,2,3]`, want: 0},
		{name: "invalid json", response: `{"_metadata":`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analysis{ID: "a1", Status: StatusRunning}
			if tt.response != "" {
				a.Response = json.RawMessage(tt.response)
			}
			if got := DeriveStatus(a).Progress; got != tt.want {
				t.Fatalf("progress = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeriveStatusPartialResultAndCopies(t *testing.T) {
	started := time.Now().UTC()
	a := Analysis{
		ID:            "a1",
		Kind:          KindRigidFinal,
		Status:        StatusFailed,
		Response:      json.RawMessage(`{"_metadata":{"progress":20}}`),
		FailureReason: "missing description4",
		StartedAt:     &started,
	}
	view := DeriveStatus(a)
	if view.FailureReason != "missing description4" || string(view.PartialResult) != string(a.Response) {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.StartedAt == a.StartedAt {
		t.Fatalf("view should not alias the analysis timestamps")
	}

	a.Response = json.RawMessage(`{broken`)
	if view := DeriveStatus(a); view.PartialResult != nil {
		t.Fatalf("invalid json should not be surfaced, got %s", view.PartialResult)
	}
}
