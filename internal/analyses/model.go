package analyses

import (
	"encoding/json"
	"time"
)

// Kind distinguishes the two analysis stages.
type Kind string

const (
	KindExploratory Kind = "exploratory"
	KindRigidFinal  Kind = "rigid_final"
)

// Status is the lifecycle position of an analysis.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether an analysis may move from one status to another.
// Re-marking running is allowed so a retried job can resume its own analysis.
// pending->failed covers analyses whose job could not be enqueued.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusRunning || to == StatusDone || to == StatusFailed
	}
	return false
}

// Analysis is one generation attempt for a project.
type Analysis struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	Request       json.RawMessage `json:"requestPayload,omitempty"`
	Response      json.RawMessage `json:"responseJson,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	Status        *Status
	Response      json.RawMessage
	FailureReason *string
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// ExploratoryPayload is the job payload for the analysis queue.
type ExploratoryPayload struct {
	AnalysisID string `json:"analysisId"`
	ProjectID  string `json:"projectId"`
	SeedPrompt string `json:"seedPrompt,omitempty"`
}

// FinalizePayload is the job payload for the finalize queue.
type FinalizePayload struct {
	AnalysisID            string `json:"analysisId"`
	ProjectID             string `json:"projectId"`
	ExploratoryAnalysisID string `json:"exploratoryAnalysisId"`
	UseFindingsDraft      bool   `json:"useFindingsDraft"`
	SelectedIdeas         []int  `json:"selectedIdeas,omitempty"`
}

// FinalizeRequest is what a caller may ask of a finalize run.
type FinalizeRequest struct {
	UseFindingsDraft bool  `json:"useFindingsDraft"`
	SelectedIdeas    []int `json:"selectedIdeas,omitempty"`
}

// Progress metadata keys merged into the finalize response under "_metadata".
const (
	MetadataKey                  = "_metadata"
	MetaProgress                 = "progress"
	MetaAudioGenerationsComplete = "audioGenerationsCompleted"
	MetaTotalAudioGenerations    = "totalAudioGenerations"
)
