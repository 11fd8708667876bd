package artifacts

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Type is the kind of generated output.
type Type string

const (
	TypeAudio Type = "audio"
	TypePDF   Type = "pdf"
)

// Artifact is one stored output of a finalize run. It is written once, after
// its bytes are in object storage, and never updated.
type Artifact struct {
	ID         string         `json:"id"`
	AnalysisID string         `json:"analysisId"`
	Type       Type           `json:"type"`
	StorageKey string         `json:"storageKey"`
	Filename   string         `json:"filename"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AudioKey is the storage key of audio rendition n.
func AudioKey(projectID, analysisID string, n int) string {
	return fmt.Sprintf("projects/%s/artifacts/%s/audio-%d.mp3", projectID, analysisID, n)
}

// ReportKey is the storage key of an analysis's PDF report.
func ReportKey(projectID, analysisID string) string {
	return fmt.Sprintf("projects/%s/artifacts/%s/report.pdf", projectID, analysisID)
}
