package domain

import "time"

type Disposition string

const (
	DispositionCommitted             Disposition = "committed"
	DispositionCommittedWithOverride Disposition = "committed_with_override"
)

// RawCountSubmission is the input of one reconciliation pass. It is never
// persisted as-is.
type RawCountSubmission struct {
	ID              string
	ItemID          string
	Input           CountingWorkflow
	Notes           string
	Actor           string
	AnomalyOverride bool
	OverrideNotes   string
	SubmittedAt     time.Time
}

// CountRecord is immutable once created.
type CountRecord struct {
	ID               string           `json:"id"`
	SubmissionID     string           `json:"submission_id"`
	ItemID           string           `json:"item_id"`
	Workflow         WorkflowKind     `json:"workflow"`
	Quantity         float64          `json:"quantity"`
	PreviousQuantity *float64         `json:"previous_quantity,omitempty"`
	Variance         float64          `json:"variance"`
	VarianceRatio    float64          `json:"variance_ratio"`
	RawInput         CountingWorkflow `json:"raw_input"`
	Anomalies        []Anomaly        `json:"anomalies"`
	Disposition      Disposition      `json:"disposition"`
	ContainerID      string           `json:"container_id,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	OverrideNotes    string           `json:"override_notes,omitempty"`
	Actor            string           `json:"actor,omitempty"`
	CountedAt        time.Time        `json:"counted_at"`
}
