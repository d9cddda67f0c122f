package port

import (
	"context"

	"github.com/rl1809/stock-count/internal/core/domain"
)

// Outcome is what the notification side learns about a reconciliation.
type Outcome struct {
	SubmissionID string           `json:"submission_id"`
	ItemID       string           `json:"item_id"`
	State        string           `json:"state"`
	Quantity     float64          `json:"quantity"`
	RecordID     string           `json:"record_id,omitempty"`
	Disposition  string           `json:"disposition,omitempty"`
	Anomalies    []domain.Anomaly `json:"anomalies"`
	Error        string           `json:"error,omitempty"`
}

type OutcomePublisher interface {
	// PublishOutcome delivers an outcome to listeners; delivery is best effort
	PublishOutcome(ctx context.Context, outcome Outcome) error
}
