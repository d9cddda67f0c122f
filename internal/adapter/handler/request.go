package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/service"
)

// CountRequest carries one raw count. Fields holds the workflow's inputs,
// e.g. {"container_instance_id":"bin-1","gross_weight":2350}. A held count is
// confirmed by sending it again with anomaly_override and override_notes.
type CountRequest struct {
	SubmissionID    string          `json:"submission_id"`
	ItemID          string          `json:"item_id"`
	Workflow        string          `json:"workflow"`
	Fields          json.RawMessage `json:"fields"`
	Notes           string          `json:"notes"`
	Actor           string          `json:"actor"`
	AnomalyOverride bool            `json:"anomaly_override"`
	OverrideNotes   string          `json:"override_notes"`
}

type CountResponse struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	SubmissionID  string           `json:"submission_id,omitempty"`
	State         string           `json:"state,omitempty"`
	Quantity      *float64         `json:"quantity,omitempty"`
	RecordID      string           `json:"record_id,omitempty"`
	Disposition   string           `json:"disposition,omitempty"`
	Anomalies     []domain.Anomaly `json:"anomalies"`
	MissingFields []string         `json:"missing_fields,omitempty"`
}

func (r CountRequest) toSubmission() (domain.RawCountSubmission, error) {
	kind, err := domain.ParseWorkflowKind(r.Workflow)
	if err != nil {
		return domain.RawCountSubmission{}, err
	}
	in, err := domain.DecodeFields(kind, r.Fields)
	if err != nil {
		return domain.RawCountSubmission{}, &domain.ValidationError{Workflow: kind, Reason: err.Error()}
	}
	return domain.RawCountSubmission{
		ID:              r.SubmissionID,
		ItemID:          r.ItemID,
		Input:           in,
		Notes:           r.Notes,
		Actor:           r.Actor,
		AnomalyOverride: r.AnomalyOverride,
		OverrideNotes:   r.OverrideNotes,
	}, nil
}

func submit(ctx context.Context, svc *service.CountService, req CountRequest) (int, CountResponse) {
	if req.ItemID == "" {
		return http.StatusBadRequest, CountResponse{Message: "item_id is required", Anomalies: []domain.Anomaly{}}
	}
	sub, err := req.toSubmission()
	if err != nil {
		return errorStatus(err), CountResponse{Message: err.Error(), Anomalies: []domain.Anomaly{}}
	}

	rec, err := svc.Submit(ctx, sub)
	return countResult(rec, err)
}

func countResult(rec *service.Reconciliation, err error) (int, CountResponse) {
	out := service.Outcome(rec)
	resp := CountResponse{
		SubmissionID: out.SubmissionID,
		State:        out.State,
		RecordID:     out.RecordID,
		Disposition:  out.Disposition,
		Anomalies:    out.Anomalies,
	}
	if resp.Anomalies == nil {
		resp.Anomalies = []domain.Anomaly{}
	}
	if q, ok := rec.Quantity(); ok {
		resp.Quantity = &q
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.MissingFields = verr.Missing
	}

	if err != nil {
		resp.Message = err.Error()
		return errorStatus(err), resp
	}

	switch rec.State() {
	case service.StateCommitted:
		resp.Success = true
		resp.Message = "count committed"
		return http.StatusCreated, resp
	case service.StateAwaitingConfirmation:
		resp.Message = "count held for confirmation"
		return http.StatusAccepted, resp
	default:
		resp.Message = "count not committed"
		return http.StatusInternalServerError, resp
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, domain.ErrCommitFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrItemInactive),
		errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type ItemRequest struct {
	Name     string            `json:"name"`
	Unit     string            `json:"unit"`
	Workflow string            `json:"workflow"`
	ParLow   float64           `json:"par_low"`
	ParHigh  float64           `json:"par_high"`
	Params   domain.ItemParams `json:"params"`
}

type ContainerRequest struct {
	ID                        string  `json:"id" binding:"required"`
	Barcode                   string  `json:"barcode"`
	TareWeight                float64 `json:"tare_weight"`
	VerificationFrequencyDays int     `json:"verification_frequency_days"`
}

type ReweighRequest struct {
	TareWeight *float64 `json:"tare_weight" binding:"required"`
}

type TapRequest struct {
	TapDate time.Time `json:"tap_date" binding:"required"`
}

type BatchRequest struct {
	ItemID    string    `json:"item_id" binding:"required"`
	BatchDate time.Time `json:"batch_date" binding:"required"`
}
