package service

import (
	"fmt"

	"github.com/rl1809/stock-count/internal/core/conversion"
	"github.com/rl1809/stock-count/internal/core/domain"
)

type State string

const (
	StateDraft                State = "draft"
	StateValidating           State = "validating"
	StateAutoCommittable      State = "auto_committable"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateRejected             State = "rejected"
	StateCommitted            State = "committed"
)

var transitions = map[State][]State{
	StateDraft:                {StateValidating},
	StateValidating:           {StateRejected, StateAutoCommittable, StateAwaitingConfirmation, StateCommitted},
	StateAutoCommittable:      {StateCommitted},
	StateAwaitingConfirmation: {StateValidating, StateRejected},
}

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected
}

// Reconciliation tracks one submission through validation to its
// disposition. It is not safe for concurrent use.
type Reconciliation struct {
	submission domain.RawCountSubmission
	state      State
	history    []State

	item       *domain.InventoryItem
	conversion *conversion.Conversion
	previous   *domain.CountRecord
	keg        *domain.KegState
	batch      *domain.BatchState
	anomalies  []domain.Anomaly
	record     *domain.CountRecord
	err        error
}

func newReconciliation(sub domain.RawCountSubmission) *Reconciliation {
	return &Reconciliation{
		submission: sub,
		state:      StateDraft,
		history:    []State{StateDraft},
	}
}

func (r *Reconciliation) transition(to State) error {
	for _, allowed := range transitions[r.state] {
		if allowed == to {
			r.state = to
			r.history = append(r.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, r.state, to)
}

// reset clears the results of a previous validation pass.
func (r *Reconciliation) reset() {
	r.item = nil
	r.conversion = nil
	r.previous = nil
	r.keg = nil
	r.batch = nil
	r.anomalies = nil
	r.err = nil
}

func (r *Reconciliation) State() State { return r.state }

func (r *Reconciliation) History() []State {
	return append([]State(nil), r.history...)
}

func (r *Reconciliation) Submission() domain.RawCountSubmission { return r.submission }

// Anomalies returns every anomaly found by the last validation pass, most
// severe first.
func (r *Reconciliation) Anomalies() []domain.Anomaly {
	return append([]domain.Anomaly(nil), r.anomalies...)
}

// Quantity is the canonical quantity computed by the last validation pass.
func (r *Reconciliation) Quantity() (float64, bool) {
	if r.conversion == nil {
		return 0, false
	}
	return r.conversion.Quantity, true
}

func (r *Reconciliation) Conversion() *conversion.Conversion { return r.conversion }

// Record is set once the reconciliation is committed.
func (r *Reconciliation) Record() *domain.CountRecord { return r.record }

// Err is the error that rejected the submission or failed its commit.
func (r *Reconciliation) Err() error { return r.err }
