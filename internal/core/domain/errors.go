package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrValidation          = errors.New("validation error")
	ErrCommitFailed        = errors.New("commit failed")
	ErrIllegalTransition   = errors.New("illegal state transition")
	ErrNotFound            = errors.New("not found")
	ErrItemInactive        = errors.New("item is deactivated")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrBusy                = errors.New("count already in progress")
)

// ConfigurationError reports item or workflow configuration that cannot be
// used to interpret a submission. It is never retried.
type ConfigurationError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.ItemID != "" {
		fmt.Fprintf(&b, " for item %s", e.ItemID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports a submission that is missing fields required by its
// workflow. Anomalies holds one missing_required_field entry per field.
type ValidationError struct {
	Workflow  WorkflowKind
	Missing   []string
	Reason    string
	Anomalies []Anomaly
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error for %s", e.Workflow)
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StorageError wraps a failure reported by the storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// CommitFailed wraps a storage failure raised while committing a count.
func CommitFailed(op string, err error) error {
	return fmt.Errorf("%w: %w", ErrCommitFailed, &StorageError{Op: op, Err: err})
}
