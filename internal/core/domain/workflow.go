package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type WorkflowKind string

const (
	WorkflowUnitCount       WorkflowKind = "unit_count"
	WorkflowContainerWeight WorkflowKind = "container_weight"
	WorkflowBottleHybrid    WorkflowKind = "bottle_hybrid"
	WorkflowKegWeight       WorkflowKind = "keg_weight"
	WorkflowBatchWeight     WorkflowKind = "batch_weight"
)

// WorkflowKinds lists every supported counting modality in registry order.
var WorkflowKinds = []WorkflowKind{
	WorkflowUnitCount,
	WorkflowContainerWeight,
	WorkflowBottleHybrid,
	WorkflowKegWeight,
	WorkflowBatchWeight,
}

func ParseWorkflowKind(s string) (WorkflowKind, error) {
	for _, k := range WorkflowKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ConfigurationError{Field: "workflow", Reason: fmt.Sprintf("unknown workflow %q", s)}
}

// CountingWorkflow is the raw, workflow-specific part of a count submission.
// The set of implementations is closed; switch over the concrete types.
type CountingWorkflow interface {
	Kind() WorkflowKind
	isCountingWorkflow()
}

type UnitCount struct {
	Quantity *float64 `json:"quantity,omitempty"`
}

type ContainerWeight struct {
	ContainerID string   `json:"container_instance_id,omitempty"`
	GrossWeight *float64 `json:"gross_weight,omitempty"` // grams
}

type BottleHybrid struct {
	FullBottles    *int      `json:"full_bottle_count,omitempty"`
	PartialWeights []float64 `json:"partial_bottle_weights,omitempty"` // grams
}

type KegWeight struct {
	GrossWeight *float64   `json:"gross_weight,omitempty"` // grams
	TappedAt    *time.Time `json:"tap_date,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"` // celsius
}

type BatchWeight struct {
	BatchRef    string     `json:"batch_id,omitempty"`
	ContainerID string     `json:"container_instance_id,omitempty"`
	GrossWeight *float64   `json:"gross_weight,omitempty"` // grams
	BatchDate   *time.Time `json:"batch_date,omitempty"`
	UseByDate   *time.Time `json:"use_by_date,omitempty"`
}

func (UnitCount) Kind() WorkflowKind       { return WorkflowUnitCount }
func (ContainerWeight) Kind() WorkflowKind { return WorkflowContainerWeight }
func (BottleHybrid) Kind() WorkflowKind    { return WorkflowBottleHybrid }
func (KegWeight) Kind() WorkflowKind       { return WorkflowKegWeight }
func (BatchWeight) Kind() WorkflowKind     { return WorkflowBatchWeight }

func (UnitCount) isCountingWorkflow()       {}
func (ContainerWeight) isCountingWorkflow() {}
func (BottleHybrid) isCountingWorkflow()    {}
func (KegWeight) isCountingWorkflow()       {}
func (BatchWeight) isCountingWorkflow()     {}

// ContainerRef returns the container referenced by the input, if any.
func ContainerRef(in CountingWorkflow) string {
	switch v := in.(type) {
	case ContainerWeight:
		return v.ContainerID
	case BatchWeight:
		return v.ContainerID
	default:
		return ""
	}
}

type inputEnvelope struct {
	Workflow WorkflowKind    `json:"workflow"`
	Fields   json.RawMessage `json:"fields"`
}

// EncodeInput serializes a raw input for the audit trail of a CountRecord.
func EncodeInput(in CountingWorkflow) ([]byte, error) {
	if in == nil {
		return nil, fmt.Errorf("encode input: %w", ErrValidation)
	}
	fields, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return json.Marshal(inputEnvelope{Workflow: in.Kind(), Fields: fields})
}

func DecodeInput(data []byte) (CountingWorkflow, error) {
	var env inputEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode input envelope: %w", err)
	}
	return DecodeFields(env.Workflow, env.Fields)
}

// DecodeFields builds the variant for kind from its JSON fields.
func DecodeFields(kind WorkflowKind, fields []byte) (CountingWorkflow, error) {
	if len(fields) == 0 {
		fields = []byte("{}")
	}

	var (
		in  CountingWorkflow
		err error
	)
	switch kind {
	case WorkflowUnitCount:
		var v UnitCount
		err = json.Unmarshal(fields, &v)
		in = v
	case WorkflowContainerWeight:
		var v ContainerWeight
		err = json.Unmarshal(fields, &v)
		in = v
	case WorkflowBottleHybrid:
		var v BottleHybrid
		err = json.Unmarshal(fields, &v)
		in = v
	case WorkflowKegWeight:
		var v KegWeight
		err = json.Unmarshal(fields, &v)
		in = v
	case WorkflowBatchWeight:
		var v BatchWeight
		err = json.Unmarshal(fields, &v)
		in = v
	default:
		return nil, &ConfigurationError{Field: "workflow", Reason: fmt.Sprintf("unknown workflow %q", kind)}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", kind, err)
	}
	return in, nil
}
