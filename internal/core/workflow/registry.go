// Package workflow holds the static definition of every counting modality:
// which submission fields it needs and the physical bounds of its readings.
package workflow

import (
	"fmt"

	"github.com/rl1809/stock-count/internal/core/domain"
)

// Field names as they appear in submissions and missing-field reports.
const (
	FieldQuantity            = "quantity"
	FieldContainerID         = "container_instance_id"
	FieldGrossWeight         = "gross_weight"
	FieldFullBottleCount     = "full_bottle_count"
	FieldPartialBottleWeight = "partial_bottle_weights"
	FieldTapDate             = "tap_date"
	FieldTemperature         = "temperature"
	FieldBatchID             = "batch_id"
	FieldBatchDate           = "batch_date"
	FieldUseByDate           = "use_by_date"
	FieldNotes               = "notes"
	FieldWorkflow            = "workflow"
	FieldOverrideNotes       = "override_notes"
)

type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

type Definition struct {
	Kind     domain.WorkflowKind
	Required []string
	Optional []string
	Bounds   map[string]Bounds
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	defs map[domain.WorkflowKind]Definition
}

func defaultDefinitions() []Definition {
	return []Definition{
		{
			Kind:     domain.WorkflowUnitCount,
			Required: []string{FieldQuantity},
			Optional: []string{FieldNotes},
			Bounds:   map[string]Bounds{FieldQuantity: {Min: 0, Max: 100000}},
		},
		{
			Kind:     domain.WorkflowContainerWeight,
			Required: []string{FieldContainerID, FieldGrossWeight},
			Optional: []string{FieldNotes},
			Bounds:   map[string]Bounds{FieldGrossWeight: {Min: 0, Max: 50000}},
		},
		{
			Kind:     domain.WorkflowBottleHybrid,
			Required: []string{FieldFullBottleCount},
			Optional: []string{FieldPartialBottleWeight, FieldNotes},
			Bounds: map[string]Bounds{
				FieldFullBottleCount:     {Min: 0, Max: 1000},
				FieldPartialBottleWeight: {Min: 0, Max: 5000},
			},
		},
		{
			Kind:     domain.WorkflowKegWeight,
			Required: []string{FieldGrossWeight},
			Optional: []string{FieldTapDate, FieldTemperature, FieldNotes},
			Bounds:   map[string]Bounds{FieldGrossWeight: {Min: 5000, Max: 80000}},
		},
		{
			Kind:     domain.WorkflowBatchWeight,
			Required: []string{FieldBatchID, FieldContainerID, FieldGrossWeight},
			Optional: []string{FieldBatchDate, FieldUseByDate, FieldNotes},
			Bounds:   map[string]Bounds{FieldGrossWeight: {Min: 0, Max: 50000}},
		},
	}
}

// NewRegistry builds a registry from the default definitions. Overrides
// replace the default definition of the same kind.
func NewRegistry(overrides ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[domain.WorkflowKind]Definition, len(domain.WorkflowKinds))}
	for _, d := range defaultDefinitions() {
		r.defs[d.Kind] = d
	}
	for _, d := range overrides {
		if _, ok := r.defs[d.Kind]; !ok {
			return nil, &domain.ConfigurationError{Field: FieldWorkflow, Reason: fmt.Sprintf("unknown workflow %q", d.Kind)}
		}
		for field, b := range d.Bounds {
			if b.Min > b.Max {
				return nil, &domain.ConfigurationError{Field: field, Reason: "bounds minimum exceeds maximum"}
			}
		}
		r.defs[d.Kind] = cloneDefinition(d)
	}
	return r, nil
}

func DefaultRegistry() *Registry {
	r, _ := NewRegistry()
	return r
}

func (r *Registry) Definition(kind domain.WorkflowKind) (Definition, error) {
	d, ok := r.defs[kind]
	if !ok {
		return Definition{}, &domain.ConfigurationError{Field: FieldWorkflow, Reason: fmt.Sprintf("unknown workflow %q", kind)}
	}
	return cloneDefinition(d), nil
}

func (r *Registry) Bounds(kind domain.WorkflowKind, field string) (Bounds, bool) {
	d, ok := r.defs[kind]
	if !ok {
		return Bounds{}, false
	}
	b, ok := d.Bounds[field]
	return b, ok
}

// ValidateRequiredFields reports the required fields absent from sub, in the
// definition's order. A nil slice means the submission is complete.
func (r *Registry) ValidateRequiredFields(kind domain.WorkflowKind, sub domain.RawCountSubmission) ([]string, error) {
	def, err := r.Definition(kind)
	if err != nil {
		return nil, err
	}
	if sub.Input == nil || sub.Input.Kind() != kind {
		return []string{FieldWorkflow}, nil
	}

	present := presentFields(sub.Input)
	var missing []string
	for _, f := range def.Required {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	if sub.AnomalyOverride && sub.OverrideNotes == "" {
		missing = append(missing, FieldOverrideNotes)
	}
	return missing, nil
}

func presentFields(in domain.CountingWorkflow) map[string]bool {
	p := make(map[string]bool)
	switch v := in.(type) {
	case domain.UnitCount:
		p[FieldQuantity] = v.Quantity != nil
	case domain.ContainerWeight:
		p[FieldContainerID] = v.ContainerID != ""
		p[FieldGrossWeight] = v.GrossWeight != nil
	case domain.BottleHybrid:
		p[FieldFullBottleCount] = v.FullBottles != nil
		p[FieldPartialBottleWeight] = len(v.PartialWeights) > 0
	case domain.KegWeight:
		p[FieldGrossWeight] = v.GrossWeight != nil
		p[FieldTapDate] = v.TappedAt != nil
		p[FieldTemperature] = v.Temperature != nil
	case domain.BatchWeight:
		p[FieldBatchID] = v.BatchRef != ""
		p[FieldContainerID] = v.ContainerID != ""
		p[FieldGrossWeight] = v.GrossWeight != nil
		p[FieldBatchDate] = v.BatchDate != nil
		p[FieldUseByDate] = v.UseByDate != nil
	}
	return p
}

func cloneDefinition(d Definition) Definition {
	out := Definition{
		Kind:     d.Kind,
		Required: append([]string(nil), d.Required...),
		Optional: append([]string(nil), d.Optional...),
		Bounds:   make(map[string]Bounds, len(d.Bounds)),
	}
	for k, v := range d.Bounds {
		out.Bounds[k] = v
	}
	return out
}
