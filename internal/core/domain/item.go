package domain

import (
	"time"
)

// ItemParams holds the physical parameters of every workflow. Only the ones
// belonging to the item's active workflow are consulted.
type ItemParams struct {
	TypicalUnitWeight float64 `json:"typical_unit_weight,omitempty"` // grams per unit

	BottleVolumeML    float64 `json:"bottle_volume_ml,omitempty"`
	FullBottleWeight  float64 `json:"full_bottle_weight,omitempty"`  // grams
	EmptyBottleWeight float64 `json:"empty_bottle_weight,omitempty"` // grams

	KegCapacityLiters float64  `json:"keg_capacity_liters,omitempty"`
	EmptyKegWeight    float64  `json:"empty_keg_weight,omitempty"` // grams
	FreshnessDays     int      `json:"freshness_days,omitempty"`
	StorageTempMin    *float64 `json:"storage_temp_min,omitempty"`
	StorageTempMax    *float64 `json:"storage_temp_max,omitempty"`

	UseByDays int `json:"use_by_days,omitempty"`
}

type InventoryItem struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Unit      string       `json:"unit"`
	Workflow  WorkflowKind `json:"workflow"`
	ParLow    float64      `json:"par_low"`
	ParHigh   float64      `json:"par_high"`
	Params    ItemParams   `json:"params"`
	Active    bool         `json:"active"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks that the parameters required by the active workflow are
// present and physically consistent.
func (it InventoryItem) Validate() error {
	bad := func(field, reason string) error {
		return &ConfigurationError{ItemID: it.ID, Field: field, Reason: reason}
	}

	if it.ParHigh > 0 && it.ParLow > it.ParHigh {
		return bad("par_low", "low par level exceeds high par level")
	}

	p := it.Params
	switch it.Workflow {
	case WorkflowUnitCount:
		return nil
	case WorkflowContainerWeight, WorkflowBatchWeight:
		if p.TypicalUnitWeight <= 0 {
			return bad("typical_unit_weight", "must be greater than zero")
		}
		if it.Workflow == WorkflowBatchWeight && p.UseByDays <= 0 {
			return bad("use_by_days", "must be greater than zero")
		}
	case WorkflowBottleHybrid:
		if p.EmptyBottleWeight < 0 {
			return bad("empty_bottle_weight", "must not be negative")
		}
		if p.FullBottleWeight <= p.EmptyBottleWeight {
			return bad("full_bottle_weight", "must exceed empty bottle weight")
		}
	case WorkflowKegWeight:
		if p.KegCapacityLiters <= 0 {
			return bad("keg_capacity_liters", "must be greater than zero")
		}
		if p.EmptyKegWeight <= 0 {
			return bad("empty_keg_weight", "must be greater than zero")
		}
		if p.FreshnessDays <= 0 {
			return bad("freshness_days", "must be greater than zero")
		}
		if p.StorageTempMin != nil && p.StorageTempMax != nil && *p.StorageTempMin > *p.StorageTempMax {
			return bad("storage_temp_min", "exceeds storage_temp_max")
		}
	default:
		return bad("workflow", "unknown workflow "+string(it.Workflow))
	}
	return nil
}
