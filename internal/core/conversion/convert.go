package conversion

import (
	"fmt"
	"math"
	"time"

	"github.com/rl1809/stock-count/internal/core/domain"
)

// Context is the lifecycle state a conversion may need.
type Context struct {
	Container   *domain.ContainerInstance
	Keg         *domain.KegState
	Batch       *domain.BatchState
	BeerDensity float64
	Now         time.Time
}

// Conversion is the canonical quantity plus the intermediate readings that
// produced it. Only the readings of the input's workflow are set.
type Conversion struct {
	Workflow domain.WorkflowKind
	Quantity float64

	RawQuantity *float64 // unit_count
	Weight      *Measurement
	Bottles     *BottleResult
	Keg         *KegReading
	Freshness   *Freshness
	TappedAt    *time.Time
	BatchDate   *time.Time
	UseBy       *time.Time
}

// Convert interprets in according to item's configuration.
func Convert(item domain.InventoryItem, in domain.CountingWorkflow, cctx Context) (Conversion, error) {
	if in == nil {
		return Conversion{}, configErr("workflow", "submission has no input")
	}
	if in.Kind() != item.Workflow {
		return Conversion{}, &domain.ConfigurationError{
			ItemID: item.ID,
			Field:  "workflow",
			Reason: fmt.Sprintf("item counts by %s, submission is %s", item.Workflow, in.Kind()),
		}
	}

	p := item.Params
	out := Conversion{Workflow: in.Kind()}

	switch v := in.(type) {
	case domain.UnitCount:
		if v.Quantity == nil {
			return Conversion{}, missing(in, "quantity")
		}
		raw := *v.Quantity
		out.RawQuantity = &raw
		out.Quantity = math.Max(0, raw)

	case domain.ContainerWeight:
		if v.GrossWeight == nil {
			return Conversion{}, missing(in, "gross_weight")
		}
		if cctx.Container == nil {
			return Conversion{}, &domain.ConfigurationError{ItemID: item.ID, Field: "container_instance_id", Reason: "container state unavailable"}
		}
		m, err := ContainerQuantity(*v.GrossWeight, cctx.Container.TareWeight, p.TypicalUnitWeight)
		if err != nil {
			return Conversion{}, withItem(err, item.ID)
		}
		out.Weight = &m
		out.Quantity = m.Quantity

	case domain.BottleHybrid:
		if v.FullBottles == nil {
			return Conversion{}, missing(in, "full_bottle_count")
		}
		b, err := BottleHybridQuantity(*v.FullBottles, v.PartialWeights, p.EmptyBottleWeight, p.FullBottleWeight)
		if err != nil {
			return Conversion{}, withItem(err, item.ID)
		}
		out.Bottles = &b
		out.Quantity = b.Quantity

	case domain.KegWeight:
		if v.GrossWeight == nil {
			return Conversion{}, missing(in, "gross_weight")
		}
		density := cctx.BeerDensity
		if density == 0 {
			density = DefaultBeerDensity
		}
		k, err := KegVolume(*v.GrossWeight, p.EmptyKegWeight, p.KegCapacityLiters, density)
		if err != nil {
			return Conversion{}, withItem(err, item.ID)
		}
		tapped := v.TappedAt
		if tapped == nil && cctx.Keg != nil {
			tapped = cctx.Keg.TappedAt
		}
		f, err := KegFreshness(tapped, p.FreshnessDays, cctx.Now)
		if err != nil {
			return Conversion{}, withItem(err, item.ID)
		}
		out.Keg = &k
		out.Freshness = &f
		out.TappedAt = tapped
		out.Quantity = k.VolumeLiters

	case domain.BatchWeight:
		if v.GrossWeight == nil {
			return Conversion{}, missing(in, "gross_weight")
		}
		if cctx.Container == nil {
			return Conversion{}, &domain.ConfigurationError{ItemID: item.ID, Field: "container_instance_id", Reason: "container state unavailable"}
		}
		m, err := BatchQuantity(*v.GrossWeight, cctx.Container.TareWeight, p.TypicalUnitWeight)
		if err != nil {
			return Conversion{}, withItem(err, item.ID)
		}
		out.Weight = &m
		out.Quantity = m.Quantity

		batchDate := v.BatchDate
		if batchDate == nil && cctx.Batch != nil {
			bd := cctx.Batch.BatchDate
			batchDate = &bd
		}
		out.BatchDate = batchDate
		switch {
		case v.UseByDate != nil:
			out.UseBy = v.UseByDate
		case batchDate != nil:
			useBy := BatchExpiry(*batchDate, p.UseByDays)
			out.UseBy = &useBy
		}

	default:
		return Conversion{}, &domain.ConfigurationError{
			ItemID: item.ID,
			Field:  "workflow",
			Reason: fmt.Sprintf("no converter for %T", in),
		}
	}

	return out, nil
}

func missing(in domain.CountingWorkflow, field string) error {
	return &domain.ValidationError{Workflow: in.Kind(), Missing: []string{field}}
}

func withItem(err error, itemID string) error {
	if ce, ok := err.(*domain.ConfigurationError); ok && ce.ItemID == "" {
		cp := *ce
		cp.ItemID = itemID
		return &cp
	}
	return err
}
