// Package anomaly inspects a converted count against physical bounds,
// lifecycle state and the previous count, and reports what looks wrong.
package anomaly

import (
	"math"
	"sort"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rl1809/stock-count/internal/core/conversion"
	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/workflow"
)

// Confidence is fixed per anomaly type.
var confidence = map[domain.AnomalyType]float64{
	domain.AnomalyMissingRequiredField:         1.0,
	domain.AnomalyBatchExpired:                 0.95,
	domain.AnomalyWeightOutOfBounds:            0.9,
	domain.AnomalyEmptyContainer:               0.8,
	domain.AnomalyKegFreshnessExpired:          0.75,
	domain.AnomalyContainerVerificationOverdue: 0.7,
	domain.AnomalySignificantVariance:          0.6,
	domain.AnomalyKegTemperatureOutOfRange:     0.5,
}

// Input is everything a detection pass may look at. Container, Keg, Batch and
// Previous are optional.
type Input struct {
	Item       domain.InventoryItem
	Submission domain.RawCountSubmission
	Conversion conversion.Conversion
	Container  *domain.ContainerInstance
	Keg        *domain.KegState
	Batch      *domain.BatchState
	Previous   *domain.CountRecord
	Now        time.Time
}

type rule func(in Input, c *collector)

type Detector struct {
	registry *workflow.Registry
	policy   domain.Policy
	printer  *message.Printer
	rules    []rule
}

type Option func(*Detector)

// WithLocale sets the language used to format numbers in messages.
func WithLocale(tag language.Tag) Option {
	return func(d *Detector) { d.printer = message.NewPrinter(tag) }
}

func NewDetector(registry *workflow.Registry, policy domain.Policy, opts ...Option) *Detector {
	d := &Detector{
		registry: registry,
		policy:   policy,
		printer:  message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.rules = []rule{
		d.emptyContainer,
		d.weightOutOfBounds,
		d.significantVariance,
		d.verificationOverdue,
		d.kegFreshness,
		d.batchExpired,
	}
	return d
}

// Detect runs every rule and returns the anomalies ordered by severity, then
// by detection order. It never mutates its input.
func (d *Detector) Detect(in Input) []domain.Anomaly {
	c := &collector{printer: d.printer}
	for _, r := range d.rules {
		r(in, c)
	}
	return sortBySeverity(c.anomalies)
}

// MissingFields reports each missing field as a critical anomaly. It stands
// in for the full pipeline when a submission cannot be converted at all.
func (d *Detector) MissingFields(kind domain.WorkflowKind, missing []string) []domain.Anomaly {
	c := &collector{printer: d.printer}
	for _, f := range missing {
		c.add(domain.AnomalyMissingRequiredField, domain.SeverityCritical,
			"Provide "+f+" and submit the count again.",
			"%s count is missing required field %s", kind, f)
	}
	return c.anomalies
}

type collector struct {
	printer   *message.Printer
	anomalies []domain.Anomaly
}

func (c *collector) add(t domain.AnomalyType, s domain.Severity, action, format string, args ...any) {
	c.anomalies = append(c.anomalies, domain.Anomaly{
		Type:            t,
		Severity:        s,
		Message:         c.printer.Sprintf(format, args...),
		SuggestedAction: action,
		Confidence:      confidence[t],
	})
}

func sortBySeverity(in []domain.Anomaly) []domain.Anomaly {
	out := make([]domain.Anomaly, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

func (d *Detector) emptyContainer(in Input, c *collector) {
	w := in.Conversion.Weight
	ref := domain.ContainerRef(in.Submission.Input)
	if w == nil || ref == "" {
		return
	}
	if w.NetWeight <= d.policy.EmptyContainerEpsilon {
		c.add(domain.AnomalyEmptyContainer, domain.SeverityWarning,
			"Check that the right container was weighed, or record the item as out of stock.",
			"Container %s holds %.1f g net, at or below the empty threshold of %.0f g",
			ref, w.NetWeight, d.policy.EmptyContainerEpsilon)
	}
}

func (d *Detector) weightOutOfBounds(in Input, c *collector) {
	kind := in.Conversion.Workflow
	p := in.Item.Params

	switch v := in.Submission.Input.(type) {
	case domain.UnitCount:
		if v.Quantity == nil {
			return
		}
		d.checkBounds(c, kind, workflow.FieldQuantity, *v.Quantity, 0, "quantity", "")

	case domain.ContainerWeight:
		if v.GrossWeight == nil || in.Container == nil {
			return
		}
		d.checkBounds(c, kind, workflow.FieldGrossWeight, *v.GrossWeight, in.Container.TareWeight, "gross weight", "container tare")

	case domain.BatchWeight:
		if v.GrossWeight == nil || in.Container == nil {
			return
		}
		d.checkBounds(c, kind, workflow.FieldGrossWeight, *v.GrossWeight, in.Container.TareWeight, "gross weight", "batch container tare")

	case domain.KegWeight:
		if v.GrossWeight == nil {
			return
		}
		d.checkBounds(c, kind, workflow.FieldGrossWeight, *v.GrossWeight, p.EmptyKegWeight, "keg gross weight", "empty keg weight")

	case domain.BottleHybrid:
		if v.FullBottles != nil {
			d.checkBounds(c, kind, workflow.FieldFullBottleCount, float64(*v.FullBottles), 0, "full bottle count", "")
		}
		b, hasBounds := d.registry.Bounds(kind, workflow.FieldPartialBottleWeight)
		for i, w := range v.PartialWeights {
			switch {
			case w < p.EmptyBottleWeight:
				c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityCritical,
					"Reweigh the bottle; a partial bottle cannot weigh less than an empty one.",
					"Partial bottle %d weighs %.0f g, below the empty bottle weight of %.0f g",
					i+1, w, p.EmptyBottleWeight)
			case w > p.FullBottleWeight:
				c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityWarning,
					"Count it as a full bottle or check the item's bottle weights.",
					"Partial bottle %d weighs %.0f g, above the full bottle weight of %.0f g",
					i+1, w, p.FullBottleWeight)
			case hasBounds && !b.Contains(w):
				c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityWarning,
					"Check the scale reading.",
					"Partial bottle %d weighs %.0f g, outside %.0f–%.0f g",
					i+1, w, b.Min, b.Max)
			}
		}
	}
}

// checkBounds flags v below floor as physically impossible and v outside the
// registry bounds as suspicious. floorName empty means a floor of zero.
func (d *Detector) checkBounds(c *collector, kind domain.WorkflowKind, field string, v, floor float64, label, floorName string) {
	if v < floor || v < 0 {
		if floorName == "" {
			c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityCritical,
				"Re-enter the reading; negative values are not possible.",
				"The %s of %.2f is negative", label, v)
			return
		}
		c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityCritical,
			"Reweigh, and reweigh the container if its tare may be stale.",
			"The %s of %.0f g is below the %s of %.0f g", label, v, floorName, floor)
		return
	}
	b, ok := d.registry.Bounds(kind, field)
	if ok && !b.Contains(v) {
		c.add(domain.AnomalyWeightOutOfBounds, domain.SeverityWarning,
			"Check the reading against the scale or the item configuration.",
			"The %s of %.2f is outside the expected range %.0f–%.0f", label, v, b.Min, b.Max)
	}
}

func (d *Detector) significantVariance(in Input, c *collector) {
	if in.Previous == nil {
		return
	}
	prev := in.Previous.Quantity
	ratio := VarianceRatio(in.Conversion.Quantity, prev, d.policy.VarianceEpsilon)

	severity := domain.Severity("")
	switch {
	case ratio > d.policy.VarianceCriticalThreshold:
		severity = domain.SeverityCritical
	case ratio > d.policy.VarianceWarningThreshold:
		severity = domain.SeverityWarning
	default:
		return
	}
	c.add(domain.AnomalySignificantVariance, severity,
		"Recount the item, and check for unrecorded deliveries, transfers or waste.",
		"Counted %.2f against %.2f last time, a %.1f%% change",
		in.Conversion.Quantity, prev, ratio*100)
}

// VarianceRatio is |candidate - previous| / max(previous, epsilon).
func VarianceRatio(candidate, previous, epsilon float64) float64 {
	return math.Abs(candidate-previous) / math.Max(previous, epsilon)
}

func (d *Detector) verificationOverdue(in Input, c *collector) {
	if in.Container == nil || in.Container.VerificationStatus != domain.VerificationOverdue {
		return
	}
	c.add(domain.AnomalyContainerVerificationOverdue, domain.SeverityWarning,
		"Empty and reweigh the container to refresh its tare weight.",
		"Container %s was last weighed on %s and its tare is overdue for verification",
		in.Container.ID, in.Container.LastWeighedAt.Format(time.DateOnly))
}

func (d *Detector) kegFreshness(in Input, c *collector) {
	v, ok := in.Submission.Input.(domain.KegWeight)
	if !ok {
		return
	}
	if f := in.Conversion.Freshness; f != nil && f.Status == conversion.FreshnessExpired {
		c.add(domain.AnomalyKegFreshnessExpired, domain.SeverityWarning,
			"Taste-check the keg and replace it if it has gone off.",
			"Keg tapped %d days ago exceeds its %d day freshness window",
			f.DaysSinceTap, in.Item.Params.FreshnessDays)
	}
	if v.Temperature == nil {
		return
	}
	p := in.Item.Params
	t := *v.Temperature
	if (p.StorageTempMin != nil && t < *p.StorageTempMin) || (p.StorageTempMax != nil && t > *p.StorageTempMax) {
		c.add(domain.AnomalyKegTemperatureOutOfRange, domain.SeverityInfo,
			"Check the cooler setting.",
			"Keg temperature %.1f°C is outside the storage range %s",
			t, tempRange(c.printer, p.StorageTempMin, p.StorageTempMax))
	}
}

func tempRange(p *message.Printer, lo, hi *float64) string {
	switch {
	case lo != nil && hi != nil:
		return p.Sprintf("%.1f–%.1f°C", *lo, *hi)
	case lo != nil:
		return p.Sprintf("≥ %.1f°C", *lo)
	default:
		return p.Sprintf("≤ %.1f°C", *hi)
	}
}

func (d *Detector) batchExpired(in Input, c *collector) {
	useBy := in.Conversion.UseBy
	if useBy == nil || !in.Now.After(*useBy) {
		return
	}
	ref := ""
	if v, ok := in.Submission.Input.(domain.BatchWeight); ok {
		ref = v.BatchRef
	}
	c.add(domain.AnomalyBatchExpired, domain.SeverityCritical,
		"Discard the batch and log it as waste.",
		"Batch %s passed its use-by date of %s", ref, useBy.Format(time.DateOnly))
}
