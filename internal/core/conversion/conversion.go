// Package conversion turns raw physical readings into canonical quantities.
// Every function here is pure: time is passed in, nothing is mutated.
package conversion

import (
	"math"
	"time"

	"github.com/rl1809/stock-count/internal/core/domain"
)

const DefaultBeerDensity = 1.01 // kg per litre

type FreshnessStatus string

const (
	FreshnessFresh     FreshnessStatus = "fresh"
	FreshnessGood      FreshnessStatus = "good"
	FreshnessDeclining FreshnessStatus = "declining"
	FreshnessExpired   FreshnessStatus = "expired"
)

// Measurement is a net-weight reading. RawNetWeight keeps the unclamped value
// so callers can report a gross weight below tare.
type Measurement struct {
	GrossWeight  float64
	TareWeight   float64
	NetWeight    float64
	RawNetWeight float64
	Clamped      bool
	Quantity     float64
}

type PartialBottle struct {
	Weight     float64
	Equivalent float64
	Clamped    bool
}

type BottleResult struct {
	FullBottles int
	Partials    []PartialBottle
	Quantity    float64
}

type KegReading struct {
	GrossWeight    float64
	NetWeight      float64
	RawNetWeight   float64
	VolumeLiters   float64
	FillPercentage float64
}

type Freshness struct {
	DaysSinceTap           int
	Ratio                  float64
	Status                 FreshnessStatus
	EstimatedDaysRemaining int
}

func configErr(field, reason string) error {
	return &domain.ConfigurationError{Field: field, Reason: reason}
}

// NetWeight subtracts tare from gross. The first value is clamped at zero, the
// second is the raw difference.
func NetWeight(gross, tare float64) (float64, float64) {
	raw := gross - tare
	return math.Max(0, raw), raw
}

func ContainerQuantity(gross, tare, unitWeight float64) (Measurement, error) {
	if unitWeight <= 0 || math.IsNaN(unitWeight) {
		return Measurement{}, configErr("typical_unit_weight", "must be greater than zero")
	}
	net, raw := NetWeight(gross, tare)
	return Measurement{
		GrossWeight:  gross,
		TareWeight:   tare,
		NetWeight:    net,
		RawNetWeight: raw,
		Clamped:      raw < 0,
		Quantity:     net / unitWeight,
	}, nil
}

// BatchQuantity follows the container rule using the batch container's tare.
func BatchQuantity(gross, tare, unitWeight float64) (Measurement, error) {
	return ContainerQuantity(gross, tare, unitWeight)
}

func BatchExpiry(batchDate time.Time, useByDays int) time.Time {
	return batchDate.AddDate(0, 0, useByDays)
}

// BottleEquivalent maps a partial bottle weight onto [0, 1]. The second return
// reports whether the weight fell outside the empty..full range.
func BottleEquivalent(weight, empty, full float64) (float64, bool, error) {
	if full <= empty {
		return 0, false, configErr("full_bottle_weight", "must exceed empty bottle weight")
	}
	eq := (weight - empty) / (full - empty)
	switch {
	case eq < 0 || math.IsNaN(eq):
		return 0, true, nil
	case eq > 1:
		return 1, true, nil
	}
	return eq, false, nil
}

func BottleHybridQuantity(fullBottles int, partials []float64, empty, full float64) (BottleResult, error) {
	res := BottleResult{
		FullBottles: fullBottles,
		Partials:    make([]PartialBottle, 0, len(partials)),
		Quantity:    float64(max(0, fullBottles)),
	}
	if full <= empty {
		return BottleResult{}, configErr("full_bottle_weight", "must exceed empty bottle weight")
	}
	for _, w := range partials {
		eq, clamped, err := BottleEquivalent(w, empty, full)
		if err != nil {
			return BottleResult{}, err
		}
		res.Partials = append(res.Partials, PartialBottle{Weight: w, Equivalent: eq, Clamped: clamped})
		res.Quantity += eq
	}
	return res, nil
}

// KegVolume converts a keg's gross weight (grams) into remaining litres.
func KegVolume(gross, emptyKeg, capacityLiters, density float64) (KegReading, error) {
	if capacityLiters <= 0 {
		return KegReading{}, configErr("keg_capacity_liters", "must be greater than zero")
	}
	if density <= 0 {
		return KegReading{}, configErr("beer_density", "must be greater than zero")
	}
	net, raw := NetWeight(gross, emptyKeg)
	volume := net / 1000 / density
	return KegReading{
		GrossWeight:    gross,
		NetWeight:      net,
		RawNetWeight:   raw,
		VolumeLiters:   volume,
		FillPercentage: math.Min(100, volume/capacityLiters*100),
	}, nil
}

// KegFreshness buckets the elapsed whole days since tapping against the
// freshness window. An untapped keg, or one tapped in the future, is at day 0.
func KegFreshness(tappedAt *time.Time, windowDays int, now time.Time) (Freshness, error) {
	if windowDays <= 0 {
		return Freshness{}, configErr("freshness_days", "must be greater than zero")
	}
	days := 0
	if tappedAt != nil && now.After(*tappedAt) {
		days = int(now.Sub(*tappedAt).Hours() / 24)
	}
	ratio := float64(days) / float64(windowDays)

	status := FreshnessExpired
	switch {
	case ratio <= 0.3:
		status = FreshnessFresh
	case ratio <= 0.7:
		status = FreshnessGood
	case ratio <= 1.0:
		status = FreshnessDeclining
	}

	return Freshness{
		DaysSinceTap:           days,
		Ratio:                  ratio,
		Status:                 status,
		EstimatedDaysRemaining: max(0, windowDays-days),
	}, nil
}
