package domain

import (
	"errors"
	"fmt"
)

// Policy groups the tunable thresholds used by conversion, anomaly detection
// and reconciliation.
type Policy struct {
	VarianceWarningThreshold  float64
	VarianceCriticalThreshold float64
	VarianceEpsilon           float64
	EmptyContainerEpsilon     float64 // grams
	VerificationWindowDays    int
	VerificationGraceDays     int
	BeerDensity               float64 // kg per litre
	AutoCommitLowSeverity     bool
}

func DefaultPolicy() Policy {
	return Policy{
		VarianceWarningThreshold:  0.15,
		VarianceCriticalThreshold: 0.50,
		VarianceEpsilon:           0.001,
		EmptyContainerEpsilon:     10,
		VerificationWindowDays:    30,
		VerificationGraceDays:     7,
		BeerDensity:               1.01,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.VarianceWarningThreshold <= 0 {
		errs = append(errs, errors.New("variance warning threshold must be positive"))
	}
	if p.VarianceCriticalThreshold <= p.VarianceWarningThreshold {
		errs = append(errs, errors.New("variance critical threshold must exceed the warning threshold"))
	}
	if p.VarianceEpsilon <= 0 {
		errs = append(errs, errors.New("variance epsilon must be positive"))
	}
	if p.EmptyContainerEpsilon < 0 {
		errs = append(errs, errors.New("empty container epsilon must not be negative"))
	}
	if p.VerificationWindowDays <= 0 {
		errs = append(errs, errors.New("verification window must be positive"))
	}
	if p.VerificationGraceDays < 0 || p.VerificationGraceDays > p.VerificationWindowDays {
		errs = append(errs, errors.New("verification grace must be within the verification window"))
	}
	if p.BeerDensity <= 0 {
		errs = append(errs, errors.New("beer density must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
