package domain

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities with critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

type AnomalyType string

const (
	AnomalyEmptyContainer               AnomalyType = "empty_container"
	AnomalyWeightOutOfBounds            AnomalyType = "weight_out_of_bounds"
	AnomalySignificantVariance          AnomalyType = "significant_variance"
	AnomalyContainerVerificationOverdue AnomalyType = "container_verification_overdue"
	AnomalyKegFreshnessExpired          AnomalyType = "keg_freshness_expired"
	AnomalyKegTemperatureOutOfRange     AnomalyType = "keg_temperature_out_of_range"
	AnomalyBatchExpired                 AnomalyType = "batch_expired"
	AnomalyMissingRequiredField         AnomalyType = "missing_required_field"
)

type Anomaly struct {
	Type            AnomalyType `json:"type"`
	Severity        Severity    `json:"severity"`
	Message         string      `json:"message"`
	SuggestedAction string      `json:"suggested_action"`
	Confidence      float64     `json:"confidence"`
}

func HasSeverity(anomalies []Anomaly, s Severity) bool {
	for _, a := range anomalies {
		if a.Severity == s {
			return true
		}
	}
	return false
}
