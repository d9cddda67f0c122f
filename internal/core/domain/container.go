package domain

import "time"

type VerificationStatus string

const (
	VerificationCurrent VerificationStatus = "current"
	VerificationDueSoon VerificationStatus = "due_soon"
	VerificationOverdue VerificationStatus = "overdue"
)

// ContainerInstance is a reusable, barcoded vessel with a known tare weight.
type ContainerInstance struct {
	ID                        string             `json:"id"`
	Barcode                   string             `json:"barcode"`
	TareWeight                float64            `json:"tare_weight"` // grams
	LastWeighedAt             time.Time          `json:"last_weighed_at"`
	VerificationStatus        VerificationStatus `json:"verification_status"`
	VerificationFrequencyDays int                `json:"verification_frequency_days"`
	UsageCount                int                `json:"usage_count"`
	LastUsedAt                *time.Time         `json:"last_used_at,omitempty"`
	Active                    bool               `json:"active"`
}

type KegState struct {
	ItemID   string     `json:"item_id"`
	TappedAt *time.Time `json:"tapped_at,omitempty"`
}

type BatchState struct {
	BatchRef  string    `json:"batch_ref"`
	ItemID    string    `json:"item_id"`
	BatchDate time.Time `json:"batch_date"`
}

type LifecycleUpdateKind string

const (
	UpdateContainerRegister LifecycleUpdateKind = "container_register"
	UpdateContainerUsage    LifecycleUpdateKind = "container_usage"
	UpdateContainerReweigh  LifecycleUpdateKind = "container_reweigh"
	UpdateKegTap            LifecycleUpdateKind = "keg_tap"
	UpdateBatchStart        LifecycleUpdateKind = "batch_start"
)

// LifecycleUpdate carries the full resulting state of one tracked resource.
// Exactly one of Container, Keg or Batch is set, matching Kind.
type LifecycleUpdate struct {
	Kind      LifecycleUpdateKind `json:"kind"`
	Container *ContainerInstance  `json:"container,omitempty"`
	Keg       *KegState           `json:"keg,omitempty"`
	Batch     *BatchState         `json:"batch,omitempty"`
	At        time.Time           `json:"at"`
}
