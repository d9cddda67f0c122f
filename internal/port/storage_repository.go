package port

import (
	"context"

	"github.com/rl1809/stock-count/internal/core/domain"
)

type StorageRepository interface {
	// GetItem returns the item configuration, domain.ErrNotFound if unknown
	GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)

	// SaveItem creates or replaces an item configuration
	SaveItem(ctx context.Context, item domain.InventoryItem) error

	// DeactivateItem soft-deletes an item; counts for it are rejected afterwards
	DeactivateItem(ctx context.Context, itemID string) error

	// GetLatestCountRecord returns the most recent committed record, nil if none
	GetLatestCountRecord(ctx context.Context, itemID string) (*domain.CountRecord, error)

	// GetContainerState returns a container, domain.ErrNotFound if unknown
	GetContainerState(ctx context.Context, containerID string) (*domain.ContainerInstance, error)

	// GetKegState returns the tap state of a keg item, nil if never tapped
	GetKegState(ctx context.Context, itemID string) (*domain.KegState, error)

	// GetBatchState returns the batch clock, nil if the batch was never started
	GetBatchState(ctx context.Context, batchRef string) (*domain.BatchState, error)

	// PersistCountRecord stores an immutable count record
	PersistCountRecord(ctx context.Context, record domain.CountRecord) error

	// PersistLifecycleUpdate stores the resulting container, keg or batch state
	PersistLifecycleUpdate(ctx context.Context, update domain.LifecycleUpdate) error

	// InTx runs fn against a repository whose writes commit or roll back together
	InTx(ctx context.Context, fn func(StorageRepository) error) error
}
