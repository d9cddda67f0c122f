package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-count/internal/core/domain"
)

// SaveItem validates and stores an item configuration.
func (s *CountService) SaveItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" {
		return nil, &domain.ConfigurationError{Field: "id", Reason: "item id is required"}
	}
	if _, err := s.registry.Definition(item.Workflow); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item.Active = true
	item.UpdatedAt = s.now()
	if err := s.storage.SaveItem(ctx, item); err != nil {
		return nil, &domain.StorageError{Op: "save item", Err: err}
	}
	s.logger.Info("item saved", zap.String("item_id", item.ID), zap.String("workflow", string(item.Workflow)))
	return &item, nil
}

func (s *CountService) DeactivateItem(ctx context.Context, itemID string) error {
	if err := s.storage.DeactivateItem(ctx, itemID); err != nil {
		return fmt.Errorf("deactivate item %s: %w", itemID, err)
	}
	s.logger.Info("item deactivated", zap.String("item_id", itemID))
	return nil
}

func (s *CountService) RegisterContainer(ctx context.Context, c domain.ContainerInstance) (*domain.ContainerInstance, error) {
	return s.tracker.RegisterContainer(ctx, c)
}

// Reweigh takes the container lock so a tare change never interleaves with a
// count against the same container.
func (s *CountService) Reweigh(ctx context.Context, containerID string, tare float64) (*domain.ContainerInstance, error) {
	unlock, err := s.lockKeys(ctx, "lock:container:"+containerID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.tracker.Reweigh(ctx, containerID, tare, s.now())
}

func (s *CountService) TapKeg(ctx context.Context, itemID string, tapDate time.Time) (*domain.KegState, error) {
	unlock, err := s.lockKeys(ctx, "lock:item:"+itemID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.tracker.TapKeg(ctx, itemID, tapDate)
}

func (s *CountService) StartBatch(ctx context.Context, batchRef, itemID string, batchDate time.Time) (*domain.BatchState, error) {
	unlock, err := s.lockKeys(ctx, "lock:item:"+itemID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.tracker.StartBatch(ctx, batchRef, itemID, batchDate)
}
