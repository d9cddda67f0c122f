// Package lifecycle owns the mutable state of containers, kegs and batches.
// Every mutation goes through a Tracker operation and is persisted as a full
// snapshot; the last write wins.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/port"
)

type Tracker struct {
	storage port.StorageRepository
	policy  domain.Policy
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(storage port.StorageRepository, policy domain.Policy, opts ...Option) *Tracker {
	t := &Tracker{
		storage: storage,
		policy:  policy,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithStorage returns a tracker bound to repo, typically a transaction.
func (t *Tracker) WithStorage(repo port.StorageRepository) *Tracker {
	cp := *t
	cp.storage = repo
	return &cp
}

// VerificationStatus classifies a tare weighing by age: current up to
// window-grace days, due soon up to window days, overdue after that.
func VerificationStatus(lastWeighed time.Time, windowDays, graceDays int, now time.Time) domain.VerificationStatus {
	if lastWeighed.IsZero() {
		return domain.VerificationOverdue
	}
	elapsed := now.Sub(lastWeighed).Hours() / 24
	switch {
	case elapsed <= float64(windowDays-graceDays):
		return domain.VerificationCurrent
	case elapsed <= float64(windowDays):
		return domain.VerificationDueSoon
	default:
		return domain.VerificationOverdue
	}
}

func (t *Tracker) status(c domain.ContainerInstance, now time.Time) domain.VerificationStatus {
	window := c.VerificationFrequencyDays
	if window <= 0 {
		window = t.policy.VerificationWindowDays
	}
	grace := min(t.policy.VerificationGraceDays, window)
	return VerificationStatus(c.LastWeighedAt, window, grace, now)
}

// Container loads a container with its verification status evaluated now.
func (t *Tracker) Container(ctx context.Context, containerID string) (*domain.ContainerInstance, error) {
	c, err := t.storage.GetContainerState(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("get container %s: %w", containerID, err)
	}
	cp := *c
	cp.VerificationStatus = t.status(cp, t.now())
	return &cp, nil
}

func (t *Tracker) RegisterContainer(ctx context.Context, c domain.ContainerInstance) (*domain.ContainerInstance, error) {
	if c.ID == "" {
		return nil, &domain.ConfigurationError{Field: "id", Reason: "container id is required"}
	}
	if c.TareWeight < 0 {
		return nil, &domain.ConfigurationError{Field: "tare_weight", Reason: "must not be negative"}
	}
	now := t.now()
	if c.LastWeighedAt.IsZero() {
		c.LastWeighedAt = now
	}
	c.Active = true
	c.VerificationStatus = t.status(c, now)

	if err := t.persist(ctx, domain.LifecycleUpdate{Kind: domain.UpdateContainerRegister, Container: &c, At: now}); err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordUsage increments the usage counter and stamps the last-used date.
func (t *Tracker) RecordUsage(ctx context.Context, containerID string, at time.Time) (*domain.ContainerInstance, error) {
	c, err := t.Container(ctx, containerID)
	if err != nil {
		return nil, err
	}
	c.UsageCount++
	c.LastUsedAt = &at

	if err := t.persist(ctx, domain.LifecycleUpdate{Kind: domain.UpdateContainerUsage, Container: c, At: at}); err != nil {
		return nil, err
	}
	return c, nil
}

// Reweigh records a fresh tare weight and recomputes verification status.
func (t *Tracker) Reweigh(ctx context.Context, containerID string, newTare float64, at time.Time) (*domain.ContainerInstance, error) {
	if newTare < 0 {
		return nil, &domain.ConfigurationError{Field: "tare_weight", Reason: "must not be negative"}
	}
	c, err := t.Container(ctx, containerID)
	if err != nil {
		return nil, err
	}
	c.TareWeight = newTare
	c.LastWeighedAt = at
	c.VerificationStatus = t.status(*c, t.now())

	if err := t.persist(ctx, domain.LifecycleUpdate{Kind: domain.UpdateContainerReweigh, Container: c, At: at}); err != nil {
		return nil, err
	}
	t.logger.Info("container reweighed",
		zap.String("container_id", containerID),
		zap.Float64("tare_weight", newTare),
		zap.String("status", string(c.VerificationStatus)))
	return c, nil
}

func (t *Tracker) TapKeg(ctx context.Context, itemID string, tapDate time.Time) (*domain.KegState, error) {
	if itemID == "" {
		return nil, &domain.ConfigurationError{Field: "item_id", Reason: "keg item id is required"}
	}
	keg := &domain.KegState{ItemID: itemID, TappedAt: &tapDate}
	if err := t.persist(ctx, domain.LifecycleUpdate{Kind: domain.UpdateKegTap, Keg: keg, At: t.now()}); err != nil {
		return nil, err
	}
	return keg, nil
}

func (t *Tracker) StartBatch(ctx context.Context, batchRef, itemID string, batchDate time.Time) (*domain.BatchState, error) {
	if batchRef == "" {
		return nil, &domain.ConfigurationError{Field: "batch_id", Reason: "batch reference is required"}
	}
	batch := &domain.BatchState{BatchRef: batchRef, ItemID: itemID, BatchDate: batchDate}
	if err := t.persist(ctx, domain.LifecycleUpdate{Kind: domain.UpdateBatchStart, Batch: batch, At: t.now()}); err != nil {
		return nil, err
	}
	return batch, nil
}

// ApplyCount performs the lifecycle updates implied by a committed count:
// container usage, a newly reported keg tap date and a newly reported batch
// date.
func (t *Tracker) ApplyCount(ctx context.Context, sub domain.RawCountSubmission, keg *domain.KegState, batch *domain.BatchState, countedAt time.Time) error {
	if ref := domain.ContainerRef(sub.Input); ref != "" {
		if _, err := t.RecordUsage(ctx, ref, countedAt); err != nil {
			return err
		}
	}

	switch v := sub.Input.(type) {
	case domain.KegWeight:
		if v.TappedAt != nil && (keg == nil || keg.TappedAt == nil || !keg.TappedAt.Equal(*v.TappedAt)) {
			if _, err := t.TapKeg(ctx, sub.ItemID, *v.TappedAt); err != nil {
				return err
			}
		}
	case domain.BatchWeight:
		if v.BatchDate != nil && (batch == nil || !batch.BatchDate.Equal(*v.BatchDate)) {
			if _, err := t.StartBatch(ctx, v.BatchRef, sub.ItemID, *v.BatchDate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tracker) persist(ctx context.Context, update domain.LifecycleUpdate) error {
	if err := t.storage.PersistLifecycleUpdate(ctx, update); err != nil {
		var se *domain.StorageError
		if errors.As(err, &se) {
			return err
		}
		return &domain.StorageError{Op: "persist " + string(update.Kind), Err: err}
	}
	return nil
}
