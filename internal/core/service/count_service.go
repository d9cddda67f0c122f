package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/rl1809/stock-count/internal/core/anomaly"
	"github.com/rl1809/stock-count/internal/core/conversion"
	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/lifecycle"
	"github.com/rl1809/stock-count/internal/core/workflow"
	"github.com/rl1809/stock-count/internal/port"
)

const defaultLockTTL = 10 * time.Second

type CountService struct {
	storage  port.StorageRepository
	registry *workflow.Registry
	detector *anomaly.Detector
	tracker  *lifecycle.Tracker
	policy   domain.Policy

	locker  port.LockRepository
	lockTTL time.Duration

	logger   *zap.Logger
	now      func() time.Time
	locale   language.Tag
	outcomes chan port.Outcome
}

type Option func(*CountService)

// WithLocker serializes submissions per item and per container through locker.
func WithLocker(locker port.LockRepository, ttl time.Duration) Option {
	return func(s *CountService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *CountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CountService) { s.now = now }
}

func WithLocale(tag language.Tag) Option {
	return func(s *CountService) { s.locale = tag }
}

// WithOutcomeQueue buffers outcomes for Outcomes consumers. A full queue
// drops outcomes rather than blocking a count.
func WithOutcomeQueue(size int) Option {
	return func(s *CountService) { s.outcomes = make(chan port.Outcome, size) }
}

func NewCountService(storage port.StorageRepository, registry *workflow.Registry, policy domain.Policy, opts ...Option) (*CountService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s := &CountService{
		storage:  storage,
		registry: registry,
		policy:   policy,
		lockTTL:  defaultLockTTL,
		logger:   zap.NewNop(),
		now:      time.Now,
		locale:   language.English,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.detector = anomaly.NewDetector(registry, policy, anomaly.WithLocale(s.locale))
	s.tracker = lifecycle.NewTracker(storage, policy, lifecycle.WithClock(s.now), lifecycle.WithLogger(s.logger))
	return s, nil
}

func (s *CountService) Tracker() *lifecycle.Tracker { return s.tracker }

// Submit reconciles a raw count. A held count (awaiting confirmation) is not
// an error; inspect the returned Reconciliation's state and anomalies.
func (s *CountService) Submit(ctx context.Context, sub domain.RawCountSubmission) (*Reconciliation, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	rec := newReconciliation(sub)

	unlock, err := s.lock(ctx, sub)
	if err != nil {
		return rec, err
	}
	defer unlock()

	return rec, s.reconcile(ctx, rec)
}

// Resubmit re-validates a held count with an operator override. Anomalies are
// recomputed against current state.
func (s *CountService) Resubmit(ctx context.Context, rec *Reconciliation, overrideNotes string) error {
	if rec.state != StateAwaitingConfirmation {
		return fmt.Errorf("%w: resubmit from %s", domain.ErrIllegalTransition, rec.state)
	}
	rec.submission.AnomalyOverride = true
	rec.submission.OverrideNotes = overrideNotes

	unlock, err := s.lock(ctx, rec.submission)
	if err != nil {
		return err
	}
	defer unlock()

	rec.reset()
	return s.reconcile(ctx, rec)
}

// Reject discards a held count at the operator's request.
func (s *CountService) Reject(rec *Reconciliation, reason string) error {
	if err := rec.transition(StateRejected); err != nil {
		return err
	}
	rec.err = fmt.Errorf("rejected by operator: %s", reason)
	s.logOutcome(rec)
	s.emit(rec)
	return nil
}

// Retry commits an auto-committable count whose previous commit failed.
func (s *CountService) Retry(ctx context.Context, rec *Reconciliation) error {
	if rec.state != StateAutoCommittable {
		return fmt.Errorf("%w: retry from %s", domain.ErrIllegalTransition, rec.state)
	}
	unlock, err := s.lock(ctx, rec.submission)
	if err != nil {
		return err
	}
	defer unlock()

	return s.commit(ctx, rec, domain.DispositionCommitted)
}

func (s *CountService) reconcile(ctx context.Context, rec *Reconciliation) error {
	if err := rec.transition(StateValidating); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := rec.submission

	item, err := s.storage.GetItem(ctx, sub.ItemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.reject(rec, fmt.Errorf("%w: %w", domain.ErrNotFound,
				&domain.ConfigurationError{ItemID: sub.ItemID, Field: "item_id", Reason: "unknown item"}))
		}
		return &domain.StorageError{Op: "get item", Err: err}
	}
	rec.item = item
	if !item.Active {
		return s.reject(rec, fmt.Errorf("%w: %s", domain.ErrItemInactive, item.ID))
	}
	if err := item.Validate(); err != nil {
		return s.reject(rec, err)
	}

	missing, err := s.registry.ValidateRequiredFields(item.Workflow, sub)
	if err != nil {
		return s.reject(rec, err)
	}
	if len(missing) > 0 {
		verr := &domain.ValidationError{
			Workflow:  item.Workflow,
			Missing:   missing,
			Anomalies: s.detector.MissingFields(item.Workflow, missing),
		}
		rec.anomalies = verr.Anomalies
		return s.reject(rec, verr)
	}

	cctx, err := s.loadContext(ctx, rec)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return s.reject(rec, err)
		}
		return err
	}

	conv, err := conversion.Convert(*item, sub.Input, cctx)
	if err != nil {
		return s.reject(rec, err)
	}
	rec.conversion = &conv

	rec.anomalies = s.detector.Detect(anomaly.Input{
		Item:       *item,
		Submission: sub,
		Conversion: conv,
		Container:  cctx.Container,
		Keg:        cctx.Keg,
		Batch:      cctx.Batch,
		Previous:   rec.previous,
		Now:        cctx.Now,
	})

	critical := domain.HasSeverity(rec.anomalies, domain.SeverityCritical)
	switch {
	case len(rec.anomalies) == 0:
		if err := rec.transition(StateAutoCommittable); err != nil {
			return err
		}
		return s.commit(ctx, rec, domain.DispositionCommitted)
	case sub.AnomalyOverride:
		return s.commit(ctx, rec, domain.DispositionCommittedWithOverride)
	case !critical && s.policy.AutoCommitLowSeverity:
		if err := rec.transition(StateAutoCommittable); err != nil {
			return err
		}
		return s.commit(ctx, rec, domain.DispositionCommitted)
	default:
		if err := rec.transition(StateAwaitingConfirmation); err != nil {
			return err
		}
		s.logOutcome(rec)
		s.emit(rec)
		return nil
	}
}

// loadContext reads the lifecycle state and the previous count the
// submission is judged against.
func (s *CountService) loadContext(ctx context.Context, rec *Reconciliation) (conversion.Context, error) {
	sub := rec.submission
	cctx := conversion.Context{BeerDensity: s.policy.BeerDensity, Now: s.now()}

	if ref := domain.ContainerRef(sub.Input); ref != "" {
		c, err := s.tracker.Container(ctx, ref)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return cctx, &domain.ValidationError{Workflow: sub.Input.Kind(), Reason: "unknown container " + ref}
		case err != nil:
			return cctx, &domain.StorageError{Op: "get container", Err: err}
		case !c.Active:
			return cctx, &domain.ValidationError{Workflow: sub.Input.Kind(), Reason: "container " + ref + " is retired"}
		}
		cctx.Container = c
	}

	switch v := sub.Input.(type) {
	case domain.KegWeight:
		keg, err := s.storage.GetKegState(ctx, sub.ItemID)
		if err != nil {
			return cctx, &domain.StorageError{Op: "get keg state", Err: err}
		}
		cctx.Keg = keg
		rec.keg = keg
	case domain.BatchWeight:
		batch, err := s.storage.GetBatchState(ctx, v.BatchRef)
		if err != nil {
			return cctx, &domain.StorageError{Op: "get batch state", Err: err}
		}
		cctx.Batch = batch
		rec.batch = batch
	}

	prev, err := s.storage.GetLatestCountRecord(ctx, sub.ItemID)
	if err != nil {
		return cctx, &domain.StorageError{Op: "get latest count record", Err: err}
	}
	rec.previous = prev
	return cctx, nil
}

func (s *CountService) commit(ctx context.Context, rec *Reconciliation, disposition domain.Disposition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := rec.submission
	record := s.buildRecord(rec, disposition)

	idemKey := "count:" + sub.ID
	if s.locker != nil {
		ok, err := s.locker.SetIdempotency(ctx, idemKey)
		if err != nil {
			return s.commitFailed(rec, domain.CommitFailed("idempotency check", err))
		}
		if !ok {
			rec.err = fmt.Errorf("%w: %s", domain.ErrDuplicateSubmission, sub.ID)
			return rec.err
		}
	}

	err := s.storage.InTx(ctx, func(tx port.StorageRepository) error {
		if err := tx.PersistCountRecord(ctx, record); err != nil {
			return &domain.StorageError{Op: "persist count record", Err: err}
		}
		return s.tracker.WithStorage(tx).ApplyCount(ctx, sub, rec.keg, rec.batch, record.CountedAt)
	})
	if err != nil {
		if s.locker != nil {
			if clearErr := s.locker.ClearIdempotency(context.WithoutCancel(ctx), idemKey); clearErr != nil {
				s.logger.Error("clear idempotency key failed", zap.String("submission_id", sub.ID), zap.Error(clearErr))
			}
		}
		var se *domain.StorageError
		if errors.As(err, &se) {
			err = fmt.Errorf("%w: %w", domain.ErrCommitFailed, se)
		} else {
			err = domain.CommitFailed("commit", err)
		}
		return s.commitFailed(rec, err)
	}

	if err := rec.transition(StateCommitted); err != nil {
		return err
	}
	rec.record = &record
	s.logOutcome(rec)
	s.emit(rec)
	return nil
}

// commitFailed leaves nothing committed. An override commit drops back to
// awaiting confirmation so it can be resubmitted.
func (s *CountService) commitFailed(rec *Reconciliation, err error) error {
	rec.err = err
	if rec.state == StateValidating {
		if terr := rec.transition(StateAwaitingConfirmation); terr != nil {
			return terr
		}
	}
	s.logger.Error("count commit failed",
		zap.String("submission_id", rec.submission.ID),
		zap.String("item_id", rec.submission.ItemID),
		zap.String("state", string(rec.state)),
		zap.Error(err))
	return err
}

func (s *CountService) buildRecord(rec *Reconciliation, disposition domain.Disposition) domain.CountRecord {
	sub := rec.submission
	record := domain.CountRecord{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		ItemID:       sub.ItemID,
		Workflow:     sub.Input.Kind(),
		Quantity:     rec.conversion.Quantity,
		RawInput:     sub.Input,
		Anomalies:    append([]domain.Anomaly(nil), rec.anomalies...),
		Disposition:  disposition,
		ContainerID:  domain.ContainerRef(sub.Input),
		Notes:        sub.Notes,
		Actor:        sub.Actor,
		CountedAt:    s.now(),
	}
	if disposition == domain.DispositionCommittedWithOverride {
		record.OverrideNotes = sub.OverrideNotes
	}
	if rec.previous != nil {
		prev := rec.previous.Quantity
		record.PreviousQuantity = &prev
		record.Variance = record.Quantity - prev
		record.VarianceRatio = anomaly.VarianceRatio(record.Quantity, prev, s.policy.VarianceEpsilon)
	}
	return record
}

func (s *CountService) reject(rec *Reconciliation, err error) error {
	if terr := rec.transition(StateRejected); terr != nil {
		return terr
	}
	rec.err = err
	s.logOutcome(rec)
	s.emit(rec)
	return err
}

// lock takes the item lock, then the container lock. Locks are never waited
// on, so the fixed order cannot deadlock.
func (s *CountService) lock(ctx context.Context, sub domain.RawCountSubmission) (func(), error) {
	keys := []string{"lock:item:" + sub.ItemID}
	if sub.Input != nil {
		if ref := domain.ContainerRef(sub.Input); ref != "" {
			keys = append(keys, "lock:container:"+ref)
		}
	}
	return s.lockKeys(ctx, keys...)
}

func (s *CountService) lockKeys(ctx context.Context, keys ...string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	type held struct{ key, token string }
	var acquired []held
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			h := acquired[i]
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), h.key, h.token); err != nil {
				s.logger.Warn("release lock failed", zap.String("key", h.key), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if !ok {
			release()
			return nil, fmt.Errorf("%w: %s", domain.ErrBusy, key)
		}
		acquired = append(acquired, held{key: key, token: token})
	}
	return release, nil
}

func (s *CountService) logOutcome(rec *Reconciliation) {
	fields := []zap.Field{
		zap.String("submission_id", rec.submission.ID),
		zap.String("item_id", rec.submission.ItemID),
		zap.String("state", string(rec.state)),
		zap.Int("anomalies", len(rec.anomalies)),
	}
	switch rec.state {
	case StateCommitted:
		s.logger.Info("count committed", append(fields,
			zap.String("record_id", rec.record.ID),
			zap.String("disposition", string(rec.record.Disposition)),
			zap.Float64("quantity", rec.record.Quantity))...)
	case StateAwaitingConfirmation:
		s.logger.Warn("count held for confirmation", fields...)
	case StateRejected:
		s.logger.Warn("count rejected", append(fields, zap.Error(rec.err))...)
	}
}

func (s *CountService) emit(rec *Reconciliation) {
	if s.outcomes == nil {
		return
	}
	out := Outcome(rec)
	select {
	case s.outcomes <- out:
	default:
		s.logger.Warn("outcome queue full, dropping outcome", zap.String("submission_id", out.SubmissionID))
	}
}

// Outcome summarizes a reconciliation for the notification side.
func Outcome(rec *Reconciliation) port.Outcome {
	out := port.Outcome{
		SubmissionID: rec.submission.ID,
		ItemID:       rec.submission.ItemID,
		State:        string(rec.state),
		Anomalies:    rec.Anomalies(),
	}
	if q, ok := rec.Quantity(); ok {
		out.Quantity = q
	}
	if rec.record != nil {
		out.RecordID = rec.record.ID
		out.Disposition = string(rec.record.Disposition)
	}
	if rec.err != nil {
		out.Error = rec.err.Error()
	}
	return out
}

func (s *CountService) Outcomes() <-chan port.Outcome {
	return s.outcomes
}

func (s *CountService) Close() {
	if s.outcomes != nil {
		close(s.outcomes)
	}
}
