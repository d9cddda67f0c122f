package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/port"
)

var testNow = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, ApplySchema(context.Background(), db))
	return NewSQLStore(db)
}

func TestSQLStore_ItemRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetItem(ctx, "ipa")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	item := domain.InventoryItem{
		ID: "ipa", Name: "Hazy IPA", Unit: "L", Workflow: domain.WorkflowKegWeight,
		ParLow: 20, ParHigh: 100.5, Active: true, UpdatedAt: testNow,
		Params: domain.ItemParams{KegCapacityLiters: 50, EmptyKegWeight: 13300, FreshnessDays: 14, StorageTempMax: floatPtr(4)},
	}
	require.NoError(t, store.SaveItem(ctx, item))

	got, err := store.GetItem(ctx, "ipa")
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.Workflow, got.Workflow)
	assert.InDelta(t, 100.5, got.ParHigh, 1e-9)
	assert.Equal(t, item.Params, got.Params)
	assert.True(t, got.Active)
	assert.True(t, got.UpdatedAt.Equal(testNow))

	item.Name = "Hazy IPA (rotating)"
	require.NoError(t, store.SaveItem(ctx, item))
	got, err = store.GetItem(ctx, "ipa")
	require.NoError(t, err)
	assert.Equal(t, "Hazy IPA (rotating)", got.Name)

	require.NoError(t, store.DeactivateItem(ctx, "ipa"))
	got, err = store.GetItem(ctx, "ipa")
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, store.DeactivateItem(ctx, "stout"), domain.ErrNotFound)
}

func TestSQLStore_ContainerLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetContainerState(ctx, "bin-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c := domain.ContainerInstance{
		ID: "bin-9", Barcode: "BIN0009", TareWeight: 850.25, LastWeighedAt: testNow,
		VerificationStatus: domain.VerificationCurrent, VerificationFrequencyDays: 14, Active: true,
	}
	require.NoError(t, store.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{Kind: domain.UpdateContainerRegister, Container: &c, At: testNow}))

	got, err := store.GetContainerState(ctx, "bin-9")
	require.NoError(t, err)
	assert.InDelta(t, 850.25, got.TareWeight, 1e-9)
	assert.Nil(t, got.LastUsedAt)
	assert.Equal(t, 14, got.VerificationFrequencyDays)

	used := testNow.Add(time.Hour)
	c.UsageCount = 3
	c.LastUsedAt = &used
	require.NoError(t, store.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{Kind: domain.UpdateContainerUsage, Container: &c, At: used}))

	got, err = store.GetContainerState(ctx, "bin-9")
	require.NoError(t, err)
	assert.Equal(t, 3, got.UsageCount)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(used))
}

func TestSQLStore_KegAndBatchState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keg, err := store.GetKegState(ctx, "ipa")
	require.NoError(t, err)
	assert.Nil(t, keg)

	tapped := testNow.AddDate(0, 0, -5)
	require.NoError(t, store.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{
		Kind: domain.UpdateKegTap, Keg: &domain.KegState{ItemID: "ipa", TappedAt: &tapped},
	}))
	keg, err = store.GetKegState(ctx, "ipa")
	require.NoError(t, err)
	require.NotNil(t, keg.TappedAt)
	assert.True(t, keg.TappedAt.Equal(tapped))

	batch, err := store.GetBatchState(ctx, "SOUP-0402")
	require.NoError(t, err)
	assert.Nil(t, batch)

	require.NoError(t, store.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{
		Kind: domain.UpdateBatchStart, Batch: &domain.BatchState{BatchRef: "SOUP-0402", ItemID: "soup", BatchDate: testNow},
	}))
	batch, err = store.GetBatchState(ctx, "SOUP-0402")
	require.NoError(t, err)
	assert.Equal(t, "soup", batch.ItemID)
	assert.True(t, batch.BatchDate.Equal(testNow))

	err = store.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{Kind: domain.UpdateKegTap})
	assert.Error(t, err)
}

func TestSQLStore_CountRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.GetLatestCountRecord(ctx, "rice")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := domain.CountRecord{
		ID: "rec-1", SubmissionID: "sub-1", ItemID: "rice", Workflow: domain.WorkflowContainerWeight,
		Quantity:    1500,
		RawInput:    domain.ContainerWeight{ContainerID: "bin-1", GrossWeight: floatPtr(2350)},
		Disposition: domain.DispositionCommitted, ContainerID: "bin-1", Actor: "sam", CountedAt: testNow,
	}
	second := domain.CountRecord{
		ID: "rec-2", SubmissionID: "sub-2", ItemID: "rice", Workflow: domain.WorkflowContainerWeight,
		Quantity: 900.5, PreviousQuantity: floatPtr(1500), Variance: -599.5, VarianceRatio: 0.3997,
		RawInput: domain.ContainerWeight{ContainerID: "bin-1", GrossWeight: floatPtr(1750.5)},
		Anomalies: []domain.Anomaly{{
			Type: domain.AnomalySignificantVariance, Severity: domain.SeverityWarning,
			Message: "count changed by 40%", SuggestedAction: "recount", Confidence: 0.6,
		}},
		Disposition: domain.DispositionCommittedWithOverride, ContainerID: "bin-1",
		OverrideNotes: "spillage", CountedAt: testNow.Add(time.Millisecond),
	}
	require.NoError(t, store.PersistCountRecord(ctx, first))
	require.NoError(t, store.PersistCountRecord(ctx, second))

	latest, err = store.GetLatestCountRecord(ctx, "rice")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "rec-2", latest.ID)
	assert.InDelta(t, 900.5, latest.Quantity, 1e-9)
	require.NotNil(t, latest.PreviousQuantity)
	assert.InDelta(t, 1500, *latest.PreviousQuantity, 1e-9)
	assert.Equal(t, second.Anomalies, latest.Anomalies)
	assert.Equal(t, second.RawInput, latest.RawInput)
	assert.Equal(t, "spillage", latest.OverrideNotes)

	all, err := store.CountRecords(ctx, "rice", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "rec-1", all[1].ID)
	assert.Nil(t, all[1].PreviousQuantity)
	assert.Empty(t, all[1].Anomalies)

	// Submission ids are unique.
	dup := first
	dup.ID = "rec-3"
	assert.Error(t, store.PersistCountRecord(ctx, dup))
}

func TestSQLStore_InTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx port.StorageRepository) error {
		require.NoError(t, tx.PersistCountRecord(ctx, domain.CountRecord{
			ID: "rec-1", SubmissionID: "sub-1", ItemID: "limes", Workflow: domain.WorkflowUnitCount,
			Quantity: 12, RawInput: domain.UnitCount{Quantity: floatPtr(12)},
			Disposition: domain.DispositionCommitted, CountedAt: testNow,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	latest, err := store.GetLatestCountRecord(ctx, "limes")
	require.NoError(t, err)
	assert.Nil(t, latest)

	err = store.InTx(ctx, func(tx port.StorageRepository) error {
		return tx.PersistLifecycleUpdate(ctx, domain.LifecycleUpdate{
			Kind: domain.UpdateKegTap, Keg: &domain.KegState{ItemID: "ipa", TappedAt: &testNow},
		})
	})
	require.NoError(t, err)
	keg, err := store.GetKegState(ctx, "ipa")
	require.NoError(t, err)
	require.NotNil(t, keg)
}
