package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	_ "github.com/doug-martin/goqu/v9/dialect/mysql"   // register mysql dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // register sqlite3 dialect

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/port"
)

const (
	itemsTable        = "items"
	containersTable   = "containers"
	kegStatesTable    = "keg_states"
	batchStatesTable  = "batch_states"
	countRecordsTable = "count_records"
)

// SQLStore persists engine state in MySQL or SQLite. Writes made through the
// store passed to an InTx callback share one transaction.
type SQLStore struct {
	db      *sqlx.DB
	exec    sqlx.ExtContext
	dialect goqu.DialectWrapper
	inTx    bool
}

var _ port.StorageRepository = (*SQLStore)(nil)

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:      db,
		exec:    db,
		dialect: goqu.Dialect(db.DriverName()),
	}
}

type itemRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Unit      string          `db:"unit"`
	Workflow  string          `db:"workflow"`
	ParLow    decimal.Decimal `db:"par_low"`
	ParHigh   decimal.Decimal `db:"par_high"`
	Params    string          `db:"params"`
	Active    bool            `db:"active"`
	UpdatedAt time.Time       `db:"updated_at"`
}

type containerRow struct {
	ID                        string          `db:"id"`
	Barcode                   string          `db:"barcode"`
	TareWeight                decimal.Decimal `db:"tare_weight"`
	LastWeighedAt             time.Time       `db:"last_weighed_at"`
	VerificationStatus        string          `db:"verification_status"`
	VerificationFrequencyDays int             `db:"verification_frequency_days"`
	UsageCount                int             `db:"usage_count"`
	LastUsedAt                sql.NullTime    `db:"last_used_at"`
	Active                    bool            `db:"active"`
}

type kegRow struct {
	ItemID   string       `db:"item_id"`
	TappedAt sql.NullTime `db:"tapped_at"`
}

type batchRow struct {
	BatchRef  string    `db:"batch_ref"`
	ItemID    string    `db:"item_id"`
	BatchDate time.Time `db:"batch_date"`
}

type countRecordRow struct {
	ID               string              `db:"id"`
	SubmissionID     string              `db:"submission_id"`
	ItemID           string              `db:"item_id"`
	Workflow         string              `db:"workflow"`
	Quantity         decimal.Decimal     `db:"quantity"`
	PreviousQuantity decimal.NullDecimal `db:"previous_quantity"`
	Variance         decimal.Decimal     `db:"variance"`
	VarianceRatio    float64             `db:"variance_ratio"`
	RawInput         string              `db:"raw_input"`
	Anomalies        string              `db:"anomalies"`
	Disposition      string              `db:"disposition"`
	ContainerID      string              `db:"container_id"`
	Notes            string              `db:"notes"`
	OverrideNotes    string              `db:"override_notes"`
	Actor            string              `db:"actor"`
	CountedAt        time.Time           `db:"counted_at"`
	CountedSeq       int64               `db:"counted_seq"`
}

func (s *SQLStore) InTx(ctx context.Context, fn func(port.StorageRepository) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &SQLStore{db: s.db, exec: tx, dialect: s.dialect, inTx: true}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(txStore)
	return
}

func (s *SQLStore) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	var row itemRow
	query, args, err := s.dialect.From(itemsTable).Prepared(true).Where(goqu.Ex{"id": itemID}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("query item: %w", err)
	}

	item := domain.InventoryItem{
		ID:        row.ID,
		Name:      row.Name,
		Unit:      row.Unit,
		Workflow:  domain.WorkflowKind(row.Workflow),
		ParLow:    row.ParLow.InexactFloat64(),
		ParHigh:   row.ParHigh.InexactFloat64(),
		Active:    row.Active,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Params), &item.Params); err != nil {
		return nil, fmt.Errorf("decode params of item %s: %w", itemID, err)
	}
	return &item, nil
}

func (s *SQLStore) SaveItem(ctx context.Context, item domain.InventoryItem) error {
	params, err := json.Marshal(item.Params)
	if err != nil {
		return fmt.Errorf("encode item params: %w", err)
	}
	rec := goqu.Record{
		"name":       item.Name,
		"unit":       item.Unit,
		"workflow":   string(item.Workflow),
		"par_low":    decimal.NewFromFloat(item.ParLow),
		"par_high":   decimal.NewFromFloat(item.ParHigh),
		"params":     string(params),
		"active":     item.Active,
		"updated_at": item.UpdatedAt,
	}
	return s.upsert(ctx, itemsTable, "id", item.ID, rec)
}

func (s *SQLStore) DeactivateItem(ctx context.Context, itemID string) error {
	exists, err := s.exists(ctx, itemsTable, "id", itemID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	query, args, err := s.dialect.Update(itemsTable).Prepared(true).
		Set(goqu.Record{"active": false, "updated_at": time.Now().UTC()}).
		Where(goqu.Ex{"id": itemID}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build deactivate: %w", err)
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deactivate item: %w", err)
	}
	return nil
}

func (s *SQLStore) GetLatestCountRecord(ctx context.Context, itemID string) (*domain.CountRecord, error) {
	var row countRecordRow
	query, args, err := s.dialect.From(countRecordsTable).Prepared(true).
		Where(goqu.Ex{"item_id": itemID}).
		Order(goqu.C("counted_seq").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build latest record query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest record: %w", err)
	}
	return row.toDomain()
}

// CountRecords lists an item's records, newest first.
func (s *SQLStore) CountRecords(ctx context.Context, itemID string, limit uint) ([]domain.CountRecord, error) {
	var rows []countRecordRow
	query, args, err := s.dialect.From(countRecordsTable).Prepared(true).
		Where(goqu.Ex{"item_id": itemID}).
		Order(goqu.C("counted_seq").Desc()).
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build records query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, s.exec, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	out := make([]domain.CountRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *SQLStore) PersistCountRecord(ctx context.Context, record domain.CountRecord) error {
	rawInput, err := domain.EncodeInput(record.RawInput)
	if err != nil {
		return err
	}
	anomalies := record.Anomalies
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	anomalyJSON, err := json.Marshal(anomalies)
	if err != nil {
		return fmt.Errorf("encode anomalies: %w", err)
	}

	var previous decimal.NullDecimal
	if record.PreviousQuantity != nil {
		previous = decimal.NewNullDecimal(decimal.NewFromFloat(*record.PreviousQuantity))
	}

	query, args, err := s.dialect.Insert(countRecordsTable).Prepared(true).Rows(goqu.Record{
		"id":                record.ID,
		"submission_id":     record.SubmissionID,
		"item_id":           record.ItemID,
		"workflow":          string(record.Workflow),
		"quantity":          decimal.NewFromFloat(record.Quantity),
		"previous_quantity": previous,
		"variance":          decimal.NewFromFloat(record.Variance),
		"variance_ratio":    record.VarianceRatio,
		"raw_input":         string(rawInput),
		"anomalies":         string(anomalyJSON),
		"disposition":       string(record.Disposition),
		"container_id":      record.ContainerID,
		"notes":             record.Notes,
		"override_notes":    record.OverrideNotes,
		"actor":             record.Actor,
		"counted_at":        record.CountedAt.UTC(),
		"counted_seq":       record.CountedAt.UnixNano(),
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build record insert: %w", err)
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert count record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetContainerState(ctx context.Context, containerID string) (*domain.ContainerInstance, error) {
	var row containerRow
	query, args, err := s.dialect.From(containersTable).Prepared(true).Where(goqu.Ex{"id": containerID}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build container query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("container %s: %w", containerID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("query container: %w", err)
	}

	c := &domain.ContainerInstance{
		ID:                        row.ID,
		Barcode:                   row.Barcode,
		TareWeight:                row.TareWeight.InexactFloat64(),
		LastWeighedAt:             row.LastWeighedAt,
		VerificationStatus:        domain.VerificationStatus(row.VerificationStatus),
		VerificationFrequencyDays: row.VerificationFrequencyDays,
		UsageCount:                row.UsageCount,
		Active:                    row.Active,
	}
	if row.LastUsedAt.Valid {
		t := row.LastUsedAt.Time
		c.LastUsedAt = &t
	}
	return c, nil
}

func (s *SQLStore) GetKegState(ctx context.Context, itemID string) (*domain.KegState, error) {
	var row kegRow
	query, args, err := s.dialect.From(kegStatesTable).Prepared(true).Where(goqu.Ex{"item_id": itemID}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build keg query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query keg state: %w", err)
	}

	keg := &domain.KegState{ItemID: row.ItemID}
	if row.TappedAt.Valid {
		t := row.TappedAt.Time
		keg.TappedAt = &t
	}
	return keg, nil
}

func (s *SQLStore) GetBatchState(ctx context.Context, batchRef string) (*domain.BatchState, error) {
	var row batchRow
	query, args, err := s.dialect.From(batchStatesTable).Prepared(true).Where(goqu.Ex{"batch_ref": batchRef}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query batch state: %w", err)
	}
	return &domain.BatchState{BatchRef: row.BatchRef, ItemID: row.ItemID, BatchDate: row.BatchDate}, nil
}

func (s *SQLStore) PersistLifecycleUpdate(ctx context.Context, update domain.LifecycleUpdate) error {
	switch update.Kind {
	case domain.UpdateContainerRegister, domain.UpdateContainerUsage, domain.UpdateContainerReweigh:
		c := update.Container
		if c == nil {
			return fmt.Errorf("%s update without container", update.Kind)
		}
		return s.upsert(ctx, containersTable, "id", c.ID, goqu.Record{
			"barcode":                     c.Barcode,
			"tare_weight":                 decimal.NewFromFloat(c.TareWeight),
			"last_weighed_at":             c.LastWeighedAt.UTC(),
			"verification_status":         string(c.VerificationStatus),
			"verification_frequency_days": c.VerificationFrequencyDays,
			"usage_count":                 c.UsageCount,
			"last_used_at":                nullTime(c.LastUsedAt),
			"active":                      c.Active,
		})
	case domain.UpdateKegTap:
		if update.Keg == nil {
			return fmt.Errorf("%s update without keg", update.Kind)
		}
		return s.upsert(ctx, kegStatesTable, "item_id", update.Keg.ItemID, goqu.Record{
			"tapped_at": nullTime(update.Keg.TappedAt),
		})
	case domain.UpdateBatchStart:
		b := update.Batch
		if b == nil {
			return fmt.Errorf("%s update without batch", update.Kind)
		}
		return s.upsert(ctx, batchStatesTable, "batch_ref", b.BatchRef, goqu.Record{
			"item_id":    b.ItemID,
			"batch_date": b.BatchDate.UTC(),
		})
	default:
		return fmt.Errorf("unknown lifecycle update %q", update.Kind)
	}
}

// upsert replaces the row keyed by key=id. Update-then-insert keeps the SQL
// identical across dialects.
func (s *SQLStore) upsert(ctx context.Context, table, key, id string, rec goqu.Record) error {
	exists, err := s.exists(ctx, table, key, id)
	if err != nil {
		return err
	}

	var (
		query string
		args  []any
	)
	if exists {
		query, args, err = s.dialect.Update(table).Prepared(true).Set(rec).Where(goqu.Ex{key: id}).ToSQL()
	} else {
		row := goqu.Record{key: id}
		for k, v := range rec {
			row[k] = v
		}
		query, args, err = s.dialect.Insert(table).Prepared(true).Rows(row).ToSQL()
	}
	if err != nil {
		return fmt.Errorf("build %s write: %w", table, err)
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, table, key, id string) (bool, error) {
	var n int
	query, args, err := s.dialect.From(table).Prepared(true).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{key: id}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build %s lookup: %w", table, err)
	}
	if err := sqlx.GetContext(ctx, s.exec, &n, query, args...); err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return n > 0, nil
}

func (r countRecordRow) toDomain() (*domain.CountRecord, error) {
	in, err := domain.DecodeInput([]byte(r.RawInput))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.ID, err)
	}
	var anomalies []domain.Anomaly
	if err := json.Unmarshal([]byte(r.Anomalies), &anomalies); err != nil {
		return nil, fmt.Errorf("record %s anomalies: %w", r.ID, err)
	}

	rec := &domain.CountRecord{
		ID:            r.ID,
		SubmissionID:  r.SubmissionID,
		ItemID:        r.ItemID,
		Workflow:      domain.WorkflowKind(r.Workflow),
		Quantity:      r.Quantity.InexactFloat64(),
		Variance:      r.Variance.InexactFloat64(),
		VarianceRatio: r.VarianceRatio,
		RawInput:      in,
		Anomalies:     anomalies,
		Disposition:   domain.Disposition(r.Disposition),
		ContainerID:   r.ContainerID,
		Notes:         r.Notes,
		OverrideNotes: r.OverrideNotes,
		Actor:         r.Actor,
		CountedAt:     r.CountedAt,
	}
	if r.PreviousQuantity.Valid {
		prev := r.PreviousQuantity.Decimal.InexactFloat64()
		rec.PreviousQuantity = &prev
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
