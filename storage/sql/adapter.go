package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/sig-0/fxsnap/storage"
	"github.com/sig-0/fxsnap/storage/types"
)

const (
	rateColumns = "id, currency, provider, updated_at, rate"

	// Writers lock out each other, but not plain readers
	lockRatesQuery = "LOCK TABLE currency_rate IN SHARE ROW EXCLUSIVE MODE"

	deleteRatesQuery = "DELETE FROM currency_rate"

	upsertRateQuery = `INSERT INTO currency_rate (currency, provider, updated_at, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (currency) DO UPDATE
SET provider = EXCLUDED.provider, updated_at = EXCLUDED.updated_at, rate = EXCLUDED.rate
RETURNING id`

	getRateQuery = "SELECT " + rateColumns + " FROM currency_rate WHERE currency = $1"

	syncMetadataQuery = "SELECT last_sync_at, sync_interval_millis FROM sync_metadata WHERE id = 1"

	saveLastSyncQuery = `INSERT INTO sync_metadata (id, last_sync_at) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at`

	saveSyncIntervalQuery = `INSERT INTO sync_metadata (id, sync_interval_millis) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET sync_interval_millis = EXCLUDED.sync_interval_millis`
)

// orderColumns maps the list order to a table column
var orderColumns = map[types.Order]string{
	"":                    "currency",
	types.OrderByCurrency: "currency",
	types.OrderByRate:     "rate",
	types.OrderByUpdated:  "updated_at",
	types.OrderByID:       "id",
}

type Storage struct {
	db *sql.DB
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// Open opens a Postgres connection pool using the pgx driver, and pings it
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open DB: %w", err)
	}

	pingCtx, cancelFn := context.WithTimeout(ctx, time.Second*5)
	defer cancelFn()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("unable to reach DB (ping): %w", err)
	}

	return db, nil
}

func (s *Storage) ReplaceAll(ctx context.Context, records []*types.RateRecord) error {
	prepared, err := storage.PrepareRecords(records)
	if err != nil {
		return fmt.Errorf("unable to replace rates: %w", err)
	}

	if err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return replace(ctx, tx, prepared)
	}); err != nil {
		return wrapError("unable to replace rates", err)
	}

	return nil
}

func (s *Storage) Upsert(ctx context.Context, record *types.RateRecord) (types.RecordID, error) {
	if record == nil {
		return 0, fmt.Errorf("unable to upsert rate: %w: nil record", storage.ErrConstraintViolation)
	}

	elem := storage.NormalizeRecord(record)
	if err := storage.ValidateRecord(&elem); err != nil {
		return 0, fmt.Errorf("unable to upsert rate: %w", err)
	}

	var id types.RecordID

	if err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var err error

		id, err = upsert(ctx, tx, elem)

		return err
	}); err != nil {
		return 0, wrapError("unable to upsert rate", err)
	}

	return id, nil
}

func (s *Storage) Get(ctx context.Context, currency types.Currency) (*types.RateRecord, error) {
	code := types.NormalizeCurrency(currency.String())

	rec, err := scanRecord(s.db.QueryRowContext(ctx, getRateQuery, code.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // valid case
		}

		return nil, wrapError("unable to fetch rate", err)
	}

	return rec, nil
}

func (s *Storage) Lookup(
	ctx context.Context,
	currencies ...types.Currency,
) (map[types.Currency]*types.RateRecord, error) {
	out := make(map[types.Currency]*types.RateRecord, len(currencies))

	if len(currencies) == 0 {
		return out, nil
	}

	var (
		placeholders = make([]string, 0, len(currencies))
		args         = make([]any, 0, len(currencies))
	)

	for i, c := range currencies {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, types.NormalizeCurrency(c.String()).String())
	}

	query := "SELECT " + rateColumns + " FROM currency_rate WHERE currency IN (" +
		strings.Join(placeholders, ", ") + ")"

	// A single statement reads from a single snapshot
	records, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, wrapError("unable to look up rates", err)
	}

	for _, rec := range records {
		out[rec.Currency] = rec
	}

	return out, nil
}

func (s *Storage) List(ctx context.Context, query *types.ListQuery) ([]*types.RateRecord, error) {
	stmt, args, err := buildListQuery(query)
	if err != nil {
		return nil, fmt.Errorf("unable to list rates: %w", err)
	}

	records, err := s.queryRecords(ctx, stmt, args...)
	if err != nil {
		return nil, wrapError("unable to list rates", err)
	}

	return records, nil
}

func (s *Storage) Commit(ctx context.Context, commit *types.Commit) error {
	if commit == nil {
		return fmt.Errorf("unable to commit rates: %w: nil commit", storage.ErrConstraintViolation)
	}

	prepared, err := storage.PrepareRecords(commit.Records)
	if err != nil {
		return fmt.Errorf("unable to commit rates: %w", err)
	}

	var base *types.RateRecord

	if commit.Base != nil {
		elem := storage.NormalizeRecord(commit.Base)
		if err := storage.ValidateRecord(&elem); err != nil {
			return fmt.Errorf("unable to commit base rate: %w", err)
		}

		base = &elem
	}

	if err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if commit.Replace {
			if err := replace(ctx, tx, prepared); err != nil {
				return err
			}
		} else {
			for _, r := range prepared {
				if _, err := upsert(ctx, tx, r); err != nil {
					return err
				}
			}
		}

		if base != nil {
			if _, err := upsert(ctx, tx, *base); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, saveLastSyncQuery, commit.SyncedAt.UTC())

		return err
	}); err != nil {
		return wrapError("unable to commit rates", err)
	}

	return nil
}

func (s *Storage) SyncMetadata(ctx context.Context) (*types.SyncMetadata, error) {
	var (
		lastSync sql.NullTime
		millis   int64
	)

	meta := &types.SyncMetadata{
		SyncInterval: types.DefaultSyncInterval,
	}

	if err := s.db.QueryRowContext(ctx, syncMetadataQuery).Scan(&lastSync, &millis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meta, nil // not migrated with the seed row, never synced
		}

		return nil, wrapError("unable to fetch sync metadata", err)
	}

	if lastSync.Valid {
		meta.LastSyncAt = lastSync.Time.UTC()
	}

	if millis > 0 {
		meta.SyncInterval = time.Duration(millis) * time.Millisecond
	}

	return meta, nil
}

func (s *Storage) SaveSyncInterval(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("unable to save sync interval: %w: non-positive interval", storage.ErrConstraintViolation)
	}

	if _, err := s.db.ExecContext(ctx, saveSyncIntervalQuery, interval.Milliseconds()); err != nil {
		return wrapError("unable to save sync interval", err)
	}

	return nil
}

// withWriteTx runs fn in a transaction holding the rate table write lock.
// The transaction is rolled back if anything fails
func (s *Storage) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, lockRatesQuery); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err = fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

func (s *Storage) queryRecords(ctx context.Context, query string, args ...any) ([]*types.RateRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*types.RateRecord, 0)

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// replace deletes every rate row, and inserts the given records
func replace(ctx context.Context, tx *sql.Tx, records []types.RateRecord) error {
	if _, err := tx.ExecContext(ctx, deleteRatesQuery); err != nil {
		return err
	}

	for _, r := range records {
		if _, err := upsert(ctx, tx, r); err != nil {
			return err
		}
	}

	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, r types.RateRecord) (types.RecordID, error) {
	var id int64

	if err := tx.QueryRowContext(
		ctx,
		upsertRateQuery,
		r.Currency.String(),
		r.Provider,
		r.UpdatedAt,
		r.Rate,
	).Scan(&id); err != nil {
		return 0, err
	}

	return types.RecordID(id), nil
}

// buildListQuery builds the filtered, ordered list statement
func buildListQuery(query *types.ListQuery) (string, []any, error) {
	var (
		conds []string
		args  []any

		order      types.Order
		descending bool
	)

	if query != nil {
		if query.ID != nil {
			args = append(args, int64(*query.ID))
			conds = append(conds, fmt.Sprintf("id = $%d", len(args)))
		}

		if query.Currency != nil {
			args = append(args, types.NormalizeCurrency(query.Currency.String()).String())
			conds = append(conds, fmt.Sprintf("currency = $%d", len(args)))
		}

		if query.Provider != nil {
			args = append(args, *query.Provider)
			conds = append(conds, fmt.Sprintf("provider = $%d", len(args)))
		}

		order = query.OrderBy
		descending = query.Descending
	}

	column, ok := orderColumns[order]
	if !ok {
		return "", nil, fmt.Errorf("unknown order %q", order)
	}

	var b strings.Builder

	b.WriteString("SELECT " + rateColumns + " FROM currency_rate")

	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	direction := "ASC"
	if descending {
		direction = "DESC"
	}

	b.WriteString(" ORDER BY " + column + " " + direction)

	if column != "currency" {
		b.WriteString(", currency " + direction)
	}

	return b.String(), args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.RateRecord, error) {
	var (
		id       int64
		currency string
		rec      types.RateRecord
	)

	if err := row.Scan(&id, &currency, &rec.Provider, &rec.UpdatedAt, &rec.Rate); err != nil {
		return nil, err
	}

	rec.ID = types.RecordID(id)
	rec.Currency = types.Currency(strings.TrimSpace(currency))
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return &rec, nil
}

// wrapError classifies the engine error into a storage error kind
func wrapError(msg string, err error) error {
	kind := storage.ErrIO

	// SQLSTATE class 23 is integrity constraint violation
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		kind = storage.ErrConstraintViolation
	}

	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}
