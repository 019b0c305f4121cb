package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	priceColumns = `coin_id,
        symbol,
        name,
        current_price,
        market_cap,
        total_volume,
        price_change_pct_24h,
        source_updated_at,
        ingested_at`

	insertPriceRecordSQL = `INSERT INTO price_records (
        coin_id,
        symbol,
        name,
        current_price,
        market_cap,
        total_volume,
        price_change_pct_24h,
        source_updated_at,
        ingested_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (coin_id, ingested_at) DO NOTHING;`

	latestPerCoinSQL = `SELECT DISTINCT ON (coin_id) ` + priceColumns + `
    FROM price_records
    ORDER BY coin_id, ingested_at DESC;`

	listSinceSQL = `SELECT ` + priceColumns + `
    FROM price_records
    WHERE ingested_at >= $1
    ORDER BY ingested_at, coin_id;`

	listRecentRecordsSQL = `SELECT ` + priceColumns + `
    FROM price_records
    ORDER BY ingested_at DESC, coin_id
    LIMIT $1;`

	listCoinBetweenSQL = `SELECT ` + priceColumns + `
    FROM price_records
    WHERE coin_id = $1
      AND ingested_at >= $2
      AND ingested_at < $3
    ORDER BY ingested_at;`

	countRecordsSQL = `SELECT COUNT(*) FROM price_records;`

	insertErrorLogSQL = `INSERT INTO pipeline_errors (
        message,
        source,
        occurred_at
    ) VALUES (
        $1,$2,$3
    );`

	listRecentErrorsSQL = `SELECT message, source, occurred_at
    FROM pipeline_errors
    ORDER BY occurred_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceStore defines operations for the append-only price time series.
type PriceStore interface {
	InsertPriceBatch(ctx context.Context, records []PriceRecord) error
	LatestPerCoin(ctx context.Context) (map[string]PriceRecord, error)
	ListSince(ctx context.Context, since time.Time) ([]PriceRecord, error)
	ListRecentRecords(ctx context.Context, limit int) ([]PriceRecord, error)
	ListCoinBetween(ctx context.Context, coinID string, from, to time.Time) ([]PriceRecord, error)
	CountRecords(ctx context.Context) (int64, error)
}

// ErrorLogStore defines operations for the append-only error log.
type ErrorLogStore interface {
	InsertErrorLog(ctx context.Context, entry ErrorLogEntry) error
	ListRecentErrors(ctx context.Context, limit int) ([]ErrorLogEntry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price records and the error log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort, the session lock dies with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPriceBatch appends a validated batch. Replays of the same
// (coin_id, ingested_at) pair are silently skipped; persisted rows are
// never updated.
func (s *Store) InsertPriceBatch(ctx context.Context, records []PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		var sourceUpdated interface{}
		if !rec.SourceUpdatedAt.IsZero() {
			sourceUpdated = rec.SourceUpdatedAt
		}
		batch.Queue(insertPriceRecordSQL,
			rec.CoinID,
			rec.Symbol,
			rec.Name,
			rec.CurrentPrice.String(),
			rec.MarketCap.String(),
			rec.TotalVolume.String(),
			rec.PriceChangePct24h.String(),
			sourceUpdated,
			rec.IngestedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert price batch: %w", execErr)
		}
	}
	return nil
}

// LatestPerCoin returns the most recent record for every coin seen so far.
func (s *Store) LatestPerCoin(ctx context.Context) (map[string]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestPerCoinSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest per coin: %w", queryErr)
	}
	defer rows.Close()

	latest := make(map[string]PriceRecord)
	for rows.Next() {
		rec, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		latest[rec.CoinID] = rec
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return latest, nil
}

// ListSince lists records ingested at or after the given instant.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list since: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows)
}

// ListRecentRecords lists the most recent records ordered by descending ingestion time.
func (s *Store) ListRecentRecords(ctx context.Context, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows)
}

// ListCoinBetween lists one coin's records within [from, to).
func (s *Store) ListCoinBetween(ctx context.Context, coinID string, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCoinBetweenSQL, coinID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list coin between: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows)
}

// CountRecords counts stored price records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

// InsertErrorLog appends one failure observation.
func (s *Store) InsertErrorLog(ctx context.Context, entry ErrorLogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertErrorLogSQL, entry.Message, entry.Source, entry.OccurredAt); execErr != nil {
		return fmt.Errorf("insert error log: %w", execErr)
	}
	return nil
}

// ListRecentErrors lists the most recent error log entries.
func (s *Store) ListRecentErrors(ctx context.Context, limit int) ([]ErrorLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentErrorsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent errors: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]ErrorLogEntry, 0, limit)
	for rows.Next() {
		var entry ErrorLogEntry
		if err := rows.Scan(&entry.Message, &entry.Source, &entry.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func collectPriceRecords(rows pgx.Rows) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0)
	for rows.Next() {
		rec, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPriceRecord(rows pgx.Rows) (PriceRecord, error) {
	var (
		rec           PriceRecord
		priceStr      string
		capStr        string
		volumeStr     string
		changeStr     string
		sourceUpdated sql.NullTime
	)

	if err := rows.Scan(
		&rec.CoinID,
		&rec.Symbol,
		&rec.Name,
		&priceStr,
		&capStr,
		&volumeStr,
		&changeStr,
		&sourceUpdated,
		&rec.IngestedAt,
	); err != nil {
		return PriceRecord{}, err
	}

	var err error
	rec.CurrentPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	rec.MarketCap, err = decimal.NewFromString(capStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse market cap: %w", err)
	}
	rec.TotalVolume, err = decimal.NewFromString(volumeStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse total volume: %w", err)
	}
	rec.PriceChangePct24h, err = decimal.NewFromString(changeStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse 24h change pct: %w", err)
	}

	if sourceUpdated.Valid {
		rec.SourceUpdatedAt = sourceUpdated.Time
	}

	return rec, nil
}
