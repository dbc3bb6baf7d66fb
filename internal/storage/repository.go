package storage

import (
	"context"
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
	insertAlertSQL = `INSERT INTO alerts (
        tx_hash,
        buyer,
        token_amount,
        usd_value,
        price,
        price_source,
        category,
        tx_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (tx_hash) DO NOTHING
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        tx_hash,
        buyer,
        token_amount,
        usd_value,
        price,
        price_source,
        category,
        tx_ts,
        created_at
    FROM alerts
    ORDER BY tx_ts DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT
        id,
        tx_hash,
        buyer,
        token_amount,
        usd_value,
        price,
        price_source,
        category,
        tx_ts,
        created_at
    FROM alerts
    WHERE tx_ts >= $1
      AND tx_ts < $2
    ORDER BY tx_ts;`

	countAlertsSQL = `SELECT COUNT(*) FROM alerts;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE tx_ts < $1;`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
	CountAlerts(ctx context.Context) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// Store provides postgres-backed alert persistence.
type Store struct {
	pool *pgxpool.Pool
}

var _ AlertStore = (*Store)(nil)

// NewStore wires a pgx pool into a Store. A nil pool yields a store
// whose operations report ErrNotConfigured.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Configured reports whether a backing pool is present.
func (s *Store) Configured() bool {
	return s != nil && s.pool != nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists one alert emission. Re-inserting an already
// stored hash is a no-op and returns the input record with a zero ID.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Hash,
		alert.Buyer,
		alert.TokenAmount.String(),
		alert.USDValue.String(),
		alert.Price.String(),
		alert.PriceSource,
		alert.Category,
		alert.TxTime,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return alert, nil
		}
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts ordered by transaction time.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, limit)
}

// ListAlertsBetween lists alerts within a transaction-time window.
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, 0)
}

// CountAlerts counts stored alerts.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectAlerts(rows pgx.Rows, sizeHint int) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0, sizeHint)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec       AlertRecord
		amountStr string
		usdStr    string
		priceStr  string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Hash,
		&rec.Buyer,
		&amountStr,
		&usdStr,
		&priceStr,
		&rec.PriceSource,
		&rec.Category,
		&rec.TxTime,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.TokenAmount, err = decimal.NewFromString(amountStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse token amount: %w", err)
	}
	if rec.USDValue, err = decimal.NewFromString(usdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse usd value: %w", err)
	}
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", err)
	}

	return rec, nil
}
