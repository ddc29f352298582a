package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps ledger records in Postgres (Supabase compatible).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
		schema: schema,
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, s.pool, filesystem)
}

// WithTx executes fn within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// Load returns the current record stored under name.
func (s *PostgresStore) Load(ctx context.Context, name string) (*Record, error) {
	const q = `
SELECT name, payload, version, updated_at
FROM ledger_records
WHERE name = $1
LIMIT 1;
`
	var rec Record
	var payload []byte
	err := s.pool.QueryRow(ctx, q, name).Scan(&rec.Name, &payload, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load record %s: %w", name, err)
	}
	rec.Payload = payload
	return &rec, nil
}

// SaveRecords writes every record in one transaction using optimistic versioning.
func (s *PostgresStore) SaveRecords(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := s.saveRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) saveRecord(ctx context.Context, tx pgx.Tx, rec Record) error {
	var q string
	if rec.Version == 0 {
		q = `
INSERT INTO ledger_records (name, payload, version, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (name) DO NOTHING;
`
	} else {
		q = `
UPDATE ledger_records
SET payload = $2, version = version + 1, updated_at = NOW()
WHERE name = $1 AND version = $3;
`
	}

	args := []any{rec.Name, string(rec.Payload)}
	if rec.Version != 0 {
		args = append(args, rec.Version)
	}
	ct, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.Name, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("save record %s at version %d: %w", rec.Name, rec.Version, ErrVersionConflict)
	}

	const h = `
INSERT INTO ledger_record_history (name, version, payload)
VALUES ($1, $2, $3);
`
	if _, err := tx.Exec(ctx, h, rec.Name, rec.Version+1, string(rec.Payload)); err != nil {
		return fmt.Errorf("append history %s: %w", rec.Name, err)
	}
	s.logger.Debug("record saved", "name", rec.Name, "version", rec.Version+1)
	return nil
}

// History returns the latest stored versions of name.
func (s *PostgresStore) History(ctx context.Context, name string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT name, payload, version, created_at
FROM ledger_record_history
WHERE name = $1
ORDER BY version DESC
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, q, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.Name, &payload, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}
