package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps ledger records in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps the version check and the update in the same view.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applySQLiteMigrations(ctx, s.db, filesystem)
}

// Load returns the current record stored under name.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*Record, error) {
	const q = `
SELECT name, payload, version, updated_at
FROM ledger_records
WHERE name = ?
LIMIT 1;
`
	var rec Record
	var payload []byte
	err := s.db.QueryRowContext(ctx, q, name).Scan(&rec.Name, &payload, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load record %s: %w", name, err)
	}
	rec.Payload = payload
	return &rec, nil
}

// SaveRecords writes every record in one transaction using optimistic versioning.
func (s *SQLiteStore) SaveRecords(ctx context.Context, records ...Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	for _, rec := range records {
		if err = s.saveRecord(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) saveRecord(ctx context.Context, tx *sql.Tx, rec Record, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	if rec.Version == 0 {
		const q = `
INSERT INTO ledger_records (name, payload, version, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (name) DO NOTHING;
`
		res, err = tx.ExecContext(ctx, q, rec.Name, string(rec.Payload), now)
	} else {
		const q = `
UPDATE ledger_records
SET payload = ?, version = version + 1, updated_at = ?
WHERE name = ? AND version = ?;
`
		res, err = tx.ExecContext(ctx, q, string(rec.Payload), now, rec.Name, rec.Version)
	}
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save record %s at version %d: %w", rec.Name, rec.Version, ErrVersionConflict)
	}

	const h = `
INSERT INTO ledger_record_history (name, version, payload, created_at)
VALUES (?, ?, ?, ?);
`
	if _, err := tx.ExecContext(ctx, h, rec.Name, rec.Version+1, string(rec.Payload), now); err != nil {
		return fmt.Errorf("append history %s: %w", rec.Name, err)
	}
	s.logger.Debug("record saved", "name", rec.Name, "version", rec.Version+1)
	return nil
}

// History returns the latest stored versions of name.
func (s *SQLiteStore) History(ctx context.Context, name string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT name, payload, version, created_at
FROM ledger_record_history
WHERE name = ?
ORDER BY version DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, name, limit)
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
