package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLiteMigrationDir holds the SQLite flavoured migrations inside the embedded FS.
const SQLiteMigrationDir = "sqlite"

type migration struct {
	name string
	sql  string
}

// readMigrations returns the non-empty .sql files of dir in lexicographical order.
func readMigrations(filesystem fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := path.Join(dir, entry.Name())
		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		if len(sqlBytes) == 0 {
			continue
		}
		out = append(out, migration{name: name, sql: string(sqlBytes)})
	}
	return out, nil
}

// ApplyMigrations executes the top-level SQL files against the provided pool in lexicographical order.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	files, err := readMigrations(filesystem, ".")
	if err != nil {
		return err
	}

	for _, m := range files {
		if err := executeSQL(ctx, pool, m.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}

	return nil
}

func executeSQL(ctx context.Context, pool *pgxpool.Pool, sql string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql)
		return err
	})
}

// applySQLiteMigrations runs every file under SQLiteMigrationDir. Statements
// must be idempotent since there is no applied-migrations table.
func applySQLiteMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS) error {
	files, err := readMigrations(filesystem, SQLiteMigrationDir)
	if err != nil {
		return err
	}

	for _, m := range files {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
