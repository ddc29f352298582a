package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrRecordNotFound is returned by Load when no record exists under the name.
	ErrRecordNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by SaveRecords when a record changed since it was read.
	ErrVersionConflict = errors.New("record version conflict")
)

// Record is one named, serialised document. Version starts at 1 on first
// save and increases by one on every later save.
type Record struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store defines the persistence contract for ledger state.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Load returns the latest record stored under name.
	Load(ctx context.Context, name string) (*Record, error)
	// SaveRecords writes all records atomically. Each record's Version must
	// equal the version currently stored (0 when absent); on success the
	// stored version becomes Version+1.
	SaveRecords(ctx context.Context, records ...Record) error
	// History lists previous payloads of name, newest first.
	History(ctx context.Context, name string, limit int) ([]Record, error)
}
