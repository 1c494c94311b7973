package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements SnapshotStore on a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate runs the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Get implements SnapshotStore.
func (s *SQLiteStore) Get(ctx context.Context, urn provider.URN) (*Snapshot, error) {
	query := `
		SELECT urn, id, type, inputs, outputs, stale, version, updated_at
		FROM snapshots
		WHERE urn = ?
	`

	var (
		snap        Snapshot
		inputsJSON  string
		outputsJSON string
		staleInt    int
	)
	err := s.db.QueryRowContext(ctx, query, string(urn)).Scan(
		&snap.URN,
		&snap.ID,
		&snap.Type,
		&inputsJSON,
		&outputsJSON,
		&staleInt,
		&snap.Version,
		&snap.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", urn, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.Stale = staleInt != 0
	if err := json.Unmarshal([]byte(inputsJSON), &snap.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs for %s: %w", urn, err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &snap.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode outputs for %s: %w", urn, err)
	}
	return &snap, nil
}

// Save implements SnapshotStore. The write is transactional and fails
// with ErrVersionConflict when the stored version has moved.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	inputsJSON, err := marshalBag(snap.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	outputsJSON, err := marshalBag(snap.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM snapshots WHERE urn = ?`, string(snap.URN)).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return fmt.Errorf("failed to read snapshot version: %w", err)
	}

	if snap.Version != current {
		return fmt.Errorf("%s: stored version %d, saving %d: %w",
			snap.URN, current, snap.Version, ErrVersionConflict)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO snapshots (urn, id, type, inputs, outputs, stale, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(urn) DO UPDATE SET
			id = excluded.id,
			type = excluded.type,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			stale = excluded.stale,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	stale := 0
	if snap.Stale {
		stale = 1
	}
	_, err = tx.ExecContext(ctx, query,
		string(snap.URN),
		string(snap.ID),
		snap.Type,
		inputsJSON,
		outputsJSON,
		stale,
		current+1,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	snap.Version = current + 1
	snap.UpdatedAt = now
	return nil
}

// Delete implements SnapshotStore.
func (s *SQLiteStore) Delete(ctx context.Context, urn provider.URN) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE urn = ?`, string(urn)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// List implements SnapshotStore.
func (s *SQLiteStore) List(ctx context.Context) ([]*Snapshot, error) {
	query := `
		SELECT urn, id, type, inputs, outputs, stale, version, updated_at
		FROM snapshots
		ORDER BY urn ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		var (
			snap        Snapshot
			inputsJSON  string
			outputsJSON string
			staleInt    int
		)
		err := rows.Scan(
			&snap.URN,
			&snap.ID,
			&snap.Type,
			&inputsJSON,
			&outputsJSON,
			&staleInt,
			&snap.Version,
			&snap.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Stale = staleInt != 0
		if err := json.Unmarshal([]byte(inputsJSON), &snap.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs for %s: %w", snap.URN, err)
		}
		if err := json.Unmarshal([]byte(outputsJSON), &snap.Outputs); err != nil {
			return nil, fmt.Errorf("failed to decode outputs for %s: %w", snap.URN, err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// AppendOp implements SnapshotStore.
func (s *SQLiteStore) AppendOp(ctx context.Context, rec *OpRecord) error {
	query := `
		INSERT INTO operations (urn, method, outcome, error, duration_ns, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, query,
		string(rec.URN),
		rec.Method,
		rec.Outcome,
		rec.Error,
		rec.Duration.Nanoseconds(),
		at,
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get operation ID: %w", err)
	}
	rec.ID = id
	rec.At = at
	return nil
}

// ListOps implements SnapshotStore.
func (s *SQLiteStore) ListOps(ctx context.Context, urn provider.URN, limit int) ([]*OpRecord, error) {
	query := `
		SELECT id, urn, method, outcome, error, duration_ns, at
		FROM operations
		WHERE urn = ?
		ORDER BY at DESC, id DESC
	`
	args := []any{string(urn)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	recs := []*OpRecord{}
	for rows.Next() {
		var (
			rec        OpRecord
			durationNS int64
		)
		err := rows.Scan(&rec.ID, &rec.URN, &rec.Method, &rec.Outcome, &rec.Error, &durationNS, &rec.At)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		rec.Duration = time.Duration(durationNS)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return recs, nil
}

// marshalBag encodes a property bag, mapping nil to an empty object so
// the column is always valid JSON.
func marshalBag(bag property.Map) (string, error) {
	if bag == nil {
		return "{}", nil
	}
	b, err := json.Marshal(bag)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
