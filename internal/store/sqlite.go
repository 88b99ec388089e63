package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang/glog"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLStore keeps region records in SQLite
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and runs pending migrations.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: SQLite serializes writers anyway, and ":memory:" is per connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	glog.Infof("region store initialized at %s", dsn)
	return &SQLStore{db: db}, nil
}

// migrate applies the embedded goose migrations
func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	for _, r := range results {
		glog.V(1).Infof("applied migration %s in %s", r.Source.Path, r.Duration)
	}
	return nil
}

const selectColumns = `session_id, region_id, template_path, source, hash, state, version`

func scanRecord(row interface{ Scan(...interface{}) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.SessionID, &rec.RegionID, &rec.TemplatePath, &rec.Source, &rec.Hash, &rec.State, &rec.Version)
	return rec, err
}

// Get retrieves a region record
func (s *SQLStore) Get(ctx context.Context, sessionID, regionID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM regions WHERE session_id = ? AND region_id = ?`,
		sessionID, regionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get region %s: %w", regionID, err)
	}
	return rec, nil
}

// List returns the session's records ordered by region id
func (s *SQLStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM regions WHERE session_id = ? ORDER BY region_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list regions: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Insert stores a new record at version 1
func (s *SQLStore) Insert(ctx context.Context, rec Record) (Record, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO regions (session_id, region_id, template_path, source, hash, state, version)
		 VALUES (?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT (session_id, region_id) DO NOTHING`,
		rec.SessionID, rec.RegionID, rec.TemplatePath, rec.Source, rec.Hash, rec.State)
	if err != nil {
		return Record{}, fmt.Errorf("insert region %s: %w", rec.RegionID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Record{}, fmt.Errorf("insert region %s: %w", rec.RegionID, err)
	} else if n == 0 {
		return Record{}, ErrExists
	}
	rec.Version = 1
	return rec, nil
}

// CompareAndSwap replaces the record if its version still equals expect
func (s *SQLStore) CompareAndSwap(ctx context.Context, rec Record, expect int64) (Record, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE regions
		 SET template_path = ?, source = ?, hash = ?, state = ?, version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND region_id = ? AND version = ?`,
		rec.TemplatePath, rec.Source, rec.Hash, rec.State, rec.SessionID, rec.RegionID, expect)
	if err != nil {
		return Record{}, fmt.Errorf("update region %s: %w", rec.RegionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update region %s: %w", rec.RegionID, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, rec.SessionID, rec.RegionID); err != nil {
			return Record{}, err
		}
		return Record{}, ErrConflict
	}
	rec.Version = expect + 1
	return rec, nil
}

// DeleteSession removes all records of a session
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM regions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
