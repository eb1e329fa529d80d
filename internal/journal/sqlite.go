// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	// Register the pure Go sqlite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteMigrationTable = "schema_migrations"

// SQLite stores entries in a local sqlite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway journal.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, oops.Code(CodeOpenFailed).Errorf("sqlite path is required")
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code(CodeOpenFailed).With("path", dbPath).Wrap(err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code(CodeOpenFailed).With("path", dbPath).Wrap(err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, oops.Code(CodeOpenFailed).With("path", dbPath).Wrap(err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Append implements Writer.
func (s *SQLite) Append(ctx context.Context, e Entry) error {
	e = normalize(e, s.now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, extension, version, phase, outcome, error, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Extension, e.Version, e.Phase, string(e.Outcome), e.Error, e.Digest, e.Time.UnixMilli())
	if err != nil {
		return oops.Code(CodeAppendFailed).With("extension", e.Extension).With("phase", e.Phase).Wrap(err)
	}
	return nil
}

// List implements Writer.
func (s *SQLite) List(ctx context.Context, extension string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if extension == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, extension, version, phase, outcome, error, digest, created_at
			 FROM journal_entries ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, extension, version, phase, outcome, error, digest, created_at
			 FROM journal_entries WHERE extension = ? COLLATE NOCASE ORDER BY id DESC LIMIT ?`,
			extension, limit)
	}
	if err != nil {
		return nil, oops.Code(CodeListFailed).With("extension", extension).Wrap(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			id      string
			outcome string
			millis  int64
		)
		if err := rows.Scan(&id, &e.Extension, &e.Version, &e.Phase, &outcome, &e.Error, &e.Digest, &millis); err != nil {
			return nil, oops.Code(CodeListFailed).With("operation", "scan journal row").Wrap(err)
		}
		if e.ID, err = ulid.Parse(id); err != nil {
			return nil, oops.Code(CodeListFailed).With("id", id).Wrap(err)
		}
		e.Outcome = Outcome(outcome)
		e.Time = time.UnixMilli(millis).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(CodeListFailed).With("operation", "iterate journal rows").Wrap(err)
	}
	return out, nil
}

// Close implements Writer.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrateSQLite applies every pending embedded migration to db. The
// driver's Close would close db, so only the source is released here.
func migrateSQLite(db *sql.DB) error {
	source, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return oops.With("operation", "create migration source").Wrap(err)
	}
	defer func() { _ = source.Close() }()

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{MigrationsTable: sqliteMigrationTable})
	if err != nil {
		return oops.With("operation", "initialize migration driver").Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return oops.With("operation", "initialize migrator").Wrap(err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.With("operation", "migrate up").Wrap(err)
	}
	return nil
}
