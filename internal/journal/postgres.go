// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package journal

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// CodeDuplicate reports an entry whose ID is already stored.
const CodeDuplicate = "JOURNAL_DUPLICATE"

// poolIface is the subset of pgxpool.Pool the journal needs.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Postgres stores entries in PostgreSQL.
type Postgres struct {
	pool poolIface
	now  func() time.Time
}

// PostgresOption configures OpenPostgres.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	attempts uint64
	backoff  time.Duration
	migrate  bool
}

// WithConnectAttempts bounds connection attempts; base is the first backoff.
func WithConnectAttempts(attempts uint64, base time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		c.attempts = attempts
		c.backoff = base
	}
}

// WithoutMigrations skips schema migration on open.
func WithoutMigrations() PostgresOption {
	return func(c *postgresConfig) { c.migrate = false }
}

// OpenPostgres connects to dsn, retrying transient failures, and applies
// pending migrations.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	cfg := postgresConfig{attempts: 5, backoff: 200 * time.Millisecond, migrate: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.migrate {
		if err := MigratePostgres(dsn); err != nil {
			return nil, err
		}
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(cfg.attempts, retry.NewExponential(cfg.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code(CodeOpenFailed).With("driver", "postgres").Wrap(err)
	}
	return newPostgres(pool), nil
}

func newPostgres(pool poolIface) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// retryable reports whether a connection error may succeed on a later attempt.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	// Dial and DNS failures surface without a server error code.
	return true
}

// MigratePostgres applies every pending migration to the database at dsn.
func MigratePostgres(dsn string) error {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return oops.Code(CodeOpenFailed).With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return oops.Code(CodeOpenFailed).With("operation", "initialize migrator").Wrap(err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code(CodeOpenFailed).With("operation", "migrate up").Wrap(err)
	}
	return nil
}

// migrateURL rewrites postgres:// URLs to the pgx5:// scheme golang-migrate expects.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

// Append implements Writer.
func (p *Postgres) Append(ctx context.Context, e Entry) error {
	e = normalize(e, p.now)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, extension, version, phase, outcome, error, digest, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID.String(), e.Extension, e.Version, e.Phase, string(e.Outcome), e.Error, e.Digest, e.Time)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(CodeDuplicate).With("id", e.ID.String()).Wrap(err)
		}
		return oops.Code(CodeAppendFailed).With("extension", e.Extension).With("phase", e.Phase).Wrap(err)
	}
	return nil
}

// List implements Writer.
func (p *Postgres) List(ctx context.Context, extension string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	var (
		rows pgx.Rows
		err  error
	)
	if extension == "" {
		rows, err = p.pool.Query(ctx,
			`SELECT id, extension, version, phase, outcome, error, digest, created_at
			 FROM journal_entries ORDER BY id DESC LIMIT $1`, limit)
	} else {
		rows, err = p.pool.Query(ctx,
			`SELECT id, extension, version, phase, outcome, error, digest, created_at
			 FROM journal_entries WHERE lower(extension) = lower($1) ORDER BY id DESC LIMIT $2`,
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
		)
		if err := rows.Scan(&id, &e.Extension, &e.Version, &e.Phase, &outcome, &e.Error, &e.Digest, &e.Time); err != nil {
			return nil, oops.Code(CodeListFailed).With("operation", "scan journal row").Wrap(err)
		}
		if e.ID, err = ulid.Parse(id); err != nil {
			return nil, oops.Code(CodeListFailed).With("id", id).Wrap(err)
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(CodeListFailed).With("operation", "iterate journal rows").Wrap(err)
	}
	return out, nil
}

// Close implements Writer.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
