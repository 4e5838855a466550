package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/types"
)

// sqliteConstraint is SQLITE_CONSTRAINT, the primary result code reported
// for primary key violations.
const sqliteConstraint = 19

const createTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    record_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    column_count INTEGER NOT NULL,
    source TEXT NOT NULL,
    record_json TEXT NOT NULL,
    captured_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (name, version)
)`

// SQLRegistry keeps histories in a schema_versions table. The (name, version)
// primary key rejects a second writer of the same version; the loser retries
// with a fresh MAX(version).
type SQLRegistry struct {
	db     *sql.DB
	dollar bool
	locks  *keyedMutex
	opts   Options
}

// OpenSQLite opens (or creates) a SQLite registry at path using driver, either
// "sqlite3" (github.com/mattn/go-sqlite3) or "sqlite" (modernc.org/sqlite).
func OpenSQLite(ctx context.Context, driver, path string, opts Options) (*SQLRegistry, error) {
	var dsn string
	switch driver {
	case "sqlite3":
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	case "sqlite":
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	default:
		return nil, serrors.NewConfigError(fmt.Sprintf("unknown sqlite driver %q", driver), nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open sqlite database: %w", err)
	}

	// Single connection avoids SQLITE_BUSY between our own writers. Writes for
	// different names therefore run one at a time on this backend.
	db.SetMaxOpenConns(1)

	return newSQLRegistry(ctx, db, false, opts)
}

// OpenPostgres connects to the Postgres database named by dsn.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*SQLRegistry, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, serrors.NewConfigError("invalid postgres dsn", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: failed to connect to postgres: %w", err)
	}
	return newSQLRegistry(ctx, db, true, opts)
}

func newSQLRegistry(ctx context.Context, db *sql.DB, dollar bool, opts Options) (*SQLRegistry, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: failed to create schema_versions table: %w", err)
	}
	return &SQLRegistry{
		db:     db,
		dollar: dollar,
		locks:  newKeyedMutex(),
		opts:   opts.withDefaults(),
	}, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (r *SQLRegistry) rebind(query string) string {
	if !r.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Register appends schema as the next version of name.
func (r *SQLRegistry) Register(ctx context.Context, name string, schema types.TableSchema) (int, error) {
	if err := validateRegistration(name, schema); err != nil {
		return 0, err
	}

	lockCtx, cancel := r.opts.lockContext(ctx)
	unlock, err := r.locks.Lock(lockCtx, name)
	cancel()
	if err != nil {
		return 0, lockTimeoutError(name, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		version, err := r.insertNext(ctx, name, schema)
		if err == nil {
			r.opts.Logger.Debug("registered schema version",
				"name", name, "version", version, "columns", len(schema.Columns), "attempt", attempt)
			return version, nil
		}
		if ctx.Err() != nil || !isUniqueViolation(err) {
			return 0, writeFailedError(name, version, err)
		}

		r.opts.Logger.Debug("lost registration race", "name", name, "version", version, "attempt", attempt)
		lastErr = err
	}

	return 0, writeFailedError(name, 0, fmt.Errorf("gave up after %d attempts: %w", r.opts.MaxAttempts, lastErr))
}

// insertNext reads the current head and inserts head+1 in one transaction.
func (r *SQLRegistry) insertNext(ctx context.Context, name string, schema types.TableSchema) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		r.rebind("SELECT COALESCE(MAX(version), 0) FROM schema_versions WHERE name = ?"),
		name,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}

	next := current + 1
	rec := NewRecord(name, next, schema, r.opts.Now())
	data, err := EncodeRecord(rec)
	if err != nil {
		return next, err
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO schema_versions
		    (name, version, record_id, fingerprint, column_count, source, record_json, captured_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		name, next, rec.ID, rec.Fingerprint, len(rec.Columns), rec.Source, string(data),
		rec.CapturedAt.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return next, err
	}

	if err := tx.Commit(); err != nil {
		return next, err
	}
	return next, nil
}

// isUniqueViolation reports whether err is a duplicate (name, version).
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	var me *sqlite.Error
	if errors.As(err, &me) {
		return me.Code()&0xff == sqliteConstraint
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetLatest returns the highest version of name.
func (r *SQLRegistry) GetLatest(ctx context.Context, name string) (*types.SchemaVersion, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var data string
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT record_json FROM schema_versions WHERE name = ? ORDER BY version DESC LIMIT 1"),
		name,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, serrors.NewNotFoundError(name)
		}
		return nil, readFailedError(name, err)
	}

	rec, err := DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	return rec.SchemaVersion(), nil
}

// GetVersion returns one version of name.
func (r *SQLRegistry) GetVersion(ctx context.Context, name string, version int) (*types.SchemaVersion, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var data string
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT record_json FROM schema_versions WHERE name = ? AND version = ?"),
		name, version,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, versionNotFoundError(name, version)
		}
		return nil, readFailedError(name, err)
	}

	rec, err := DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	return rec.SchemaVersion(), nil
}

// ListVersions summarizes every version of name from the index columns
// without decoding the records.
func (r *SQLRegistry) ListVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT version, record_id, fingerprint, column_count, source, captured_at
		FROM schema_versions WHERE name = ? ORDER BY version ASC`),
		name,
	)
	if err != nil {
		return nil, readFailedError(name, err)
	}
	defer rows.Close()

	var infos []VersionInfo
	for rows.Next() {
		var info VersionInfo
		var capturedAt int64
		if err := rows.Scan(&info.Version, &info.ID, &info.Fingerprint, &info.Columns, &info.Source, &capturedAt); err != nil {
			return nil, readFailedError(name, err)
		}
		info.CapturedAt = time.Unix(0, capturedAt).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailedError(name, err)
	}
	if len(infos) == 0 {
		return nil, serrors.NewNotFoundError(name)
	}
	return infos, nil
}

// History loads every version of name, oldest first.
func (r *SQLRegistry) History(ctx context.Context, name string) ([]types.SchemaVersion, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind("SELECT record_json FROM schema_versions WHERE name = ? ORDER BY version ASC"),
		name,
	)
	if err != nil {
		return nil, readFailedError(name, err)
	}
	defer rows.Close()

	var history []types.SchemaVersion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, readFailedError(name, err)
		}
		rec, err := DecodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		history = append(history, *rec.SchemaVersion())
	}
	if err := rows.Err(); err != nil {
		return nil, readFailedError(name, err)
	}
	if len(history) == 0 {
		return nil, serrors.NewNotFoundError(name)
	}
	return history, nil
}

// ListNames returns every registered name in lexical order.
func (r *SQLRegistry) ListNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT name FROM schema_versions ORDER BY name ASC")
	if err != nil {
		return nil, serrors.NewRegistryError(serrors.CodeReadFailed, "failed to list schema names", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, serrors.NewRegistryError(serrors.CodeReadFailed, "failed to list schema names", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.NewRegistryError(serrors.CodeReadFailed, "failed to list schema names", err)
	}
	return names, nil
}

// Close closes the database.
func (r *SQLRegistry) Close() error {
	return r.db.Close()
}
