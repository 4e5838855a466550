// Package registry stores the versioned history of captured schemas.
//
// A history is append-only: Register assigns the next version after the
// current highest one and versions are never rewritten. Registrations for one
// name are serialized in-process by a per-name lock and across processes by
// the backend's atomic append primitive, a create-only object write or a
// (name, version) primary key inside a transaction. Lost races re-read the
// head and retry.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/types"
)

// Registry is the snapshot registry contract shared by all backends.
type Registry interface {
	// Register appends schema as the next version of name and returns the
	// new version number.
	Register(ctx context.Context, name string, schema types.TableSchema) (int, error)

	// GetLatest returns the highest version of name, or a NOT_FOUND error.
	GetLatest(ctx context.Context, name string) (*types.SchemaVersion, error)

	// GetVersion returns one specific version of name.
	GetVersion(ctx context.Context, name string, version int) (*types.SchemaVersion, error)

	// ListVersions returns summaries of every version of name, oldest first.
	ListVersions(ctx context.Context, name string) ([]VersionInfo, error)

	// History loads every version of name, oldest first.
	History(ctx context.Context, name string) ([]types.SchemaVersion, error)

	// ListNames returns every registered name in lexical order.
	ListNames(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// VersionInfo summarizes one stored version without its columns.
type VersionInfo struct {
	Version     int       `json:"version"`
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Columns     int       `json:"columns"`
	Source      string    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Options tunes registry behaviour. Zero values select defaults.
type Options struct {
	// Now stamps records whose schema has no capture time
	Now func() time.Time

	// Logger receives registration events
	Logger *slog.Logger

	// MaxAttempts bounds retries after losing an append race (default: 8)
	MaxAttempts int

	// ReadConcurrency bounds parallel record reads when loading a history (default: 8)
	ReadConcurrency int

	// LockTimeout bounds the wait for the per-name registration lock (0: until ctx is done)
	LockTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = 8
	}
	return o
}

// lockContext derives the context used while waiting for a name lock.
func (o Options) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.LockTimeout > 0 {
		return context.WithTimeout(ctx, o.LockTimeout)
	}
	return ctx, func() {}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// MaxNameLength bounds schema names so they stay usable as object keys.
const MaxNameLength = 200

// ValidateName checks that name can be used as a registry key.
func ValidateName(name string) error {
	if len(name) > MaxNameLength || !nameRe.MatchString(name) {
		return serrors.NewValidationError(serrors.CodeInvalidName,
			fmt.Sprintf("invalid schema name %q (must match %s, at most %d characters)", name, nameRe.String(), MaxNameLength)).
			WithDetails(map[string]interface{}{"name": name})
	}
	return nil
}

func validateRegistration(name string, schema types.TableSchema) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := schema.Validate(); err != nil {
		return serrors.NewValidationError(serrors.CodeInvalidSchema, fmt.Sprintf("schema for %q is invalid: %v", name, err))
	}
	return nil
}

func lockTimeoutError(name string, cause error) error {
	return serrors.NewRegistryError(serrors.CodeLockTimeout,
		fmt.Sprintf("timed out waiting to register %q", name), cause).
		WithDetails(map[string]interface{}{"name": name})
}

func writeFailedError(name string, version int, cause error) error {
	return serrors.NewRegistryError(serrors.CodeWriteFailed,
		fmt.Sprintf("failed to write version %d of %q", version, name), cause).
		WithDetails(map[string]interface{}{"name": name, "version": version})
}

func readFailedError(name string, cause error) error {
	return serrors.NewRegistryError(serrors.CodeReadFailed,
		fmt.Sprintf("failed to read history of %q", name), cause).
		WithDetails(map[string]interface{}{"name": name})
}

func versionNotFoundError(name string, version int) error {
	return serrors.New(serrors.ErrCategoryRegistry, serrors.CodeNotFound,
		fmt.Sprintf("version %d of %q does not exist", version, name)).
		WithDetails(map[string]interface{}{"name": name, "version": version})
}
