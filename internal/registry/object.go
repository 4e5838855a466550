package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/storage"
	"github.com/shelfard/shelfard/pkg/types"
)

const (
	keyRoot       = "schemas/"
	versionPrefix = "v"
	versionSuffix = ".json"
)

// ObjectRegistry stores one object per version under
// schemas/<name>/v<version>.json on an ObjectStore. Versions are zero padded
// so lexical and numeric order agree.
type ObjectRegistry struct {
	store storage.ObjectStore
	locks *keyedMutex
	opts  Options
}

// NewObjectRegistry creates a registry on top of store.
func NewObjectRegistry(store storage.ObjectStore, opts Options) *ObjectRegistry {
	return &ObjectRegistry{
		store: store,
		locks: newKeyedMutex(),
		opts:  opts.withDefaults(),
	}
}

// VersionKey returns the object key holding version of name.
func VersionKey(name string, version int) string {
	return fmt.Sprintf("%s%s/%s%010d%s", keyRoot, name, versionPrefix, version, versionSuffix)
}

// parseVersionKey extracts the version from a key under schemas/<name>/.
func parseVersionKey(prefix, key string) (int, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key || strings.Contains(rest, "/") {
		return 0, false
	}
	if !strings.HasPrefix(rest, versionPrefix) || !strings.HasSuffix(rest, versionSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rest, versionPrefix), versionSuffix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Register appends schema as the next version of name.
func (r *ObjectRegistry) Register(ctx context.Context, name string, schema types.TableSchema) (int, error) {
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
		versions, err := r.versions(ctx, name)
		if err != nil {
			return 0, writeFailedError(name, 0, err)
		}

		next := 1
		if len(versions) > 0 {
			next = versions[len(versions)-1] + 1
		}

		data, err := EncodeRecord(NewRecord(name, next, schema, r.opts.Now()))
		if err != nil {
			return 0, writeFailedError(name, next, err)
		}

		err = r.store.PutIfAbsent(ctx, VersionKey(name, next), data)
		if err == nil {
			r.opts.Logger.Debug("registered schema version",
				"name", name, "version", next, "columns", len(schema.Columns), "attempt", attempt)
			return next, nil
		}
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			return 0, writeFailedError(name, next, err)
		}

		// Another process appended the same version first; re-read the head.
		r.opts.Logger.Debug("lost registration race", "name", name, "version", next, "attempt", attempt)
		lastErr = err
	}

	return 0, writeFailedError(name, 0, fmt.Errorf("gave up after %d attempts: %w", r.opts.MaxAttempts, lastErr))
}

// versions lists the stored versions of name in ascending order.
func (r *ObjectRegistry) versions(ctx context.Context, name string) ([]int, error) {
	prefix := keyRoot + name + "/"
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(keys))
	for _, k := range keys {
		if v, ok := parseVersionKey(prefix, k); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

// GetLatest loads only the highest version of name.
func (r *ObjectRegistry) GetLatest(ctx context.Context, name string) (*types.SchemaVersion, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	versions, err := r.versions(ctx, name)
	if err != nil {
		return nil, readFailedError(name, err)
	}
	if len(versions) == 0 {
		return nil, serrors.NewNotFoundError(name)
	}

	rec, err := r.load(ctx, name, versions[len(versions)-1])
	if err != nil {
		return nil, err
	}
	return rec.SchemaVersion(), nil
}

// GetVersion loads one version of name.
func (r *ObjectRegistry) GetVersion(ctx context.Context, name string, version int) (*types.SchemaVersion, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, versionNotFoundError(name, version)
	}

	rec, err := r.load(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return rec.SchemaVersion(), nil
}

func (r *ObjectRegistry) load(ctx context.Context, name string, version int) (Record, error) {
	data, err := r.store.Get(ctx, VersionKey(name, version))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Record{}, versionNotFoundError(name, version)
		}
		return Record{}, readFailedError(name, err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return Record{}, err
	}
	if rec.Version != version {
		return Record{}, serrors.NewRegistryError(serrors.CodeCorruptRecord,
			fmt.Sprintf("object for version %d of %q holds version %d", version, name, rec.Version), nil)
	}
	return rec, nil
}

// ListVersions summarizes every version of name.
func (r *ObjectRegistry) ListVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	records, err := r.records(ctx, name)
	if err != nil {
		return nil, err
	}

	infos := make([]VersionInfo, len(records))
	for i, rec := range records {
		infos[i] = rec.Info()
	}
	return infos, nil
}

// History loads every version of name.
func (r *ObjectRegistry) History(ctx context.Context, name string) ([]types.SchemaVersion, error) {
	records, err := r.records(ctx, name)
	if err != nil {
		return nil, err
	}

	history := make([]types.SchemaVersion, len(records))
	for i, rec := range records {
		history[i] = *rec.SchemaVersion()
	}
	return history, nil
}

// records reads all versions of name in parallel and returns them in order.
func (r *ObjectRegistry) records(ctx context.Context, name string) ([]Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	versions, err := r.versions(ctx, name)
	if err != nil {
		return nil, readFailedError(name, err)
	}
	if len(versions) == 0 {
		return nil, serrors.NewNotFoundError(name)
	}

	keys := make([]string, len(versions))
	for i, v := range versions {
		keys[i] = VersionKey(name, v)
	}

	result := storage.NewBatchGetter(r.store, r.opts.ReadConcurrency).Get(ctx, keys)

	records := make([]Record, len(keys))
	for i, key := range keys {
		if err, ok := result.Errors[key]; ok {
			return nil, readFailedError(name, fmt.Errorf("%s: %w", key, err))
		}
		rec, err := DecodeRecord(result.Objects[key])
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// ListNames returns every name with at least one version.
func (r *ObjectRegistry) ListNames(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, keyRoot)
	if err != nil {
		return nil, serrors.NewRegistryError(serrors.CodeReadFailed, "failed to list schema names", err)
	}

	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, keyRoot)
		i := strings.Index(rest, "/")
		if i <= 0 {
			continue
		}
		name := rest[:i]
		if _, ok := parseVersionKey(keyRoot+name+"/", k); ok {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the store owns no resources that need releasing.
func (r *ObjectRegistry) Close() error {
	return nil
}
