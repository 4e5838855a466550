package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/infer"
	"github.com/shelfard/shelfard/internal/storage"
	"github.com/shelfard/shelfard/pkg/types"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Now: func() time.Time { return fixedNow }}
}

func ordersSchema(extra ...types.ColumnSchema) types.TableSchema {
	cols := []types.ColumnSchema{
		{Path: "id", Type: types.TypeInteger},
		{Path: "status", Type: types.TypeString},
	}
	return types.TableSchema{
		TableName: "orders",
		Columns:   append(cols, extra...),
		Source:    "https://api.example.com/orders",
	}
}

// backends returns a constructor for every backend testable without
// external services.
func backends(t *testing.T) map[string]func(t *testing.T) Registry {
	t.Helper()
	b := map[string]func(t *testing.T) Registry{
		"local": func(t *testing.T) Registry {
			store, err := storage.NewLocalStore(t.TempDir())
			require.NoError(t, err)
			return NewObjectRegistry(store, testOptions())
		},
		"sqlite3": func(t *testing.T) Registry {
			r, err := OpenSQLite(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "registry.db"), testOptions())
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		},
		"modernc": func(t *testing.T) Registry {
			r, err := OpenSQLite(context.Background(), "sqlite", filepath.Join(t.TempDir(), "registry.db"), testOptions())
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		},
	}
	if dsn := os.Getenv("SHELFARD_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Registry {
			r, err := OpenPostgres(context.Background(), dsn, testOptions())
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		}
	}
	return b
}

// uniqueName keeps tests against a shared Postgres database independent.
func uniqueName(t *testing.T, base string) string {
	return base + "-" + time.Now().Format("150405.000000000")
}

func TestRegistry_SequentialVersions(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			name := uniqueName(t, "orders")

			for want := 1; want <= 3; want++ {
				got, err := r.Register(ctx, name, ordersSchema())
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			latest, err := r.GetLatest(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, 3, latest.Version)
			assert.Equal(t, ordersSchema().Columns, latest.Schema.Columns)
			assert.Equal(t, ordersSchema().Fingerprint(), latest.Fingerprint)
			assert.True(t, latest.CapturedAt.Equal(fixedNow))
			assert.NotEmpty(t, latest.ID)

			infos, err := r.ListVersions(ctx, name)
			require.NoError(t, err)
			require.Len(t, infos, 3)
			for i, info := range infos {
				assert.Equal(t, i+1, info.Version)
				assert.Equal(t, 2, info.Columns)
				assert.Equal(t, "https://api.example.com/orders", info.Source)
			}
		})
	}
}

func TestRegistry_RegistersInferredEmptyKeyPayload(t *testing.T) {
	schema, err := infer.New(0).InferBytes([]byte(`{"": 1, "id": 2}`), "t", "upload")
	require.NoError(t, err)

	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			name := uniqueName(t, "t")

			version, err := r.Register(ctx, name, schema)
			require.NoError(t, err)
			assert.Equal(t, 1, version)

			latest, err := r.GetLatest(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, schema.Columns, latest.Schema.Columns)
		})
	}
}

func TestRegistry_GetLatestReturnsNewestSchema(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			name := uniqueName(t, "orders")

			_, err := r.Register(ctx, name, ordersSchema())
			require.NoError(t, err)
			_, err = r.Register(ctx, name, ordersSchema(types.ColumnSchema{Path: "total", Type: types.TypeFloat}))
			require.NoError(t, err)

			latest, err := r.GetLatest(ctx, name)
			require.NoError(t, err)
			_, ok := latest.Schema.Column("total")
			assert.True(t, ok, "latest version should contain the added column")

			first, err := r.GetVersion(ctx, name, 1)
			require.NoError(t, err)
			_, ok = first.Schema.Column("total")
			assert.False(t, ok, "version 1 must not change after later registrations")

			history, err := r.History(ctx, name)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, 1, history[0].Version)
			assert.Equal(t, 2, history[1].Version)
		})
	}
}

func TestRegistry_ConcurrentRegistrations(t *testing.T) {
	const writers = 16

	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			name := uniqueName(t, "orders")

			var wg sync.WaitGroup
			versions := make([]int, writers)
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					versions[i], errs[i] = r.Register(ctx, name, ordersSchema())
				}(i)
			}
			wg.Wait()

			for i, err := range errs {
				require.NoError(t, err, "writer %d", i)
			}
			sort.Ints(versions)
			for i, v := range versions {
				assert.Equal(t, i+1, v)
			}
		})
	}
}

func TestObjectRegistry_SharedStoreAcrossInstances(t *testing.T) {
	// Two registries on one store stand in for two processes: they share no
	// in-process lock, so only the create-only write keeps versions unique.
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	a := NewObjectRegistry(store, Options{MaxAttempts: 64})
	b := NewObjectRegistry(store, Options{MaxAttempts: 64})

	const perInstance = 10
	ctx := context.Background()

	var mu sync.Mutex
	var versions []int
	var wg sync.WaitGroup
	for _, r := range []*ObjectRegistry{a, b} {
		for i := 0; i < perInstance; i++ {
			wg.Add(1)
			go func(r *ObjectRegistry) {
				defer wg.Done()
				v, err := r.Register(ctx, "orders", ordersSchema())
				if err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				mu.Lock()
				versions = append(versions, v)
				mu.Unlock()
			}(r)
		}
	}
	wg.Wait()

	sort.Ints(versions)
	require.Len(t, versions, 2*perInstance)
	for i, v := range versions {
		assert.Equal(t, i+1, v)
	}
}

func TestRegistry_NotFound(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			name := uniqueName(t, "missing")

			_, err := r.GetLatest(ctx, name)
			assert.True(t, serrors.IsNotFound(err), "GetLatest: expected NOT_FOUND, got %v", err)

			_, err = r.ListVersions(ctx, name)
			assert.True(t, serrors.IsNotFound(err), "ListVersions: expected NOT_FOUND, got %v", err)

			_, err = r.History(ctx, name)
			assert.True(t, serrors.IsNotFound(err), "History: expected NOT_FOUND, got %v", err)

			_, err = r.Register(ctx, name, ordersSchema())
			require.NoError(t, err)
			_, err = r.GetVersion(ctx, name, 7)
			assert.True(t, serrors.IsNotFound(err), "GetVersion: expected NOT_FOUND, got %v", err)
		})
	}
}

func TestRegistry_ListNames(t *testing.T) {
	for backend, open := range backends(t) {
		if backend == "postgres" {
			continue
		}
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			names, err := r.ListNames(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			for _, n := range []string{"users", "orders", "users"} {
				_, err := r.Register(ctx, n, ordersSchema())
				require.NoError(t, err)
			}

			names, err = r.ListNames(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"orders", "users"}, names)
		})
	}
}

func TestRegistry_RejectsInvalidInput(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			for _, name := range []string{"", "../etc", "a/b", ".hidden", "has space"} {
				_, err := r.Register(ctx, name, ordersSchema())
				assert.Equal(t, serrors.CodeInvalidName, serrors.GetCode(err), "name %q", name)
			}

			bad := ordersSchema(types.ColumnSchema{Path: "id", Type: types.TypeString})
			_, err := r.Register(ctx, uniqueName(t, "dup"), bad)
			assert.Equal(t, serrors.CodeInvalidSchema, serrors.GetCode(err))
		})
	}
}

func TestRegistry_LockTimeout(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			r := open(t)
			name := uniqueName(t, "orders")

			var locks *keyedMutex
			switch impl := r.(type) {
			case *ObjectRegistry:
				locks = impl.locks
			case *SQLRegistry:
				locks = impl.locks
			default:
				t.Fatalf("unexpected registry type %T", r)
			}

			unlock, err := locks.Lock(context.Background(), name)
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err = r.Register(ctx, name, ordersSchema())
			require.Error(t, err)
			assert.Equal(t, serrors.CodeLockTimeout, serrors.GetCode(err))
			assert.True(t, serrors.IsRetryable(err))
			assert.True(t, serrors.IsRegistryWrite(err))
		})
	}
}

func TestSQLRegistry_CancelAfterLockIsWriteFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Now runs inside the insert transaction, after the name lock is held.
	opts := Options{Now: func() time.Time {
		cancel()
		return fixedNow
	}}
	r, err := OpenSQLite(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "registry.db"), opts)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Register(ctx, "orders", ordersSchema())
	require.Error(t, err)
	assert.Equal(t, serrors.CodeWriteFailed, serrors.GetCode(err))

	_, err = r.GetLatest(context.Background(), "orders")
	assert.True(t, serrors.IsNotFound(err))
}

func TestObjectRegistry_LockTimeoutOption(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	opts := testOptions()
	opts.LockTimeout = 20 * time.Millisecond
	r := NewObjectRegistry(store, opts)

	unlock, err := r.locks.Lock(context.Background(), "orders")
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "orders", ordersSchema())
	assert.Equal(t, serrors.CodeLockTimeout, serrors.GetCode(err))

	unlock()
	v, err := r.Register(context.Background(), "orders", ordersSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestObjectRegistry_CorruptRecord(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	r := NewObjectRegistry(store, testOptions())
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, VersionKey("orders", 1), []byte("{not json")))

	_, err = r.GetLatest(ctx, "orders")
	assert.Equal(t, serrors.CodeCorruptRecord, serrors.GetCode(err))

	// A new registration still lands after the damaged head.
	v, err := r.Register(ctx, "orders", ordersSchema())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestObjectRegistry_IgnoresForeignKeys(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	r := NewObjectRegistry(store, testOptions())
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "schemas/orders/README", []byte("notes")))
	require.NoError(t, store.PutIfAbsent(ctx, "schemas/orders/v0000000000.json", []byte("{}")))

	v, err := r.Register(ctx, "orders", ordersSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestVersionKey(t *testing.T) {
	assert.Equal(t, "schemas/orders/v0000000042.json", VersionKey("orders", 42))

	v, ok := parseVersionKey("schemas/orders/", VersionKey("orders", 42))
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = parseVersionKey("schemas/orders/", "schemas/orders/nested/v0000000001.json")
	assert.False(t, ok)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, k.size())

	unlockA()
	unlockA() // second call is a no-op
	assert.Equal(t, 1, k.size())

	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutex_CancelledWaiterDoesNotLeak(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, k.size())

	unlock()
	assert.Equal(t, 0, k.size())
}

func TestRecord_RoundTrip(t *testing.T) {
	schema := ordersSchema()
	schema.PartitionKeys = []string{"id"}
	rec := NewRecord("orders", 3, schema, fixedNow)

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, schema.Fingerprint(), got.Fingerprint)
	assert.Equal(t, []string{"id"}, got.PartitionKeys)
	assert.NotNil(t, got.ClusteringKeys)
	assert.True(t, got.CapturedAt.Equal(fixedNow))
}

func TestDecodeRecord_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"zero version", `{"version": 0, "columns": []}`},
		{"unknown type", `{"version": 1, "columns": [{"path": "a", "inferred_type": "date"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			assert.Equal(t, serrors.CodeCorruptRecord, serrors.GetCode(err))
		})
	}
}

func TestRebind(t *testing.T) {
	r := &SQLRegistry{dollar: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", r.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	r.dollar = false
	assert.Equal(t, "x = ?", r.rebind("x = ?"))
}
