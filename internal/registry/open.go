package registry

import (
	"context"
	"fmt"

	"github.com/shelfard/shelfard/internal/config"
	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/storage"
)

// Open builds the registry backend selected by cfg.
func Open(ctx context.Context, cfg config.RegistryConfig, opts Options) (Registry, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		store, err := storage.NewLocalStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("registry: failed to open local store: %w", err)
		}
		return NewObjectRegistry(store, opts), nil

	case config.BackendS3:
		s3cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3cfg.Region = cfg.S3.Region
		}
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3cfg.Prefix = cfg.S3.Prefix

		store, err := storage.NewS3Store(ctx, cfg.S3.Bucket, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("registry: failed to open s3 store: %w", err)
		}
		return NewObjectRegistry(store, opts), nil

	case config.BackendSQLite:
		driver := cfg.SQLiteDriver
		if driver == "" {
			driver = config.DriverMattn
		}
		return OpenSQLite(ctx, driver, cfg.Path, opts)

	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN, opts)

	default:
		return nil, serrors.NewConfigError(fmt.Sprintf("unknown registry backend %q", cfg.Backend), nil)
	}
}
