// Package store persists pipelines, counters and settings in a key-value
// backend. The sqlite backend is the default; redis is available for
// deployments that already run one.
package store

import (
	"context"
	"fmt"

	"speechflow/internal/config"
	"speechflow/internal/services"
)

// Collection names used by the daemon.
const (
	CollectionTasks    = "tasks"
	CollectionCounters = "counters"
	CollectionSettings = "settings"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = services.ErrNotFound

// Record is a stored value together with its key.
type Record struct {
	Key   string
	Value []byte
}

// Store is the persistence contract. Values are opaque JSON bytes.
type Store interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	GetAll(ctx context.Context, collection string) ([]Record, error)
	Save(ctx context.Context, collection, key string, value []byte) error
	Remove(ctx context.Context, collection, key string) error
	Clear(ctx context.Context, collection string) error
	Close() error
}

// Open returns the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "config is required", nil)
	}
	switch cfg.Storage.Backend {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DatabasePath())
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "store", "open",
			fmt.Sprintf("unsupported storage backend %q", cfg.Storage.Backend), nil)
	}
}

func storageError(operation, collection, key string, err error) error {
	msg := collection
	if key != "" {
		msg += "/" + key
	}
	return services.Wrap(services.ErrStorage, "store", operation, msg, err)
}
