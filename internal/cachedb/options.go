package cachedb

import (
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	// DefaultVersion is the schema version used when callers omit one.
	DefaultVersion     uint64 = 1
	defaultWriteBuffer        = 64
)

// config stores resolved database settings after option application.
type config struct {
	path        string
	storage     storage.Storage
	logger      *slog.Logger
	writeBuffer int
	syncWrites  bool
}

// Option mutates database open configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:      slog.Default(),
		writeBuffer: defaultWriteBuffer,
	}
}

// WithPath opens an on-disk store rooted at path.
func WithPath(path string) Option {
	return func(cfg *config) {
		cfg.path = path
	}
}

// WithStorage opens the store on an existing goleveldb storage, typically
// storage.NewMemStorage in tests. The storage outlives Close so it can be reopened.
func WithStorage(stor storage.Storage) Option {
	return func(cfg *config) {
		if stor != nil {
			cfg.storage = stor
		}
	}
}

// WithLogger configures the logger used for schema migration and writer errors.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithWriteBuffer configures how many mutation batches may queue for the writer.
func WithWriteBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.writeBuffer = size
		}
	}
}

// WithSyncWrites forces an fsync after every committed batch.
func WithSyncWrites(enabled bool) Option {
	return func(cfg *config) {
		cfg.syncWrites = enabled
	}
}
