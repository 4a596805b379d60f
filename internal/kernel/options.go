package kernel

import (
	"context"
	"log/slog"

	"ex-xmtpcache/internal/cachedb"

	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	defaultBackfillWorkers = 4
	defaultSeenMessages    = 4096
	defaultBackfillPage    = 0
)

// openFunc opens one cache database generation.
type openFunc func(ctx context.Context, schema cachedb.Schema, options ...cachedb.Option) (*cachedb.DB, error)

// config stores resolved provider settings after option application.
type config struct {
	logger    *slog.Logger
	dbPath    string
	dbStorage storage.Storage
	dbOptions []cachedb.Option
	openDB    openFunc
}

// Option mutates provider construction configuration.
type Option func(*config)

// defaultConfig returns defaults backed by an in-memory store.
func defaultConfig() config {
	return config{
		logger: slog.Default(),
		openDB: cachedb.Open,
	}
}

// WithLogger configures the logger used by the provider and its database.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDatabasePath stores the cache on disk at path.
func WithDatabasePath(path string) Option {
	return func(cfg *config) {
		cfg.dbPath = path
	}
}

// WithDatabaseStorage stores the cache on an existing goleveldb storage.
func WithDatabaseStorage(stor storage.Storage) Option {
	return func(cfg *config) {
		if stor != nil {
			cfg.dbStorage = stor
		}
	}
}

// WithDatabaseOptions appends options passed to every database open.
func WithDatabaseOptions(options ...cachedb.Option) Option {
	return func(cfg *config) {
		cfg.dbOptions = append(cfg.dbOptions, options...)
	}
}

// databaseOptions renders the options for one open call.
func (cfg config) databaseOptions() []cachedb.Option {
	options := []cachedb.Option{cachedb.WithLogger(cfg.logger)}
	switch {
	case cfg.dbStorage != nil:
		options = append(options, cachedb.WithStorage(cfg.dbStorage))
	case cfg.dbPath != "":
		options = append(options, cachedb.WithPath(cfg.dbPath))
	}

	return append(options, cfg.dbOptions...)
}

// syncConfig stores resolved syncer settings after option application.
type syncConfig struct {
	logger          *slog.Logger
	backfillWorkers int
	backfillPage    int
	seenMessages    int
}

// SyncOption mutates syncer construction configuration.
type SyncOption func(*syncConfig)

func defaultSyncConfig(logger *slog.Logger) syncConfig {
	return syncConfig{
		logger:          logger,
		backfillWorkers: defaultBackfillWorkers,
		backfillPage:    defaultBackfillPage,
		seenMessages:    defaultSeenMessages,
	}
}

// WithSyncLogger overrides the provider logger for the syncer.
func WithSyncLogger(logger *slog.Logger) SyncOption {
	return func(cfg *syncConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBackfillWorkers bounds how many conversations backfill concurrently.
func WithBackfillWorkers(workers int) SyncOption {
	return func(cfg *syncConfig) {
		if workers > 0 {
			cfg.backfillWorkers = workers
		}
	}
}

// WithBackfillLimit caps how many messages per conversation are backfilled.
// Zero backfills full history.
func WithBackfillLimit(limit int) SyncOption {
	return func(cfg *syncConfig) {
		if limit >= 0 {
			cfg.backfillPage = limit
		}
	}
}

// WithSeenMessages sizes the recently processed message id cache.
func WithSeenMessages(size int) SyncOption {
	return func(cfg *syncConfig) {
		if size > 0 {
			cfg.seenMessages = size
		}
	}
}
