package cachedb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// DB is an open cache database handle.
//
// The table set is fixed at open time. All writes flow through one Writer so
// mutation batches commit in the order they were submitted.
type DB struct {
	ldb     *leveldb.DB
	logger  *slog.Logger
	version uint64
	owners  map[string]string
	tables  map[string]struct{}
	names   []string
	writer  *Writer

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the cache database and migrates it to schema.
//
// Opening is idempotent for an unchanged schema. A higher version adds every
// missing table. Tables are never dropped. Incompatible requests fail with
// *xmtpcache.SchemaError and leave the store untouched.
func Open(ctx context.Context, schema Schema, options ...Option) (*DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	ldb, err := openLevelDB(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	persisted, plan, err := migrate(ldb, schema)
	if err != nil {
		_ = ldb.Close()
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if !plan.noop() {
		cfg.logger.InfoContext(ctx,
			"cache db schema migrated",
			"version", plan.version,
			"created_tables", plan.create,
		)
	}

	tables := make(map[string]struct{}, len(plan.tables))
	owners := make(map[string]string, len(plan.tables))
	for name, owner := range persisted.tables {
		owners[name] = owner
	}
	for _, name := range plan.tables {
		tables[name] = struct{}{}
	}
	for _, name := range plan.create {
		owners[name] = ownerKey(schema.Tables[name])
	}

	db := &DB{
		ldb:     ldb,
		logger:  cfg.logger,
		version: plan.version,
		owners:  owners,
		tables:  tables,
		names:   plan.tables,
	}
	db.writer = newWriter(ldb, tables, cfg.writeBuffer, cfg.syncWrites)

	return db, nil
}

func openLevelDB(cfg config, options *opt.Options) (*leveldb.DB, error) {
	switch {
	case cfg.storage != nil:
		ldb, err := leveldb.Open(cfg.storage, options)
		if err != nil {
			return nil, fmt.Errorf("open leveldb storage: %w", err)
		}
		return ldb, nil
	case cfg.path != "":
		ldb, err := leveldb.OpenFile(cfg.path, options)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.path, err)
		}
		return ldb, nil
	default:
		ldb, err := leveldb.Open(storage.NewMemStorage(), options)
		if err != nil {
			return nil, fmt.Errorf("open in-memory leveldb: %w", err)
		}
		return ldb, nil
	}
}

func migrate(ldb *leveldb.DB, schema Schema) (persistedSchema, migrationPlan, error) {
	persisted, err := readPersistedSchema(ldb)
	if err != nil {
		return persistedSchema{}, migrationPlan{}, err
	}

	plan, err := planMigration(persisted, schema)
	if err != nil {
		return persistedSchema{}, migrationPlan{}, err
	}
	if plan.noop() {
		return persisted, plan, nil
	}

	if err := ldb.Write(plan.batch(schema), &opt.WriteOptions{Sync: true}); err != nil {
		return persistedSchema{}, migrationPlan{}, fmt.Errorf("write schema metadata: %w", err)
	}

	return persisted, plan, nil
}

// Check reports whether schema could be opened on this handle's store and
// whether opening it would migrate anything. It does not touch the store.
func (db *DB) Check(schema Schema) (changes bool, err error) {
	plan, err := planMigration(persistedSchema{version: db.version, tables: db.owners}, schema)
	if err != nil {
		return false, err
	}

	return !plan.noop(), nil
}

// Version returns the schema version recorded in the store.
func (db *DB) Version() uint64 {
	return db.version
}

// Tables returns every table in the store in sorted order.
func (db *DB) Tables() []string {
	return append([]string(nil), db.names...)
}

// HasTable reports whether name is part of the open schema.
func (db *DB) HasTable(name string) bool {
	_, exists := db.tables[name]
	return exists
}

// Table returns the handle for one table.
func (db *DB) Table(name string) (*Table, error) {
	if !db.HasTable(name) {
		return nil, fmt.Errorf("table %s: %w", name, xmtpcache.ErrUnknownTable)
	}

	return &Table{db: db, name: name}, nil
}

// Apply commits mutations as one atomic batch through the writer.
func (db *DB) Apply(ctx context.Context, mutations []xmtpcache.Mutation) error {
	return db.writer.Apply(ctx, mutations)
}

// Close stops the writer and closes the store. It is safe to call repeatedly.
func (db *DB) Close(ctx context.Context) error {
	db.closeOnce.Do(func() {
		if err := db.writer.Close(ctx); err != nil {
			db.logger.WarnContext(ctx, "cache db writer shutdown incomplete", "error", err)
		}
		if err := db.ldb.Close(); err != nil {
			db.closeErr = fmt.Errorf("close cache db: %w", err)
		}
	})

	return db.closeErr
}
