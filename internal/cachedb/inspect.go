package cachedb

import (
	"context"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// TableReport describes one persisted table.
type TableReport struct {
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	Records int    `json:"records"`
}

// Report describes a store and what opening it with a schema would change.
type Report struct {
	// Version is the persisted schema version, zero for a fresh store.
	Version uint64 `json:"version"`
	// Tables lists persisted tables in name order.
	Tables []TableReport `json:"tables"`
	// RequestedVersion is the effective version of the compared schema.
	RequestedVersion uint64 `json:"requested_version"`
	// Create lists tables an open would add.
	Create []string `json:"create,omitempty"`
	// VersionChange reports whether an open would record a new version.
	VersionChange bool `json:"version_change"`
}

// MigrationRequired reports whether opening with the compared schema writes metadata.
func (r Report) MigrationRequired() bool {
	return len(r.Create) > 0 || r.VersionChange
}

// Inspect reads store metadata and record counts without modifying the store,
// and compares the persisted layout with schema.
//
// When schema cannot be opened on the store, the report is still filled and
// the *xmtpcache.SchemaError is returned with it.
func Inspect(ctx context.Context, schema Schema, options ...Option) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("inspect cache db: %w", err)
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	ldb, err := openLevelDB(cfg, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if err != nil {
		return Report{}, fmt.Errorf("inspect cache db: %w", err)
	}
	defer func() {
		_ = ldb.Close()
	}()

	persisted, err := readPersistedSchema(ldb)
	if err != nil {
		return Report{}, fmt.Errorf("inspect cache db: %w", err)
	}

	report := Report{
		Version:          persisted.version,
		RequestedVersion: schema.effectiveVersion(),
	}
	for _, name := range sortedKeys(persisted.tables) {
		records, err := countRecords(ctx, ldb, name)
		if err != nil {
			return Report{}, fmt.Errorf("inspect cache db: %w", err)
		}
		report.Tables = append(report.Tables, TableReport{
			Name:    name,
			Owner:   persisted.tables[name],
			Records: records,
		})
	}

	plan, err := planMigration(persisted, schema)
	if err != nil {
		return report, fmt.Errorf("inspect cache db: %w", err)
	}
	report.Create = plan.create
	report.VersionChange = plan.writeVersion

	return report, nil
}

func countRecords(ctx context.Context, ldb *leveldb.DB, table string) (int, error) {
	iter := ldb.NewIterator(util.BytesPrefix(recordPrefix(table)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}

	return count, nil
}

func sortedKeys(tables map[string]string) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
