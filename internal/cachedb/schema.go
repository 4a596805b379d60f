package cachedb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	versionKey       = []byte("m:version")
	tableKeyPrefix   = []byte("m:table:")
	recordKeyPrefix  = "r:"
	recordKeyDivider = ":"
)

// Schema is the table layout requested when opening the cache database.
type Schema struct {
	// Version is the requested schema version. Zero means DefaultVersion.
	Version uint64
	// Tables maps each table name to the content type owning its records.
	Tables map[string]xmtpcache.ContentType
}

// SchemaFromNamespaces derives a schema holding one table per namespace plus
// the reserved conversations table.
func SchemaFromNamespaces(namespaces xmtpcache.NamespaceMap, version uint64) Schema {
	tables := make(map[string]xmtpcache.ContentType, len(namespaces)+1)
	for contentType, namespace := range namespaces {
		tables[namespace] = contentType
	}
	tables[xmtpcache.ConversationsNamespace] = xmtpcache.ContentType{}

	return Schema{Version: version, Tables: tables}
}

// TableNames returns the requested table names in sorted order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (s Schema) effectiveVersion() uint64 {
	if s.Version == 0 {
		return DefaultVersion
	}

	return s.Version
}

// persistedSchema is the schema metadata read back from the store.
type persistedSchema struct {
	version uint64
	tables  map[string]string
}

func (p persistedSchema) fresh() bool {
	return p.version == 0 && len(p.tables) == 0
}

func readPersistedSchema(db *leveldb.DB) (persistedSchema, error) {
	persisted := persistedSchema{tables: make(map[string]string)}

	rawVersion, err := db.Get(versionKey, nil)
	switch {
	case err == nil:
		if len(rawVersion) != 8 {
			return persistedSchema{}, fmt.Errorf("read schema version: corrupt value of %d bytes", len(rawVersion))
		}
		persisted.version = binary.BigEndian.Uint64(rawVersion)
	case errors.Is(err, leveldb.ErrNotFound):
	default:
		return persistedSchema{}, fmt.Errorf("read schema version: %w", err)
	}

	iter := db.NewIterator(util.BytesPrefix(tableKeyPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		name := strings.TrimPrefix(string(iter.Key()), string(tableKeyPrefix))
		persisted.tables[name] = string(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return persistedSchema{}, fmt.Errorf("read schema tables: %w", err)
	}

	return persisted, nil
}

// migrationPlan is the outcome of comparing a requested schema with the store.
type migrationPlan struct {
	create       []string
	writeVersion bool
	version      uint64
	tables       []string
}

// planMigration decides which tables to create and whether to record a new version.
//
// Tables are only ever added. A downgrade is accepted when the store already
// holds every requested table, and leaves the persisted version untouched.
func planMigration(persisted persistedSchema, requested Schema) (migrationPlan, error) {
	version := requested.effectiveVersion()

	var missing []string
	for _, name := range requested.TableNames() {
		owner := ownerKey(requested.Tables[name])
		existingOwner, exists := persisted.tables[name]
		if !exists {
			missing = append(missing, name)
			continue
		}
		if existingOwner != owner {
			return migrationPlan{}, &xmtpcache.SchemaError{
				Table:            name,
				PersistedVersion: persisted.version,
				RequestedVersion: version,
				Cause: fmt.Errorf(
					"%w: table owned by %q, requested for %q",
					xmtpcache.ErrSchemaConflict,
					existingOwner,
					owner,
				),
			}
		}
	}

	plan := migrationPlan{create: missing, version: version}
	switch {
	case persisted.fresh():
		plan.writeVersion = true
	case version > persisted.version:
		plan.writeVersion = true
	case version == persisted.version:
		if len(missing) > 0 {
			return migrationPlan{}, &xmtpcache.SchemaError{
				Table:            missing[0],
				PersistedVersion: persisted.version,
				RequestedVersion: version,
				Cause:            xmtpcache.ErrSchemaVersionRequired,
			}
		}
	default:
		if len(missing) > 0 {
			return migrationPlan{}, &xmtpcache.SchemaError{
				Table:            missing[0],
				PersistedVersion: persisted.version,
				RequestedVersion: version,
				Cause:            xmtpcache.ErrSchemaDowngrade,
			}
		}
		plan.version = persisted.version
	}

	tables := make(map[string]struct{}, len(persisted.tables)+len(missing))
	for name := range persisted.tables {
		tables[name] = struct{}{}
	}
	for _, name := range missing {
		tables[name] = struct{}{}
	}
	plan.tables = make([]string, 0, len(tables))
	for name := range tables {
		plan.tables = append(plan.tables, name)
	}
	sort.Strings(plan.tables)

	return plan, nil
}

func (p migrationPlan) noop() bool {
	return len(p.create) == 0 && !p.writeVersion
}

// batch renders the plan into one atomic metadata write.
func (p migrationPlan) batch(requested Schema) *leveldb.Batch {
	batch := new(leveldb.Batch)
	for _, name := range p.create {
		batch.Put(tableKey(name), []byte(ownerKey(requested.Tables[name])))
	}
	if p.writeVersion {
		encoded := make([]byte, 8)
		binary.BigEndian.PutUint64(encoded, p.version)
		batch.Put(versionKey, encoded)
	}

	return batch
}

func ownerKey(contentType xmtpcache.ContentType) string {
	if contentType.IsZero() {
		return ""
	}

	return contentType.String()
}

func tableKey(name string) []byte {
	return append(append([]byte(nil), tableKeyPrefix...), name...)
}

func recordPrefix(table string) []byte {
	return []byte(recordKeyPrefix + table + recordKeyDivider)
}

func recordKey(table, key string) []byte {
	return []byte(recordKeyPrefix + table + recordKeyDivider + key)
}
