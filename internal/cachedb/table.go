package cachedb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Table is one namespace of the cache database.
type Table struct {
	db   *DB
	name string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Get returns the record stored under key.
//
// When no record exists, found is false and err is nil.
func (t *Table) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", t.name, key, err)
	}

	value, err = t.db.ldb.Get(recordKey(t.name, key), nil)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, false, nil
	case errors.Is(err, leveldb.ErrClosed):
		return nil, false, fmt.Errorf("get %s/%s: %w", t.name, key, xmtpcache.ErrClosed)
	default:
		return nil, false, fmt.Errorf("get %s/%s: %w", t.name, key, err)
	}
}

// Put writes value under key.
func (t *Table) Put(ctx context.Context, key string, value []byte) error {
	return t.db.Apply(ctx, []xmtpcache.Mutation{xmtpcache.PutMutation(t.name, key, value)})
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Table) Delete(ctx context.Context, key string) error {
	return t.db.Apply(ctx, []xmtpcache.Mutation{xmtpcache.DeleteMutation(t.name, key)})
}

// Scan calls fn for every record whose key starts with prefix, in key order.
// Returning an error from fn stops the scan and returns that error.
func (t *Table) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", t.name, err)
	}

	tablePrefix := recordPrefix(t.name)
	iter := t.db.ldb.NewIterator(util.BytesPrefix(append(tablePrefix, prefix...)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", t.name, err)
		}
		key := strings.TrimPrefix(string(iter.Key()), string(tablePrefix))
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan %s: %w", t.name, err)
	}

	return nil
}

// Count returns the number of records in the table.
func (t *Table) Count(ctx context.Context) (int, error) {
	count := 0
	err := t.Scan(ctx, "", func(string, []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
