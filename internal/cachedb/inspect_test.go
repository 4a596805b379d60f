package cachedb

import (
	"context"
	"errors"
	"testing"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/google/go-cmp/cmp"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func TestInspectReportsLayoutWithoutMigrating(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stor := storage.NewMemStorage()
	db, err := Open(ctx, SchemaFromNamespaces(baseNamespaces(), 1), WithStorage(stor))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err = db.Apply(ctx, []xmtpcache.Mutation{
		xmtpcache.PutMutation("texts", "a", []byte("1")),
		xmtpcache.PutMutation("texts", "b", []byte("2")),
		xmtpcache.PutMutation("reactions", "a", []byte("3")),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := db.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	namespaces := baseNamespaces()
	namespaces[pollType] = "polls"
	report, err := Inspect(ctx, SchemaFromNamespaces(namespaces, 2), WithStorage(stor))
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	want := Report{
		Version: 1,
		Tables: []TableReport{
			{Name: xmtpcache.ConversationsNamespace},
			{Name: "reactions", Owner: reactionType.String(), Records: 1},
			{Name: "texts", Owner: textType.String(), Records: 2},
		},
		RequestedVersion: 2,
		Create:           []string{"polls"},
		VersionChange:    true,
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if !report.MigrationRequired() {
		t.Fatal("MigrationRequired() = false, want true")
	}

	again, err := Inspect(ctx, SchemaFromNamespaces(namespaces, 2), WithStorage(stor))
	if err != nil {
		t.Fatalf("second Inspect() error = %v", err)
	}
	if again.Version != 1 || len(again.Create) != 1 {
		t.Fatalf("second report = %+v, want store unchanged by inspection", again)
	}
}

func TestInspectReturnsSchemaErrorWithReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stor := storage.NewMemStorage()
	db, err := Open(ctx, SchemaFromNamespaces(baseNamespaces(), 1), WithStorage(stor))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	namespaces := baseNamespaces()
	namespaces[pollType] = "polls"
	report, err := Inspect(ctx, SchemaFromNamespaces(namespaces, 1), WithStorage(stor))
	if !errors.Is(err, xmtpcache.ErrSchemaVersionRequired) {
		t.Fatalf("Inspect() error = %v, want %v", err, xmtpcache.ErrSchemaVersionRequired)
	}
	if report.Version != 1 || len(report.Tables) != 3 {
		t.Fatalf("report = %+v, want persisted layout", report)
	}
	if report.MigrationRequired() {
		t.Fatal("MigrationRequired() = true for a rejected schema")
	}
}

func TestInspectMissingStore(t *testing.T) {
	t.Parallel()

	_, err := Inspect(context.Background(), Schema{}, WithPath(t.TempDir()+"/missing"))
	if err == nil {
		t.Fatal("Inspect() error = nil, want missing store error")
	}
}
