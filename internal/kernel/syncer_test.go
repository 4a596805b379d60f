package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/google/go-cmp/cmp"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func syncFixture() *fakeClient {
	createdAt := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	return &fakeClient{
		address: "0xme",
		conversations: []xmtpcache.Conversation{
			{Topic: "topic-a", PeerAddress: "0xalice", CreatedAt: createdAt, Metadata: map[string]string{"label": "work"}},
			{Topic: "topic-b", PeerAddress: "0xbob", CreatedAt: createdAt, ConversationID: "b"},
		},
		messages: map[string][]xmtpcache.Message{
			"topic-a": {
				testMessage("a1", "topic-a", noteType, "hello"),
				testMessage("a2", "topic-a", voteType, "up"),
				testMessage("a3", "topic-a", pollType, "unknown"),
			},
			"topic-b": {
				testMessage("b1", "topic-b", noteType, "fail"),
				testMessage("b2", "topic-b", noteType, ""),
			},
		},
		stream: []xmtpcache.Message{
			testMessage("a1", "topic-a", noteType, "hello"),
			testMessage("s1", "topic-b", noteType, "live"),
		},
	}
}

// TestSyncerRunBackfillsThenStreams verifies history and live messages land in the cache.
func TestSyncerRunBackfillsThenStreams(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := syncFixture()
	provider := newTestProvider(t)
	provider.SetClient(client)
	snapshot, err := provider.Configure(ctx, baseConfigs(), 1)
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	syncer, err := NewSyncer(provider, WithBackfillWorkers(2))
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	if err := syncer.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := SyncStats{Processed: 4, Duplicates: 1, Skipped: 2, ProcessorErrors: 1}
	if diff := cmp.Diff(want, syncer.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	for key, wantValue := range map[string]string{"a1": "hello", "s1": "live"} {
		if value, found := mustGet(t, snapshot, "notes", key); !found || value != wantValue {
			t.Fatalf("notes/%s = %q found=%v, want %q", key, value, found, wantValue)
		}
	}
	if value, found := mustGet(t, snapshot, "votes", "a2"); !found || value != "up" {
		t.Fatalf("votes/a2 = %q found=%v, want up", value, found)
	}
	for _, key := range []string{"b1", "b2"} {
		if _, found := mustGet(t, snapshot, "notes", key); found {
			t.Fatalf("notes/%s cached, want skipped", key)
		}
	}

	records, err := CachedConversations(ctx, snapshot)
	if err != nil {
		t.Fatalf("CachedConversations() error = %v", err)
	}
	wantRecords := []ConversationRecord{
		{
			Topic:       "topic-a",
			PeerAddress: "0xalice",
			CreatedAt:   client.conversations[0].CreatedAt,
			Metadata:    map[string]string{"label": "work"},
		},
		{
			Topic:          "topic-b",
			PeerAddress:    "0xbob",
			CreatedAt:      client.conversations[1].CreatedAt,
			ConversationID: "b",
		},
	}
	if diff := cmp.Diff(wantRecords, records); diff != "" {
		t.Fatalf("conversation records mismatch (-want +got):\n%s", diff)
	}
}

// TestSyncerBackfillListOptions verifies history is read oldest first with the configured cap.
func TestSyncerBackfillListOptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := syncFixture()
	provider := newTestProvider(t)
	provider.SetClient(client)
	if _, err := provider.Configure(ctx, baseConfigs(), 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	syncer, err := NewSyncer(provider, WithBackfillLimit(1), WithSyncLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	if err := syncer.Backfill(ctx); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}

	options := client.recordedListOptions()
	if len(options) != 2 {
		t.Fatalf("list calls = %d, want 2", len(options))
	}
	for _, option := range options {
		if option.Limit != 1 || option.Direction != xmtpcache.SortAscending {
			t.Fatalf("list options = %+v, want limit 1 ascending", option)
		}
	}
	if got := syncer.Stats(); got.Processed != 2 || got.ProcessorErrors != 1 {
		t.Fatalf("stats = %+v, want a1 and b1 processed with b1 failing", got)
	}
}

// TestSyncerErrors verifies only fatal conditions abort a pass.
func TestSyncerErrors(t *testing.T) {
	t.Parallel()

	listErr := errors.New("network down")
	tests := []struct {
		name      string
		client    *fakeClient
		configure bool
		wantErr   error
	}{
		{name: "no client", configure: true, wantErr: xmtpcache.ErrNoClient},
		{name: "not configured", client: syncFixture(), wantErr: xmtpcache.ErrNotConfigured},
		{name: "client failure", client: &fakeClient{listErr: listErr}, configure: true, wantErr: listErr},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			provider := newTestProvider(t)
			if testCase.client != nil {
				provider.SetClient(testCase.client)
			}
			if testCase.configure {
				if _, err := provider.Configure(ctx, baseConfigs(), 1); err != nil {
					t.Fatalf("Configure() error = %v", err)
				}
			}

			syncer, err := NewSyncer(provider)
			if err != nil {
				t.Fatalf("NewSyncer() error = %v", err)
			}
			if err := syncer.Run(ctx); !errors.Is(err, testCase.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

// TestSyncerStreamStopsOnCancel verifies the live stream follows context cancellation.
func TestSyncerStreamStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		stream:      []xmtpcache.Message{testMessage("s1", "topic", noteType, "live")},
		blockStream: true,
	}
	provider := newTestProvider(t)
	provider.SetClient(client)
	snapshot, err := provider.Configure(ctx, baseConfigs(), 1)
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	syncer, err := NewSyncer(provider)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- syncer.Stream(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for syncer.Stats().Processed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("streamed message never processed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v, want %v", err, context.Canceled)
	}
	if value, found := mustGet(t, snapshot, "notes", "s1"); !found || value != "live" {
		t.Fatalf("notes/s1 = %q found=%v, want live", value, found)
	}
}

// TestSyncerFollowsReconfiguration verifies messages use the snapshot current at processing time.
func TestSyncerFollowsReconfiguration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeClient{stream: []xmtpcache.Message{testMessage("p1", "topic", pollType, "yes")}}
	provider := newTestProvider(t)
	provider.SetClient(client)
	if _, err := provider.Configure(ctx, baseConfigs(), 1); err != nil {
		t.Fatalf("Configure(v1) error = %v", err)
	}
	syncer, err := NewSyncer(provider, WithSeenMessages(8))
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}

	if err := syncer.Stream(ctx); err != nil {
		t.Fatalf("Stream(v1) error = %v", err)
	}
	if got := syncer.Stats().Skipped; got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}

	snapshot, err := provider.Configure(ctx, append(baseConfigs(), testConfig(pollType, "polls")), 2)
	if err != nil {
		t.Fatalf("Configure(v2) error = %v", err)
	}
	client.stream = []xmtpcache.Message{
		testMessage("p1", "topic", pollType, "yes"),
		testMessage("p2", "topic", pollType, "no"),
	}
	if err := syncer.Stream(ctx); err != nil {
		t.Fatalf("Stream(v2) error = %v", err)
	}
	for key, want := range map[string]string{"p1": "yes", "p2": "no"} {
		if value, found := mustGet(t, snapshot, "polls", key); !found || value != want {
			t.Fatalf("polls/%s = %q found=%v, want %q", key, value, found, want)
		}
	}
}

// gatedProcessor stores messages like storeByID once release is closed and
// signals entered on each call.
func gatedProcessor(entered chan<- struct{}, release <-chan struct{}) xmtpcache.Processor {
	return func(ctx context.Context, input xmtpcache.ProcessorInput) ([]xmtpcache.Mutation, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release

		return storeByID(ctx, input)
	}
}

func waitSignal(t *testing.T, signal <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-signal:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitHandled(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handle() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handle")
	}
}

func TestSyncerRetriesCommitAfterStoreReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := newTestProvider(t, WithDatabaseStorage(storage.NewMemStorage()))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	configs := []xmtpcache.CacheConfiguration{testConfig(noteType, "notes", gatedProcessor(entered, release))}
	if _, err := provider.Configure(ctx, configs, 1); err != nil {
		t.Fatalf("Configure(v1) error = %v", err)
	}
	syncer, err := NewSyncer(provider)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}

	message := testMessage("m1", "topic", noteType, "hello")
	done := make(chan error, 1)
	go func() {
		done <- syncer.handle(ctx, message)
	}()
	waitSignal(t, entered, "processor")

	next, err := provider.Configure(ctx, append(configs, testConfig(pollType, "polls")), 2)
	if err != nil {
		t.Fatalf("Configure(v2) error = %v", err)
	}
	close(release)
	waitHandled(t, done)

	if value, found := mustGet(t, next, "notes", "m1"); !found || value != "hello" {
		t.Fatalf("notes/m1 = %q found=%v, want hello", value, found)
	}
	if diff := cmp.Diff(SyncStats{Processed: 1}, syncer.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncerForgetsUncommittedMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := newTestProvider(t, WithDatabaseStorage(storage.NewMemStorage()))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	configs := []xmtpcache.CacheConfiguration{testConfig(noteType, "notes", gatedProcessor(entered, release))}
	snapshot, err := provider.Configure(ctx, configs, 1)
	if err != nil {
		t.Fatalf("Configure(v1) error = %v", err)
	}
	syncer, err := NewSyncer(provider)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}

	message := testMessage("m1", "topic", noteType, "hello")
	done := make(chan error, 1)
	go func() {
		done <- syncer.handle(ctx, message)
	}()
	waitSignal(t, entered, "processor")

	if err := snapshot.DB.Close(ctx); err != nil {
		t.Fatalf("close store: %v", err)
	}
	close(release)
	waitHandled(t, done)

	if diff := cmp.Diff(SyncStats{Uncommitted: 1}, syncer.Stats()); diff != "" {
		t.Fatalf("stats after failed commit mismatch (-want +got):\n%s", diff)
	}
	if syncer.seen.Contains(message.ID) {
		t.Fatal("uncommitted message remembered as seen")
	}

	next, err := provider.Configure(ctx, append(configs, testConfig(pollType, "polls")), 2)
	if err != nil {
		t.Fatalf("Configure(v2) error = %v", err)
	}
	if err := syncer.handle(ctx, message); err != nil {
		t.Fatalf("handle() redelivery error = %v", err)
	}
	if value, found := mustGet(t, next, "notes", "m1"); !found || value != "hello" {
		t.Fatalf("notes/m1 = %q found=%v, want hello", value, found)
	}
	if diff := cmp.Diff(SyncStats{Processed: 1, Uncommitted: 1}, syncer.Stats()); diff != "" {
		t.Fatalf("stats after redelivery mismatch (-want +got):\n%s", diff)
	}
}

func TestNewSyncerRequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewSyncer(nil); err == nil {
		t.Fatal("NewSyncer(nil) error = nil, want error")
	}
}
