package cachedb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Writer serializes mutation batches onto the store.
//
// One goroutine drains the queue and commits each batch as a single leveldb
// write, so batches never interleave and each batch is all-or-nothing.
type Writer struct {
	ldb          *leveldb.DB
	tables       map[string]struct{}
	writeOptions *opt.WriteOptions
	queue        chan writeRequest
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	closed       atomic.Bool
	once         sync.Once
	committed    atomic.Uint64
}

type writeRequest struct {
	mutations []xmtpcache.Mutation
	result    chan error
}

// newWriter creates and starts the writer goroutine immediately.
func newWriter(ldb *leveldb.DB, tables map[string]struct{}, buffer int, syncWrites bool) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	writer := &Writer{
		ldb:          ldb,
		tables:       tables,
		writeOptions: &opt.WriteOptions{Sync: syncWrites},
		queue:        make(chan writeRequest, buffer),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go writer.run()

	return writer
}

// Apply validates mutations, queues them as one batch, and waits for the commit.
//
// Mutations addressing tables outside the open schema are rejected before
// anything is queued.
func (w *Writer) Apply(ctx context.Context, mutations []xmtpcache.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	if w.closed.Load() {
		return fmt.Errorf("apply mutations: %w", xmtpcache.ErrClosed)
	}

	owned := make([]xmtpcache.Mutation, 0, len(mutations))
	for _, mutation := range mutations {
		if err := mutation.Validate(); err != nil {
			return fmt.Errorf("apply mutations: %w", err)
		}
		if _, exists := w.tables[mutation.Namespace]; !exists {
			return fmt.Errorf("apply mutations to %s: %w", mutation.Namespace, xmtpcache.ErrUnknownTable)
		}
		mutation.Value = append([]byte(nil), mutation.Value...)
		owned = append(owned, mutation)
	}

	request := writeRequest{mutations: owned, result: make(chan error, 1)}
	select {
	case w.queue <- request:
	case <-w.ctx.Done():
		return fmt.Errorf("apply mutations: %w", xmtpcache.ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("apply mutations: %w", ctx.Err())
	}

	select {
	case err := <-request.result:
		return err
	case <-w.done:
		select {
		case err := <-request.result:
			return err
		default:
			return fmt.Errorf("apply mutations: %w", xmtpcache.ErrClosed)
		}
	case <-ctx.Done():
		return fmt.Errorf("apply mutations: %w", ctx.Err())
	}
}

// Committed returns the number of batches committed so far.
func (w *Writer) Committed() uint64 {
	return w.committed.Load()
}

// run commits queued batches until close, then drains what is already queued.
func (w *Writer) run() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case request := <-w.queue:
			request.result <- w.commit(request.mutations)
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case request := <-w.queue:
			request.result <- w.commit(request.mutations)
		default:
			return
		}
	}
}

func (w *Writer) commit(mutations []xmtpcache.Mutation) error {
	batch := new(leveldb.Batch)
	for _, mutation := range mutations {
		key := recordKey(mutation.Namespace, mutation.Key)
		if mutation.Delete {
			batch.Delete(key)
			continue
		}
		batch.Put(key, mutation.Value)
	}

	if err := w.ldb.Write(batch, w.writeOptions); err != nil {
		return fmt.Errorf("commit %d mutations: %w", len(mutations), err)
	}
	w.committed.Add(1)

	return nil
}

// Close stops accepting batches and waits for queued batches to commit or ctx to expire.
func (w *Writer) Close(ctx context.Context) error {
	w.once.Do(func() {
		w.closed.Store(true)
		w.cancel()
	})

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close writer: %w", ctx.Err())
	}
}
