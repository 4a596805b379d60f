package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ex-xmtpcache/internal/cachedb"
	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Provider owns the client, signer, and current cache snapshot shared by every consumer.
//
// Each Configure call derives codecs, namespaces, processors, and the database
// handle together and publishes them as one Snapshot, so consumers never see
// parts of two configuration generations.
type Provider struct {
	cfg config

	mu     sync.RWMutex
	client xmtpcache.Client
	signer xmtpcache.Signer

	snapshot   atomic.Pointer[Snapshot]
	generation atomic.Uint64

	configureMu sync.Mutex
	closed      bool
}

// ConfigureResult is delivered by ConfigureAsync once a configuration settles.
type ConfigureResult struct {
	Snapshot *Snapshot
	Err      error
}

// NewProvider creates an unconfigured provider.
func NewProvider(options ...Option) *Provider {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if cfg.dbStorage == nil && cfg.dbPath == "" {
		cfg.dbStorage = storage.NewMemStorage()
	}

	return &Provider{cfg: cfg}
}

// Client returns the live client, or nil before one is set.
func (p *Provider) Client() xmtpcache.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.client
}

// SetClient replaces the live client.
func (p *Provider) SetClient(client xmtpcache.Client) {
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
}

// Signer returns the wallet signer, or nil before one is set.
func (p *Provider) Signer() xmtpcache.Signer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.signer
}

// SetSigner replaces the wallet signer.
func (p *Provider) SetSigner(signer xmtpcache.Signer) {
	p.mu.Lock()
	p.signer = signer
	p.mu.Unlock()
}

// Snapshot returns the current cache snapshot, or nil before the first Configure.
func (p *Provider) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// Configure recomputes every derived artifact for configs and version and
// publishes them as the current snapshot.
//
// Configuration and schema errors are returned unchanged in kind and leave the
// previous snapshot in place. When a newer Configure or Close starts before this
// call finishes, the result is discarded and ErrSuperseded is returned.
func (p *Provider) Configure(
	ctx context.Context,
	configs []xmtpcache.CacheConfiguration,
	version uint64,
) (*Snapshot, error) {
	namespaces, err := xmtpcache.CombineNamespaces(configs)
	if err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	// Rejected configurations never supersede an in-flight one.
	generation := p.generation.Add(1)
	next := &Snapshot{
		ID:         uuid.NewString(),
		Generation: generation,
		Configs:    append([]xmtpcache.CacheConfiguration(nil), configs...),
		Codecs:     xmtpcache.CombineCodecs(configs),
		Namespaces: namespaces,
		Processors: xmtpcache.CombineMessageProcessors(configs),
		Validators: xmtpcache.CombineValidators(configs),
		schema:     cachedb.SchemaFromNamespaces(namespaces, version),
	}

	p.configureMu.Lock()
	defer p.configureMu.Unlock()

	if err := p.checkCurrentLocked(generation); err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	previous := p.snapshot.Load()
	db, reused, err := p.resolveDatabaseLocked(ctx, previous, next.schema)
	if err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}
	next.DB = db
	next.Version = db.Version()

	if err := p.checkCurrentLocked(generation); err != nil {
		if !reused {
			p.closeDatabase(ctx, db)
			p.retireLocked(previous)
		}
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	p.snapshot.Store(next)
	p.cfg.logger.InfoContext(ctx,
		"cache provider configured",
		"snapshot_id", next.ID,
		"generation", generation,
		"version", next.Version,
		"tables", db.Tables(),
		"codecs", len(next.Codecs),
		"reused_db", reused,
	)

	return next, nil
}

// ConfigureAsync runs Configure in the background and delivers its result once.
//
// The channel is buffered, so callers that stop listening do not leak the worker.
func (p *Provider) ConfigureAsync(
	ctx context.Context,
	configs []xmtpcache.CacheConfiguration,
	version uint64,
) <-chan ConfigureResult {
	results := make(chan ConfigureResult, 1)
	go func() {
		snapshot, err := p.Configure(ctx, configs, version)
		results <- ConfigureResult{Snapshot: snapshot, Err: err}
	}()

	return results
}

// Close tears down the current database handle and rejects further configuration.
// In-flight configurations are discarded when they finish.
func (p *Provider) Close(ctx context.Context) error {
	p.generation.Add(1)

	p.configureMu.Lock()
	defer p.configureMu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	current := p.snapshot.Swap(nil)
	if current == nil || current.DB == nil {
		return nil
	}
	if err := current.DB.Close(ctx); err != nil {
		return fmt.Errorf("close provider: %w", err)
	}

	return nil
}

// checkCurrentLocked fails when generation is no longer the newest request.
func (p *Provider) checkCurrentLocked(generation uint64) error {
	if p.closed {
		return xmtpcache.ErrClosed
	}
	if p.generation.Load() != generation {
		return xmtpcache.ErrSuperseded
	}

	return nil
}

// resolveDatabaseLocked returns a handle serving schema.
//
// The previous handle is reused when schema needs no migration. Otherwise the
// schema is checked against the open handle first, so an incompatible request
// fails before the live handle is closed for reopening.
func (p *Provider) resolveDatabaseLocked(
	ctx context.Context,
	previous *Snapshot,
	schema cachedb.Schema,
) (db *cachedb.DB, reused bool, err error) {
	if previous != nil && previous.DB != nil {
		changes, err := previous.DB.Check(schema)
		if err != nil {
			return nil, false, err
		}
		if !changes {
			return previous.DB, true, nil
		}
		p.closeDatabase(ctx, previous.DB)
	}

	db, err = p.cfg.openDB(ctx, schema, p.cfg.databaseOptions()...)
	if err != nil {
		p.retireLocked(previous)
		return nil, false, err
	}

	return db, false, nil
}

// retireLocked unpublishes previous after its database handle was closed
// without a replacement taking its place.
func (p *Provider) retireLocked(previous *Snapshot) {
	if previous == nil {
		return
	}
	if p.snapshot.CompareAndSwap(previous, nil) {
		p.cfg.logger.Warn("cache provider snapshot retired without replacement", "snapshot_id", previous.ID)
	}
}

func (p *Provider) closeDatabase(ctx context.Context, db *cachedb.DB) {
	if err := db.Close(context.WithoutCancel(ctx)); err != nil {
		p.cfg.logger.WarnContext(ctx, "cache database close failed", "error", err)
	}
}

// Process caches one message against the current snapshot.
func (p *Provider) Process(ctx context.Context, message xmtpcache.Message) (ProcessResult, error) {
	snapshot := p.Snapshot()
	if snapshot == nil {
		return ProcessResult{}, fmt.Errorf("process message %s: %w", message.ID, xmtpcache.ErrNotConfigured)
	}

	return snapshot.Process(ctx, message)
}

// SendMessage encodes content with the current codecs, sends it through the
// client, and caches the sent message.
//
// A send that succeeds is reported as success even when caching it fails; the
// caching error is returned alongside the sent message.
func (p *Provider) SendMessage(
	ctx context.Context,
	topic string,
	contentType xmtpcache.ContentType,
	content any,
) (xmtpcache.Message, error) {
	client := p.Client()
	if client == nil {
		return xmtpcache.Message{}, fmt.Errorf("send message: %w", xmtpcache.ErrNoClient)
	}
	snapshot := p.Snapshot()
	if snapshot == nil {
		return xmtpcache.Message{}, fmt.Errorf("send message: %w", xmtpcache.ErrNotConfigured)
	}

	codec, found := snapshot.Codecs.Lookup(contentType)
	if !found {
		return xmtpcache.Message{}, fmt.Errorf("send message %s: %w", contentType, xmtpcache.ErrCodecNotFound)
	}
	encoded, err := codec.Encode(content)
	if err != nil {
		return xmtpcache.Message{}, fmt.Errorf("send message encode %s: %w", contentType, err)
	}

	sent, err := client.Send(ctx, topic, encoded)
	if err != nil {
		return xmtpcache.Message{}, fmt.Errorf("send message to %s: %w", topic, err)
	}

	if _, err := snapshot.Process(ctx, sent); err != nil && !errors.Is(err, xmtpcache.ErrCodecNotFound) {
		return sent, fmt.Errorf("send message cache sent %s: %w", sent.ID, err)
	}

	return sent, nil
}
