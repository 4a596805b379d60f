package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
)

// Syncer keeps the provider cache in step with the client.
//
// Backfill walks stored history; Stream follows live messages. Both feed every
// message through the provider's current snapshot.
type Syncer struct {
	provider *Provider
	cfg      syncConfig
	seen     *lru.Cache

	processed       atomic.Uint64
	duplicates      atomic.Uint64
	skipped         atomic.Uint64
	processorErrors atomic.Uint64
	uncommitted     atomic.Uint64
}

// SyncStats counts what the syncer has done since construction.
type SyncStats struct {
	Processed       uint64
	Duplicates      uint64
	Skipped         uint64
	ProcessorErrors uint64
	Uncommitted     uint64
}

// ConversationRecord is the cached form of one conversation.
type ConversationRecord struct {
	Topic          string            `json:"topic"`
	PeerAddress    string            `json:"peer_address"`
	CreatedAt      time.Time         `json:"created_at"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewSyncer creates a syncer bound to provider.
func NewSyncer(provider *Provider, options ...SyncOption) (*Syncer, error) {
	if provider == nil {
		return nil, fmt.Errorf("new syncer: nil provider")
	}

	cfg := defaultSyncConfig(provider.cfg.logger)
	for _, option := range options {
		option(&cfg)
	}

	seen, err := lru.New(cfg.seenMessages)
	if err != nil {
		return nil, fmt.Errorf("new syncer seen cache: %w", err)
	}

	return &Syncer{provider: provider, cfg: cfg, seen: seen}, nil
}

// Stats returns a point-in-time copy of the syncer counters.
func (s *Syncer) Stats() SyncStats {
	return SyncStats{
		Processed:       s.processed.Load(),
		Duplicates:      s.duplicates.Load(),
		Skipped:         s.skipped.Load(),
		ProcessorErrors: s.processorErrors.Load(),
		Uncommitted:     s.uncommitted.Load(),
	}
}

// Run backfills history and then follows the live stream until ctx ends.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Backfill(ctx); err != nil {
		return err
	}

	return s.Stream(ctx)
}

// Backfill caches every conversation and its message history.
//
// Conversations are fetched concurrently up to the configured worker bound.
// A client fetch failure stops the pass; processor failures never do.
func (s *Syncer) Backfill(ctx context.Context) error {
	client := s.provider.Client()
	if client == nil {
		return fmt.Errorf("backfill: %w", xmtpcache.ErrNoClient)
	}

	conversations, err := client.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("backfill list conversations: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.backfillWorkers)
	for _, conversation := range conversations {
		conversation := conversation
		group.Go(func() error {
			return s.backfillConversation(groupCtx, client, conversation)
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	s.cfg.logger.InfoContext(ctx,
		"cache backfill finished",
		"conversations", len(conversations),
		"processed", s.processed.Load(),
		"processor_errors", s.processorErrors.Load(),
	)

	return nil
}

func (s *Syncer) backfillConversation(
	ctx context.Context,
	client xmtpcache.Client,
	conversation xmtpcache.Conversation,
) error {
	if err := s.cacheConversation(ctx, conversation); err != nil {
		return err
	}

	messages, err := client.Messages(ctx, conversation.Topic, xmtpcache.ListMessagesOptions{
		Limit:     s.cfg.backfillPage,
		Direction: xmtpcache.SortAscending,
	})
	if err != nil {
		return fmt.Errorf("list messages of %s: %w", conversation.Topic, err)
	}

	for _, message := range messages {
		if err := s.handle(ctx, message); err != nil {
			return err
		}
	}

	return nil
}

// Stream follows the client live stream until ctx ends or the stream closes.
func (s *Syncer) Stream(ctx context.Context) error {
	client := s.provider.Client()
	if client == nil {
		return fmt.Errorf("stream: %w", xmtpcache.ErrNoClient)
	}

	stream, err := client.StreamAllMessages(ctx)
	if err != nil {
		return fmt.Errorf("stream open: %w", err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			s.cfg.logger.WarnContext(ctx, "cache stream close failed", "error", closeErr)
		}
	}()

	for {
		message, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream next: %w", err)
		}
		if err := s.handle(ctx, message); err != nil {
			return err
		}
	}
}

// handle caches one message and classifies the outcome.
// Only context cancellation and a missing configuration are returned.
// Messages without a codec or with uncommitted mutations are not remembered,
// so a later delivery still caches them.
func (s *Syncer) handle(ctx context.Context, message xmtpcache.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if message.ID != "" && s.seen.Contains(message.ID) {
		s.duplicates.Add(1)
		return nil
	}

	result, err := s.provider.Process(ctx, message)
	if errors.Is(err, xmtpcache.ErrClosed) && !result.Committed() {
		// The snapshot's store was replaced while processing.
		result, err = s.provider.Process(ctx, message)
	}
	switch {
	case err == nil:
	case errors.Is(err, xmtpcache.ErrNotConfigured):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, xmtpcache.ErrCodecNotFound):
		s.skipped.Add(1)
		s.cfg.logger.DebugContext(ctx,
			"cache skipped message without codec",
			"message_id", message.ID,
			"content_type", message.ContentType().String(),
		)
		return nil
	case errors.Is(err, xmtpcache.ErrInvalidContent):
		s.skipped.Add(1)
		s.cfg.logger.WarnContext(ctx,
			"cache skipped invalid message content",
			"message_id", message.ID,
			"content_type", message.ContentType().String(),
		)
		s.seen.Add(message.ID, struct{}{})
		return nil
	default:
		s.logProcessFailure(ctx, message, err)
	}

	if !result.Committed() {
		s.uncommitted.Add(1)
		s.cfg.logger.WarnContext(ctx,
			"cache message not committed",
			"message_id", message.ID,
			"mutations", result.Collected,
		)
		return nil
	}

	s.processed.Add(1)
	s.processorErrors.Add(uint64(result.Failed))
	s.seen.Add(message.ID, struct{}{})

	return nil
}

func (s *Syncer) logProcessFailure(ctx context.Context, message xmtpcache.Message, err error) {
	processorErrs := xmtpcache.ProcessorErrors(err)
	if len(processorErrs) == 0 {
		s.cfg.logger.ErrorContext(ctx,
			"cache message processing failed",
			"message_id", message.ID,
			"error", err,
		)
		return
	}

	for _, processorErr := range processorErrs {
		s.cfg.logger.LogAttrs(ctx, slog.LevelError,
			"cache processor failed",
			slog.String("message_id", processorErr.MessageID),
			slog.String("content_type", processorErr.ContentType.String()),
			slog.Int("processor_index", processorErr.Index),
			slog.Any("error", processorErr.Cause),
		)
	}
}

func (s *Syncer) cacheConversation(ctx context.Context, conversation xmtpcache.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return fmt.Errorf("cache conversation: %w", err)
	}
	snapshot := s.provider.Snapshot()
	if snapshot == nil {
		return fmt.Errorf("cache conversation %s: %w", conversation.Topic, xmtpcache.ErrNotConfigured)
	}

	encoded, err := json.Marshal(ConversationRecord{
		Topic:          conversation.Topic,
		PeerAddress:    conversation.PeerAddress,
		CreatedAt:      conversation.CreatedAt.UTC(),
		ConversationID: conversation.ConversationID,
		Metadata:       conversation.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conversation.Topic, err)
	}

	err = snapshot.DB.Apply(ctx, []xmtpcache.Mutation{
		xmtpcache.PutMutation(xmtpcache.ConversationsNamespace, conversation.Topic, encoded),
	})
	if err != nil {
		return fmt.Errorf("cache conversation %s: %w", conversation.Topic, err)
	}

	return nil
}

// CachedConversations returns every cached conversation record in topic order.
func CachedConversations(ctx context.Context, snapshot *Snapshot) ([]ConversationRecord, error) {
	if snapshot == nil {
		return nil, xmtpcache.ErrNotConfigured
	}
	table, err := snapshot.DB.Table(xmtpcache.ConversationsNamespace)
	if err != nil {
		return nil, fmt.Errorf("cached conversations: %w", err)
	}

	var records []ConversationRecord
	err = table.Scan(ctx, "", func(key string, value []byte) error {
		var record ConversationRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("decode conversation %s: %w", key, err)
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cached conversations: %w", err)
	}

	return records, nil
}
