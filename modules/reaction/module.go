package reaction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"
)

// DefaultNamespace is the table holding cached reactions.
const DefaultNamespace = "reactions"

// Option mutates reaction module configuration.
type Option func(*Module)

// WithNamespace overrides the table holding cached reactions.
func WithNamespace(namespace string) Option {
	return func(module *Module) {
		if namespace != "" {
			module.namespace = namespace
		}
	}
}

// Module contributes the reaction content type to the cache.
type Module struct {
	namespace string
}

// CachedReaction is the stored form of one active reaction.
type CachedReaction struct {
	Reference     string    `json:"reference"`
	SenderAddress string    `json:"sender_address"`
	Schema        Schema    `json:"schema"`
	Content       string    `json:"content"`
	MessageID     string    `json:"message_id"`
	SentAt        time.Time `json:"sent_at"`
}

// Scanner is the read surface of a cache table.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// New creates a reaction module.
func New(options ...Option) *Module {
	module := &Module{namespace: DefaultNamespace}
	for _, option := range options {
		option(module)
	}

	return module
}

// Configuration returns the cache configuration for reactions.
func (m *Module) Configuration() xmtpcache.CacheConfiguration {
	return xmtpcache.CacheConfiguration{
		ContentType: ContentType,
		Namespace:   m.namespace,
		Codec:       Codec{},
		Processors:  []xmtpcache.Processor{m.cacheReaction},
		Validator:   validate,
	}
}

func validate(content any) bool {
	reaction, err := asReaction(content)
	if err != nil {
		return false
	}

	return reaction.Validate() == nil
}

func (m *Module) cacheReaction(_ context.Context, input xmtpcache.ProcessorInput) ([]xmtpcache.Mutation, error) {
	reaction, err := asReaction(input.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("cache reaction %s: %w", input.Message.ID, err)
	}
	if err := reaction.Validate(); err != nil {
		return nil, fmt.Errorf("cache reaction %s: %w", input.Message.ID, err)
	}

	key := Key(reaction.Reference, input.Message.SenderAddress, reaction.Schema, reaction.Content)
	if reaction.Action == ActionRemoved {
		return []xmtpcache.Mutation{xmtpcache.DeleteMutation(input.Namespace, key)}, nil
	}

	encoded, err := json.Marshal(CachedReaction{
		Reference:     reaction.Reference,
		SenderAddress: input.Message.SenderAddress,
		Schema:        reaction.Schema,
		Content:       reaction.Content,
		MessageID:     input.Message.ID,
		SentAt:        input.Message.SentAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("cache reaction %s: %w", input.Message.ID, err)
	}

	return []xmtpcache.Mutation{xmtpcache.PutMutation(input.Namespace, key, encoded)}, nil
}

// Key identifies one sender's reaction to one message.
func Key(reference, sender string, schema Schema, content string) string {
	return ReferencePrefix(reference) +
		url.PathEscape(sender) + "/" +
		string(schema) + "/" +
		url.PathEscape(content)
}

// ReferencePrefix is the key prefix shared by every reaction to reference.
func ReferencePrefix(reference string) string {
	return url.PathEscape(reference) + "/"
}

// CachedReactions returns the active reactions to reference.
func CachedReactions(ctx context.Context, table Scanner, reference string) ([]CachedReaction, error) {
	var reactions []CachedReaction
	err := table.Scan(ctx, ReferencePrefix(reference), func(key string, value []byte) error {
		var reaction CachedReaction
		if err := json.Unmarshal(value, &reaction); err != nil {
			return fmt.Errorf("decode cached reaction %s: %w", key, err)
		}
		reactions = append(reactions, reaction)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cached reactions of %s: %w", reference, err)
	}

	return reactions, nil
}
