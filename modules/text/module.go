package text

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"
)

const (
	// DefaultNamespace is the table holding cached text messages.
	DefaultNamespace = "messages"
	sentAtKeyLayout  = "20060102T150405.000000000Z"
)

// Option mutates text module configuration.
type Option func(*Module)

// WithNamespace overrides the table holding cached text messages.
func WithNamespace(namespace string) Option {
	return func(module *Module) {
		if namespace != "" {
			module.namespace = namespace
		}
	}
}

// WithMaxLength rejects text longer than maxRunes runes before caching.
func WithMaxLength(maxRunes int) Option {
	return func(module *Module) {
		if maxRunes > 0 {
			module.maxRunes = maxRunes
		}
	}
}

// Module contributes the text content type to the cache.
type Module struct {
	namespace string
	maxRunes  int
}

// CachedMessage is the stored form of one text message.
type CachedMessage struct {
	ID                string    `json:"id"`
	ConversationTopic string    `json:"conversation_topic"`
	SenderAddress     string    `json:"sender_address"`
	SentAt            time.Time `json:"sent_at"`
	ContentType       string    `json:"content_type"`
	Content           string    `json:"content"`
}

// Scanner is the read surface of a cache table.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// New creates a text module.
func New(options ...Option) *Module {
	module := &Module{namespace: DefaultNamespace}
	for _, option := range options {
		option(module)
	}

	return module
}

// Configuration returns the cache configuration for text messages.
func (m *Module) Configuration() xmtpcache.CacheConfiguration {
	return xmtpcache.CacheConfiguration{
		ContentType: ContentType,
		Namespace:   m.namespace,
		Codec:       Codec{},
		Processors:  []xmtpcache.Processor{m.cacheMessage},
		Validator:   m.validate,
	}
}

func (m *Module) validate(content any) bool {
	text, ok := content.(string)
	if !ok {
		return false
	}

	return m.maxRunes == 0 || len([]rune(text)) <= m.maxRunes
}

func (m *Module) cacheMessage(_ context.Context, input xmtpcache.ProcessorInput) ([]xmtpcache.Mutation, error) {
	text, ok := input.Message.Content.(string)
	if !ok {
		return nil, fmt.Errorf("cache text message %s: unexpected content %T", input.Message.ID, input.Message.Content)
	}

	record := CachedMessage{
		ID:                input.Message.ID,
		ConversationTopic: input.Message.ConversationTopic,
		SenderAddress:     input.Message.SenderAddress,
		SentAt:            input.Message.SentAt.UTC(),
		ContentType:       input.Message.ContentType().String(),
		Content:           text,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("cache text message %s: %w", input.Message.ID, err)
	}

	return []xmtpcache.Mutation{
		xmtpcache.PutMutation(input.Namespace, MessageKey(input.Message.Message), encoded),
	}, nil
}

// MessageKey orders cached messages by conversation, then send time, then id.
func MessageKey(message xmtpcache.Message) string {
	return ConversationPrefix(message.ConversationTopic) +
		message.SentAt.UTC().Format(sentAtKeyLayout) + "/" + message.ID
}

// ConversationPrefix is the key prefix shared by every message of topic.
func ConversationPrefix(topic string) string {
	return url.PathEscape(topic) + "/"
}

// CachedMessages returns the cached text messages of topic, oldest first.
func CachedMessages(ctx context.Context, table Scanner, topic string) ([]CachedMessage, error) {
	var messages []CachedMessage
	err := table.Scan(ctx, ConversationPrefix(topic), func(key string, value []byte) error {
		var message CachedMessage
		if err := json.Unmarshal(value, &message); err != nil {
			return fmt.Errorf("decode cached message %s: %w", key, err)
		}
		messages = append(messages, message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cached messages of %s: %w", topic, err)
	}

	return messages, nil
}
