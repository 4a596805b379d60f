package xmtpcache

import (
	"context"
	"time"
)

// SortDirection orders message listings by send time.
type SortDirection string

const (
	// SortAscending lists oldest messages first.
	SortAscending SortDirection = "ascending"
	// SortDescending lists newest messages first.
	SortDescending SortDirection = "descending"
)

// ListMessagesOptions narrows one conversation message listing.
type ListMessagesOptions struct {
	// Limit caps the number of returned messages. Zero means no limit.
	Limit int
	// Direction orders the listing. Empty means ascending.
	Direction SortDirection
	// StartTime excludes messages sent before it when non-zero.
	StartTime time.Time
	// EndTime excludes messages sent after it when non-zero.
	EndTime time.Time
}

// MessageStream yields live messages until closed.
type MessageStream interface {
	// Next blocks for the next message. It returns io.EOF once the stream ends.
	Next(ctx context.Context) (Message, error)
	// Close releases the stream.
	Close() error
}

// Client is the wrapped messaging client consumed by the cache.
//
// The cache never talks to the network itself; every conversation and message
// it sees comes through this interface.
type Client interface {
	// Address returns the wallet address the client is authenticated as.
	Address() string
	// Conversations lists every conversation visible to the client.
	Conversations(ctx context.Context) ([]Conversation, error)
	// Messages lists messages of one conversation.
	Messages(ctx context.Context, topic string, options ListMessagesOptions) ([]Message, error)
	// StreamAllMessages opens a live stream across all conversations.
	StreamAllMessages(ctx context.Context) (MessageStream, error)
	// Send publishes encoded content into one conversation.
	Send(ctx context.Context, topic string, content EncodedContent) (Message, error)
}

// Signer is the wallet associated with a client.
type Signer interface {
	// Address returns the wallet address.
	Address(ctx context.Context) (string, error)
	// SignMessage signs an arbitrary message with the wallet key.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}
