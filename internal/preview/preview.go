// Package preview loads the latest message of conversations for list views.
package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ex-xmtpcache/pkg/xmtpcache"

	"golang.org/x/sync/errgroup"
)

// MessageLister is the part of the messaging client previews need.
type MessageLister interface {
	Messages(ctx context.Context, topic string, options xmtpcache.ListMessagesOptions) ([]xmtpcache.Message, error)
}

// Preview summarizes one conversation by its latest message.
type Preview struct {
	Topic       string
	PeerAddress string
	CreatedAt   time.Time
	// Text is the readable rendering of the latest message, empty when none.
	Text string
	// LastMessageAt is the send time of the latest message, zero when none.
	LastMessageAt time.Time
	// Loaded reports whether the latest message lookup completed.
	Loaded bool
}

// Fetch loads the preview of one conversation.
func Fetch(
	ctx context.Context,
	lister MessageLister,
	codecs xmtpcache.CodecList,
	conversation xmtpcache.Conversation,
) (Preview, error) {
	if lister == nil {
		return Preview{}, fmt.Errorf("fetch preview: %w", xmtpcache.ErrNoClient)
	}
	if err := conversation.Validate(); err != nil {
		return Preview{}, fmt.Errorf("fetch preview: %w", err)
	}

	preview := Preview{
		Topic:       conversation.Topic,
		PeerAddress: conversation.PeerAddress,
		CreatedAt:   conversation.CreatedAt,
	}
	messages, err := lister.Messages(ctx, conversation.Topic, xmtpcache.ListMessagesOptions{
		Limit:     1,
		Direction: xmtpcache.SortDescending,
	})
	if err != nil {
		return preview, fmt.Errorf("fetch preview %s: %w", conversation.Topic, err)
	}

	preview.Loaded = true
	if len(messages) == 0 {
		return preview, nil
	}

	latest := messages[0]
	preview.LastMessageAt = latest.SentAt
	preview.Text = render(codecs, latest)

	return preview, nil
}

// FetchAll loads previews of conversations with at most workers lookups in
// flight. Results keep the input order. A failed lookup leaves its preview
// unloaded and is reported in the joined error.
func FetchAll(
	ctx context.Context,
	lister MessageLister,
	codecs xmtpcache.CodecList,
	conversations []xmtpcache.Conversation,
	workers int,
) ([]Preview, error) {
	if workers <= 0 {
		workers = 1
	}

	previews := make([]Preview, len(conversations))
	failures := make([]error, len(conversations))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for index, conversation := range conversations {
		index, conversation := index, conversation
		group.Go(func() error {
			preview, err := Fetch(groupCtx, lister, codecs, conversation)
			previews[index] = preview
			if err != nil && groupCtx.Err() == nil {
				failures[index] = err
				return nil
			}

			return err
		})
	}
	if err := group.Wait(); err != nil {
		return previews, fmt.Errorf("fetch previews: %w", err)
	}

	return previews, errors.Join(failures...)
}

func render(codecs xmtpcache.CodecList, message xmtpcache.Message) string {
	codec, exists := codecs.Lookup(message.ContentType())
	if !exists {
		return message.Encoded.Fallback
	}

	content, err := codec.Decode(message.Encoded)
	if err != nil {
		return message.Encoded.Fallback
	}
	if text, ok := content.(string); ok {
		return text
	}
	if fallback, ok := codec.Fallback(content); ok {
		return fallback
	}

	return message.Encoded.Fallback
}
