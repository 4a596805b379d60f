package xmtpcache

import (
	"fmt"
	"time"
)

// EncodedContent is the wire payload of one message before codec decoding.
type EncodedContent struct {
	// Type identifies which codec can decode Content.
	Type ContentType
	// Parameters carries codec-specific metadata such as text encoding.
	Parameters map[string]string
	// Fallback is an optional plain-text rendering for clients lacking the codec.
	Fallback string
	// Content is the raw encoded payload.
	Content []byte
}

// Clone returns a deep copy that does not share parameter or content storage.
func (e EncodedContent) Clone() EncodedContent {
	cloned := e
	if e.Parameters != nil {
		cloned.Parameters = make(map[string]string, len(e.Parameters))
		for key, value := range e.Parameters {
			cloned.Parameters[key] = value
		}
	}
	if e.Content != nil {
		cloned.Content = append([]byte(nil), e.Content...)
	}

	return cloned
}

// Conversation describes one conversation surfaced by the messaging client.
type Conversation struct {
	// Topic uniquely identifies the conversation.
	Topic string
	// PeerAddress is the wallet address of the other participant.
	PeerAddress string
	// CreatedAt records when the conversation started.
	CreatedAt time.Time
	// ConversationID is an optional application-defined conversation id.
	ConversationID string
	// Metadata carries optional application-defined conversation context.
	Metadata map[string]string
}

// Validate checks mandatory conversation fields.
func (c Conversation) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("validate conversation: missing topic")
	}

	return nil
}

// Message is one message fetched or streamed from the messaging client.
type Message struct {
	// ID uniquely identifies the message.
	ID string
	// ConversationTopic identifies the conversation containing the message.
	ConversationTopic string
	// SenderAddress is the wallet address of the author.
	SenderAddress string
	// SentAt records when the message was sent.
	SentAt time.Time
	// Encoded is the raw payload including its content type.
	Encoded EncodedContent
}

// ContentType returns the content type of the encoded payload.
func (m Message) ContentType() ContentType {
	return m.Encoded.Type
}

// Validate checks mandatory message fields.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("validate message: missing id")
	}
	if m.ConversationTopic == "" {
		return fmt.Errorf("validate message %s: missing conversation topic", m.ID)
	}
	if m.Encoded.Type.IsZero() {
		return fmt.Errorf("validate message %s: missing content type", m.ID)
	}

	return nil
}

// DecodedMessage pairs a message with its codec-decoded content.
type DecodedMessage struct {
	Message
	// Content is the decoded payload produced by the content type codec.
	Content any
}
