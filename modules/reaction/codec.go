package reaction

import (
	"encoding/json"
	"fmt"

	"ex-xmtpcache/pkg/xmtpcache"
)

// ContentType identifies reaction payloads.
var ContentType = xmtpcache.NewContentType("xmtp.org", "reaction", 1, 0)

// Action is whether a reaction was added or removed.
type Action string

const (
	// ActionAdded adds a reaction.
	ActionAdded Action = "added"
	// ActionRemoved removes a previously added reaction.
	ActionRemoved Action = "removed"
)

// Schema is how Content should be interpreted.
type Schema string

const (
	// SchemaUnicode is a unicode emoji.
	SchemaUnicode Schema = "unicode"
	// SchemaShortcode is an emoji shortcode such as ":smile:".
	SchemaShortcode Schema = "shortcode"
	// SchemaCustom is an application-defined reaction.
	SchemaCustom Schema = "custom"
)

// Reaction is the decoded reaction payload.
type Reaction struct {
	// Reference is the id of the message reacted to.
	Reference string `json:"reference"`
	// Action is added or removed.
	Action Action `json:"action"`
	// Schema describes Content.
	Schema Schema `json:"schema"`
	// Content is the reaction itself.
	Content string `json:"content"`
}

// Validate checks reaction fields.
func (r Reaction) Validate() error {
	if r.Reference == "" {
		return fmt.Errorf("validate reaction: missing reference")
	}
	switch r.Action {
	case ActionAdded, ActionRemoved:
	default:
		return fmt.Errorf("validate reaction: unsupported action %q", r.Action)
	}
	switch r.Schema {
	case SchemaUnicode, SchemaShortcode, SchemaCustom:
	default:
		return fmt.Errorf("validate reaction: unsupported schema %q", r.Schema)
	}
	if r.Content == "" {
		return fmt.Errorf("validate reaction: missing content")
	}

	return nil
}

// Codec encodes reactions as JSON.
type Codec struct{}

// ContentType returns the reaction content type.
func (Codec) ContentType() xmtpcache.ContentType {
	return ContentType
}

// Encode encodes a Reaction or *Reaction.
func (c Codec) Encode(content any) (xmtpcache.EncodedContent, error) {
	reaction, err := asReaction(content)
	if err != nil {
		return xmtpcache.EncodedContent{}, fmt.Errorf("encode reaction: %w", err)
	}

	payload, err := json.Marshal(reaction)
	if err != nil {
		return xmtpcache.EncodedContent{}, fmt.Errorf("encode reaction: %w", err)
	}
	fallback, _ := c.Fallback(reaction)

	return xmtpcache.EncodedContent{
		Type:     ContentType,
		Fallback: fallback,
		Content:  payload,
	}, nil
}

// Decode decodes a JSON reaction payload.
func (Codec) Decode(encoded xmtpcache.EncodedContent) (any, error) {
	var reaction Reaction
	if err := json.Unmarshal(encoded.Content, &reaction); err != nil {
		return nil, fmt.Errorf("decode reaction: %w", err)
	}

	return reaction, nil
}

// Fallback describes the reaction for clients without this codec.
func (Codec) Fallback(content any) (string, bool) {
	reaction, err := asReaction(content)
	if err != nil {
		return "", false
	}

	switch reaction.Action {
	case ActionAdded:
		return fmt.Sprintf("Reacted %q to an earlier message", reaction.Content), true
	case ActionRemoved:
		return fmt.Sprintf("Removed %q from an earlier message", reaction.Content), true
	default:
		return "", false
	}
}

func asReaction(content any) (Reaction, error) {
	switch typed := content.(type) {
	case Reaction:
		return typed, nil
	case *Reaction:
		if typed == nil {
			return Reaction{}, fmt.Errorf("nil reaction")
		}
		return *typed, nil
	default:
		return Reaction{}, fmt.Errorf("unsupported content %T", content)
	}
}
