package xmtpcache

import "fmt"

// Codec encodes and decodes payloads of one content type.
//
// Implementations must be concurrency-safe because decoding can run on
// several backfill workers at the same time.
type Codec interface {
	// ContentType returns the content type handled by this codec.
	ContentType() ContentType
	// Encode converts application content into an encoded payload.
	Encode(content any) (EncodedContent, error)
	// Decode converts an encoded payload back into application content.
	Decode(encoded EncodedContent) (any, error)
	// Fallback returns a plain-text rendering of content when one exists.
	Fallback(content any) (string, bool)
}

// CodecList is an ordered codec sequence holding one codec per content type.
type CodecList []Codec

// Lookup returns the codec registered for contentType.
func (l CodecList) Lookup(contentType ContentType) (Codec, bool) {
	for _, codec := range l {
		if codec.ContentType() == contentType {
			return codec, true
		}
	}

	return nil, false
}

// ContentTypes returns the content types covered by the list in list order.
func (l CodecList) ContentTypes() []ContentType {
	types := make([]ContentType, 0, len(l))
	for _, codec := range l {
		types = append(types, codec.ContentType())
	}

	return types
}

// Decode decodes a message with the codec registered for its content type.
func (l CodecList) Decode(message Message) (DecodedMessage, error) {
	codec, found := l.Lookup(message.ContentType())
	if !found {
		return DecodedMessage{}, fmt.Errorf("decode %s: %w", message.ContentType(), ErrCodecNotFound)
	}

	content, err := codec.Decode(message.Encoded)
	if err != nil {
		return DecodedMessage{}, fmt.Errorf("decode %s: %w", message.ContentType(), err)
	}

	return DecodedMessage{Message: message, Content: content}, nil
}
