package text

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ex-xmtpcache/pkg/xmtpcache"
)

const (
	encodingParameter = "encoding"
	encodingUTF8      = "UTF-8"
)

// ContentType identifies plain text payloads.
var ContentType = xmtpcache.NewContentType("xmtp.org", "text", 1, 0)

// Codec encodes strings as UTF-8 bytes.
type Codec struct{}

// ContentType returns the text content type.
func (Codec) ContentType() xmtpcache.ContentType {
	return ContentType
}

// Encode encodes a string payload.
func (Codec) Encode(content any) (xmtpcache.EncodedContent, error) {
	text, ok := content.(string)
	if !ok {
		return xmtpcache.EncodedContent{}, fmt.Errorf("encode text: unsupported content %T", content)
	}

	return xmtpcache.EncodedContent{
		Type:       ContentType,
		Parameters: map[string]string{encodingParameter: encodingUTF8},
		Content:    []byte(text),
	}, nil
}

// Decode decodes a UTF-8 payload into a string.
func (Codec) Decode(encoded xmtpcache.EncodedContent) (any, error) {
	if encoding, exists := encoded.Parameters[encodingParameter]; exists && !strings.EqualFold(encoding, encodingUTF8) {
		return nil, fmt.Errorf("decode text: unrecognized encoding %q", encoding)
	}
	if !utf8.Valid(encoded.Content) {
		return nil, fmt.Errorf("decode text: invalid utf-8 payload")
	}

	return string(encoded.Content), nil
}

// Fallback reports no fallback since text is already readable.
func (Codec) Fallback(any) (string, bool) {
	return "", false
}
