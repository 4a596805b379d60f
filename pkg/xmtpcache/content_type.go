package xmtpcache

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ContentType identifies one category of message payload.
//
// ContentType is comparable and is used directly as a map key, so two values
// are the same content type only when every field matches.
type ContentType struct {
	// AuthorityID names the organization defining the content type, e.g. "xmtp.org".
	AuthorityID string
	// TypeID names the content type within its authority, e.g. "text".
	TypeID string
	// VersionMajor is the major payload format version.
	VersionMajor int
	// VersionMinor is the minor payload format version.
	VersionMinor int
}

// NewContentType builds a content type identifier.
func NewContentType(authorityID, typeID string, major, minor int) ContentType {
	return ContentType{
		AuthorityID:  authorityID,
		TypeID:       typeID,
		VersionMajor: major,
		VersionMinor: minor,
	}
}

// String renders the identifier as authority/type:major.minor.
func (c ContentType) String() string {
	return fmt.Sprintf("%s/%s:%d.%d", c.AuthorityID, c.TypeID, c.VersionMajor, c.VersionMinor)
}

// IsZero reports whether c is the zero identifier.
func (c ContentType) IsZero() bool {
	return c == ContentType{}
}

// SameType reports whether c and other name the same type regardless of version.
func (c ContentType) SameType(other ContentType) bool {
	return c.AuthorityID == other.AuthorityID && c.TypeID == other.TypeID
}

// Validate checks that the identifier can be rendered and parsed unambiguously.
func (c ContentType) Validate() error {
	if err := validateIdentifierPart("authority", c.AuthorityID); err != nil {
		return &ConfigurationError{ContentType: c, Cause: fmt.Errorf("%w: %w", ErrInvalidContentType, err)}
	}
	if err := validateIdentifierPart("type", c.TypeID); err != nil {
		return &ConfigurationError{ContentType: c, Cause: fmt.Errorf("%w: %w", ErrInvalidContentType, err)}
	}
	if c.VersionMajor < 0 || c.VersionMinor < 0 {
		return &ConfigurationError{
			ContentType: c,
			Cause:       fmt.Errorf("%w: negative version", ErrInvalidContentType),
		}
	}

	return nil
}

// ParseContentType parses the authority/type:major.minor form produced by String.
func ParseContentType(raw string) (ContentType, error) {
	trimmed := strings.TrimSpace(raw)
	authority, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return ContentType{}, fmt.Errorf("parse content type %q: %w: missing authority separator", raw, ErrInvalidContentType)
	}
	typeID, version, found := strings.Cut(rest, ":")
	if !found {
		return ContentType{}, fmt.Errorf("parse content type %q: %w: missing version separator", raw, ErrInvalidContentType)
	}
	rawMajor, rawMinor, found := strings.Cut(version, ".")
	if !found {
		return ContentType{}, fmt.Errorf("parse content type %q: %w: missing minor version", raw, ErrInvalidContentType)
	}

	major, err := strconv.Atoi(rawMajor)
	if err != nil {
		return ContentType{}, fmt.Errorf("parse content type %q major version: %w", raw, err)
	}
	minor, err := strconv.Atoi(rawMinor)
	if err != nil {
		return ContentType{}, fmt.Errorf("parse content type %q minor version: %w", raw, err)
	}

	parsed := NewContentType(authority, typeID, major, minor)
	if err := parsed.Validate(); err != nil {
		return ContentType{}, fmt.Errorf("parse content type %q: %w", raw, err)
	}

	return parsed, nil
}

func validateIdentifierPart(field, value string) error {
	if value == "" {
		return fmt.Errorf("empty %s", field)
	}
	for _, r := range value {
		if r == '/' || r == ':' || unicode.IsSpace(r) {
			return fmt.Errorf("%s %q contains reserved character %q", field, value, r)
		}
	}

	return nil
}
