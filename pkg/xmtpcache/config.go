package xmtpcache

import (
	"context"
	"fmt"
	"sort"
)

// ProcessorInput is everything a processor sees for one incoming message.
type ProcessorInput struct {
	// Message is the decoded message being cached.
	Message DecodedMessage
	// Namespace is the namespace resolved for the message content type.
	Namespace string
	// Namespaces is the full combined namespace table.
	Namespaces NamespaceMap
}

// Processor turns one incoming message into cache mutations.
//
// Processors must not write to storage directly. The returned mutations are
// applied by the database writer after every processor for the message ran.
type Processor func(ctx context.Context, input ProcessorInput) ([]Mutation, error)

// Validator reports whether decoded content is acceptable for caching.
type Validator func(content any) bool

// Mutation describes one cache write.
type Mutation struct {
	// Namespace is the target table.
	Namespace string
	// Key is the record key within the table.
	Key string
	// Value is the encoded record. Ignored for deletes.
	Value []byte
	// Delete removes Key instead of writing Value.
	Delete bool
}

// PutMutation builds a write of value under key in namespace.
func PutMutation(namespace, key string, value []byte) Mutation {
	return Mutation{Namespace: namespace, Key: key, Value: value}
}

// DeleteMutation builds a removal of key from namespace.
func DeleteMutation(namespace, key string) Mutation {
	return Mutation{Namespace: namespace, Key: key, Delete: true}
}

// Validate checks that the mutation addresses one record.
func (m Mutation) Validate() error {
	if m.Namespace == "" {
		return fmt.Errorf("validate mutation: missing namespace")
	}
	if m.Key == "" {
		return fmt.Errorf("validate mutation in %s: missing key", m.Namespace)
	}

	return nil
}

// CacheConfiguration bundles everything one feature module contributes to the cache.
type CacheConfiguration struct {
	// ContentType identifies the payload category this configuration handles.
	ContentType ContentType
	// Namespace is the table holding records for ContentType.
	Namespace string
	// Codec encodes and decodes ContentType payloads.
	Codec Codec
	// Processors run in order for every incoming ContentType message.
	Processors []Processor
	// Validator optionally rejects decoded content before processing.
	Validator Validator
}

// NamespaceMap maps each content type to its storage namespace.
type NamespaceMap map[ContentType]string

// Lookup returns the namespace for contentType.
func (m NamespaceMap) Lookup(contentType ContentType) (string, bool) {
	namespace, found := m[contentType]
	return namespace, found
}

// Namespaces returns the distinct namespace names in sorted order.
func (m NamespaceMap) Namespaces() []string {
	names := make([]string, 0, len(m))
	for _, namespace := range m {
		names = append(names, namespace)
	}
	sort.Strings(names)

	return names
}

// Owners returns the inverse table mapping each namespace to its content type.
func (m NamespaceMap) Owners() map[string]ContentType {
	owners := make(map[string]ContentType, len(m))
	for contentType, namespace := range m {
		owners[namespace] = contentType
	}

	return owners
}

// ProcessorMap maps each content type to its ordered processor sequence.
type ProcessorMap map[ContentType][]Processor

// ValidatorMap maps each content type to its content validators.
type ValidatorMap map[ContentType][]Validator

// Valid reports whether every validator registered for contentType accepts content.
func (m ValidatorMap) Valid(contentType ContentType, content any) bool {
	for _, validator := range m[contentType] {
		if !validator(content) {
			return false
		}
	}

	return true
}
