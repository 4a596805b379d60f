package xmtpcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidContentType indicates a content type identifier that fails validation.
	ErrInvalidContentType = errors.New("xmtpcache: invalid content type")
	// ErrInvalidNamespace indicates a namespace name that cannot back a cache table.
	ErrInvalidNamespace = errors.New("xmtpcache: invalid namespace")
	// ErrNamespaceCollision indicates two content types resolving to the same namespace.
	ErrNamespaceCollision = errors.New("xmtpcache: namespace collision")
	// ErrSchemaDowngrade indicates a version downgrade against incompatible tables.
	ErrSchemaDowngrade = errors.New("xmtpcache: incompatible schema downgrade")
	// ErrSchemaConflict indicates a table owned by another content type.
	ErrSchemaConflict = errors.New("xmtpcache: schema conflict")
	// ErrSchemaVersionRequired indicates new tables requested without a version bump.
	ErrSchemaVersionRequired = errors.New("xmtpcache: schema change requires version bump")
	// ErrUnknownTable indicates access to a table that is not part of the open schema.
	ErrUnknownTable = errors.New("xmtpcache: unknown table")
	// ErrCodecNotFound indicates a message whose content type has no registered codec.
	ErrCodecNotFound = errors.New("xmtpcache: codec not found")
	// ErrInvalidContent indicates decoded content rejected by a content validator.
	ErrInvalidContent = errors.New("xmtpcache: invalid content")
	// ErrClosed indicates use of a closed provider, database, or writer.
	ErrClosed = errors.New("xmtpcache: closed")
	// ErrSuperseded indicates a configuration result discarded for a newer one.
	ErrSuperseded = errors.New("xmtpcache: configuration superseded")
	// ErrNotConfigured indicates use of a provider before its first configuration.
	ErrNotConfigured = errors.New("xmtpcache: provider not configured")
	// ErrNoClient indicates an operation that requires a client before one is set.
	ErrNoClient = errors.New("xmtpcache: no client")
)

// ConfigurationError reports a cache configuration set that cannot be combined.
type ConfigurationError struct {
	// ContentType identifies the offending configuration when known.
	ContentType ContentType
	// Namespace identifies the offending namespace when known.
	Namespace string
	// Cause is the wrapped sentinel or detail error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return formatScopedError("configuration error", e.ContentType, e.Namespace, e.Cause)
}

// Unwrap returns the wrapped root cause.
func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// SchemaError reports a cache database schema that cannot be opened as requested.
type SchemaError struct {
	// Table identifies the offending table when known.
	Table string
	// PersistedVersion is the version recorded in the store.
	PersistedVersion uint64
	// RequestedVersion is the version the caller asked for.
	RequestedVersion uint64
	// Cause is the wrapped sentinel or detail error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *SchemaError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := []string{
		fmt.Sprintf("persisted_version=%d", e.PersistedVersion),
		fmt.Sprintf("requested_version=%d", e.RequestedVersion),
	}
	if e.Table != "" {
		fields = append(fields, "table="+e.Table)
	}
	summary := "schema error: " + strings.Join(fields, " ")
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *SchemaError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// ProcessorError reports one processor failing on one message.
type ProcessorError struct {
	// ContentType is the content type whose processor failed.
	ContentType ContentType
	// Index is the processor position within the combined processor sequence.
	Index int
	// MessageID identifies the message being processed.
	MessageID string
	// Cause is the processor error or recovered panic.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *ProcessorError) Error() string {
	if e == nil {
		return "<nil>"
	}

	summary := fmt.Sprintf(
		"processor error: content_type=%s index=%d message_id=%s",
		e.ContentType,
		e.Index,
		e.MessageID,
	)
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *ProcessorError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsConfigurationError extracts one ConfigurationError from wrapped error chains.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var configErr *ConfigurationError
	if err != nil && errors.As(err, &configErr) {
		return configErr, true
	}

	return nil, false
}

// AsSchemaError extracts one SchemaError from wrapped error chains.
func AsSchemaError(err error) (*SchemaError, bool) {
	var schemaErr *SchemaError
	if err != nil && errors.As(err, &schemaErr) {
		return schemaErr, true
	}

	return nil, false
}

// ProcessorErrors flattens joined errors and returns every ProcessorError found.
func ProcessorErrors(err error) []*ProcessorError {
	if err == nil {
		return nil
	}

	var found []*ProcessorError
	var walk func(error)
	walk = func(current error) {
		if current == nil {
			return
		}
		if processorErr, ok := current.(*ProcessorError); ok {
			found = append(found, processorErr)
			return
		}
		switch unwrapped := current.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range unwrapped.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(unwrapped.Unwrap())
		}
	}
	walk(err)

	return found
}

func formatScopedError(prefix string, contentType ContentType, namespace string, cause error) string {
	fields := make([]string, 0, 2)
	if !contentType.IsZero() {
		fields = append(fields, "content_type="+contentType.String())
	}
	if namespace != "" {
		fields = append(fields, "namespace="+namespace)
	}

	summary := prefix
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if cause == nil {
		return summary
	}

	return summary + ": " + cause.Error()
}
