package xmtpcache

import (
	"fmt"
	"sort"
)

// ConversationsNamespace is the table reserved for conversation metadata.
const ConversationsNamespace = "conversations"

// CombineCodecs merges configuration codecs into one list with one codec per content type.
//
// When two configurations declare a codec for the same content type, the later
// codec wins but keeps the position of the first declaration. Configurations
// without a codec contribute nothing.
func CombineCodecs(configs []CacheConfiguration) CodecList {
	combined := make(CodecList, 0, len(configs))
	positions := make(map[ContentType]int, len(configs))
	for _, config := range configs {
		if config.Codec == nil {
			continue
		}
		contentType := config.Codec.ContentType()
		if position, exists := positions[contentType]; exists {
			combined[position] = config.Codec
			continue
		}
		positions[contentType] = len(combined)
		combined = append(combined, config.Codec)
	}

	return combined
}

// CombineNamespaces merges configuration namespaces into one table.
//
// A content type declared twice keeps its last namespace. Two different content
// types resolving to the same namespace fail with a ConfigurationError, as does
// a configuration whose codec handles another content type.
func CombineNamespaces(configs []CacheConfiguration) (NamespaceMap, error) {
	combined := make(NamespaceMap, len(configs))
	for _, config := range configs {
		if err := config.ContentType.Validate(); err != nil {
			return nil, err
		}
		if err := validateNamespace(config.ContentType, config.Namespace); err != nil {
			return nil, err
		}
		if config.Codec != nil && config.Codec.ContentType() != config.ContentType {
			return nil, &ConfigurationError{
				ContentType: config.ContentType,
				Namespace:   config.Namespace,
				Cause:       fmt.Errorf("%w: codec handles %s", ErrInvalidContentType, config.Codec.ContentType()),
			}
		}
		combined[config.ContentType] = config.Namespace
	}

	owners := make(map[string]ContentType, len(combined))
	for _, contentType := range sortedContentTypes(combined) {
		namespace := combined[contentType]
		if owner, taken := owners[namespace]; taken {
			return nil, &ConfigurationError{
				ContentType: contentType,
				Namespace:   namespace,
				Cause:       fmt.Errorf("%w: already used by %s", ErrNamespaceCollision, owner),
			}
		}
		owners[namespace] = contentType
	}

	return combined, nil
}

// CombineMessageProcessors merges configuration processors per content type.
//
// Processors keep configuration input order, so processors of a later
// configuration run after those of an earlier one for the same content type.
func CombineMessageProcessors(configs []CacheConfiguration) ProcessorMap {
	combined := make(ProcessorMap, len(configs))
	for _, config := range configs {
		for _, processor := range config.Processors {
			if processor == nil {
				continue
			}
			combined[config.ContentType] = append(combined[config.ContentType], processor)
		}
	}

	return combined
}

// CombineValidators merges configuration validators per content type.
func CombineValidators(configs []CacheConfiguration) ValidatorMap {
	combined := make(ValidatorMap)
	for _, config := range configs {
		if config.Validator == nil {
			continue
		}
		combined[config.ContentType] = append(combined[config.ContentType], config.Validator)
	}

	return combined
}

func validateNamespace(contentType ContentType, namespace string) error {
	if namespace == "" {
		return &ConfigurationError{
			ContentType: contentType,
			Cause:       fmt.Errorf("%w: empty name", ErrInvalidNamespace),
		}
	}
	if namespace == ConversationsNamespace {
		return &ConfigurationError{
			ContentType: contentType,
			Namespace:   namespace,
			Cause:       fmt.Errorf("%w: reserved name", ErrInvalidNamespace),
		}
	}
	for _, r := range namespace {
		if !isNamespaceRune(r) {
			return &ConfigurationError{
				ContentType: contentType,
				Namespace:   namespace,
				Cause:       fmt.Errorf("%w: unsupported character %q", ErrInvalidNamespace, r),
			}
		}
	}

	return nil
}

func isNamespaceRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	default:
		return false
	}
}

// sortedContentTypes orders keys so collision errors name the same pair on every run.
func sortedContentTypes(namespaces NamespaceMap) []ContentType {
	types := make([]ContentType, 0, len(namespaces))
	for contentType := range namespaces {
		types = append(types, contentType)
	}
	sort.Slice(types, func(i, j int) bool {
		return types[i].String() < types[j].String()
	})

	return types
}
