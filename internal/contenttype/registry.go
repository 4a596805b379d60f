package contenttype

import (
	"fmt"
	"log/slog"
	"sort"

	"ex-xmtpcache/pkg/xmtpcache"
)

// Definition describes one configured content type entry.
type Definition struct {
	// Name selects the registered descriptor, for example "text".
	Name string
	// Enabled controls whether this definition contributes a configuration.
	Enabled bool
	// Config stores descriptor-specific JSON settings.
	Config []byte
}

// BuilderFunc builds one cache configuration from its JSON settings.
type BuilderFunc func(definition Definition, logger *slog.Logger) (xmtpcache.CacheConfiguration, error)

// Descriptor binds one content type name to its identity and builder.
type Descriptor struct {
	// Name is the token used in configuration files.
	Name string
	// ContentType is the content type every built configuration must declare.
	ContentType xmtpcache.ContentType
	// Builder constructs the cache configuration.
	Builder BuilderFunc
}

type registryEntry struct {
	contentType xmtpcache.ContentType
	builder     BuilderFunc
}

// Registry maps content type names to configuration builders.
type Registry struct {
	entries map[string]registryEntry
	names   []string
}

// NewRegistry creates one immutable registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Name == "" {
			return nil, fmt.Errorf("new registry: empty descriptor name")
		}
		if err := descriptor.ContentType.Validate(); err != nil {
			return nil, fmt.Errorf("new registry name %s: %w", descriptor.Name, err)
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry name %s: nil builder", descriptor.Name)
		}
		if _, exists := entries[descriptor.Name]; exists {
			return nil, fmt.Errorf("new registry name %s: duplicate", descriptor.Name)
		}

		entries[descriptor.Name] = registryEntry{
			contentType: descriptor.ContentType,
			builder:     descriptor.Builder,
		}
		names = append(names, descriptor.Name)
	}
	sort.Strings(names)

	return &Registry{
		entries: entries,
		names:   names,
	}, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	names := make([]string, len(r.names))
	copy(names, r.names)

	return names
}

// ContentTypeFor resolves one registered name to its content type.
func (r *Registry) ContentTypeFor(name string) (xmtpcache.ContentType, error) {
	if r == nil {
		return xmtpcache.ContentType{}, fmt.Errorf("resolve content type: nil registry")
	}

	entry, exists := r.entries[name]
	if !exists {
		return xmtpcache.ContentType{}, fmt.Errorf("unsupported content type name %s", name)
	}

	return entry.contentType, nil
}

// BuildEnabled builds the cache configurations of all enabled definitions in
// input order.
func (r *Registry) BuildEnabled(definitions []Definition, logger *slog.Logger) ([]xmtpcache.CacheConfiguration, error) {
	if r == nil {
		return nil, fmt.Errorf("build content types: nil registry")
	}
	if logger == nil {
		logger = slog.Default()
	}

	configs := make([]xmtpcache.CacheConfiguration, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build content type: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build content type %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		entry, exists := r.entries[definition.Name]
		if !exists {
			return nil, fmt.Errorf("build content type %s: unsupported name", definition.Name)
		}

		config, err := entry.builder(definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build content type %s: %w", definition.Name, err)
		}
		if config.ContentType != entry.contentType {
			return nil, fmt.Errorf(
				"build content type %s: built %s, want %s",
				definition.Name,
				config.ContentType,
				entry.contentType,
			)
		}

		configs = append(configs, config)
	}

	return configs, nil
}
