package contenttype

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ex-xmtpcache/modules/reaction"
	"ex-xmtpcache/modules/text"
	"ex-xmtpcache/pkg/xmtpcache"
)

const (
	// TextName selects the text content type.
	TextName = "text"
	// ReactionName selects the reaction content type.
	ReactionName = "reaction"
)

type textSettings struct {
	Namespace string `json:"namespace"`
	MaxLength int    `json:"max_length"`
}

type reactionSettings struct {
	Namespace string `json:"namespace"`
}

// NewBuiltinRegistry constructs the registry with all built-in content types.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Name:        TextName,
			ContentType: text.ContentType,
			Builder: func(definition Definition, logger *slog.Logger) (xmtpcache.CacheConfiguration, error) {
				var settings textSettings
				if err := decodeSettings(definition.Config, &settings); err != nil {
					return xmtpcache.CacheConfiguration{}, err
				}
				if settings.MaxLength < 0 {
					return xmtpcache.CacheConfiguration{}, fmt.Errorf("parse max_length: must be >= 0")
				}
				logger.Debug("content type configured",
					"name", definition.Name,
					"namespace", settings.Namespace,
					"max_length", settings.MaxLength,
				)

				return text.New(
					text.WithNamespace(strings.TrimSpace(settings.Namespace)),
					text.WithMaxLength(settings.MaxLength),
				).Configuration(), nil
			},
		},
		{
			Name:        ReactionName,
			ContentType: reaction.ContentType,
			Builder: func(definition Definition, logger *slog.Logger) (xmtpcache.CacheConfiguration, error) {
				var settings reactionSettings
				if err := decodeSettings(definition.Config, &settings); err != nil {
					return xmtpcache.CacheConfiguration{}, err
				}
				logger.Debug("content type configured",
					"name", definition.Name,
					"namespace", settings.Namespace,
				)

				return reaction.New(
					reaction.WithNamespace(strings.TrimSpace(settings.Namespace)),
				).Configuration(), nil
			},
		},
	})
}

// DefaultDefinitions enables every built-in content type with default settings.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: TextName, Enabled: true},
		{Name: ReactionName, Enabled: true},
	}
}

func decodeSettings(raw []byte, target any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	return nil
}
