package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"ex-xmtpcache/internal/cachedb"
	"ex-xmtpcache/internal/contenttype"
	"ex-xmtpcache/internal/kernel"
	"ex-xmtpcache/pkg/xmtpcache"

	"github.com/urfave/cli/v2"
)

const (
	envConfigFile           = "XMTPCACHE_CONFIG_FILE"
	defaultConfigFilePath   = "config/cache.json"
	alternateConfigFilePath = "bin/config/cache.json"
)

type appConfig struct {
	logLevel     slog.Level
	dbPath       string
	dbVersion    uint64
	contentTypes []contenttype.Definition
}

type fileConfig struct {
	LogLevel     string                 `json:"log_level"`
	DBPath       string                 `json:"db_path"`
	DBVersion    *uint64                `json:"db_version"`
	ContentTypes []fileContentTypeEntry `json:"content_types"`
}

type fileContentTypeEntry struct {
	Name    string          `json:"name"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path of the JSON config file",
		EnvVars: []string{envConfigFile},
	}
	dbPathFlag = &cli.StringFlag{
		Name:  "db-path",
		Usage: "override db_path from the config file",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of a table",
	}
	versionFlag = &cli.Uint64Flag{
		Name:  "schema-version",
		Usage: "override db_version from the config file",
	}
)

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newApp(os.Stdout).RunContext(ctx, args)
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "cachectl",
		Usage:     "inspect and migrate the local message cache",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags:     []cli.Flag{configFlag, dbPathFlag},
		Commands: []*cli.Command{
			{
				Name:  "inspect",
				Usage: "print the schema version, tables, and record counts without modifying the store",
				Flags: []cli.Flag{jsonFlag, versionFlag},
				Action: func(cliCtx *cli.Context) error {
					return inspectAction(cliCtx, stdout)
				},
			},
			{
				Name:  "migrate",
				Usage: "open the store at the configured version, creating missing tables",
				Flags: []cli.Flag{versionFlag},
				Action: func(cliCtx *cli.Context) error {
					return migrateAction(cliCtx, stdout)
				},
			},
		},
	}
}

func inspectAction(cliCtx *cli.Context, stdout io.Writer) error {
	cfg, logger, configs, err := prepare(cliCtx)
	if err != nil {
		return err
	}

	namespaces, err := xmtpcache.CombineNamespaces(configs)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	report, inspectErr := cachedb.Inspect(
		cliCtx.Context,
		cachedb.SchemaFromNamespaces(namespaces, cfg.dbVersion),
		cachedb.WithPath(cfg.dbPath),
		cachedb.WithLogger(logger),
	)
	if inspectErr != nil && report.Tables == nil {
		return fmt.Errorf("inspect: %w", inspectErr)
	}

	if cliCtx.Bool(jsonFlag.Name) {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("inspect encode report: %w", err)
		}
	} else if err := writeReport(stdout, report); err != nil {
		return fmt.Errorf("inspect write report: %w", err)
	}

	if inspectErr != nil {
		return fmt.Errorf("inspect: %w", inspectErr)
	}

	return nil
}

func migrateAction(cliCtx *cli.Context, stdout io.Writer) error {
	cfg, logger, configs, err := prepare(cliCtx)
	if err != nil {
		return err
	}

	provider := kernel.NewProvider(
		kernel.WithLogger(logger),
		kernel.WithDatabasePath(cfg.dbPath),
		kernel.WithDatabaseOptions(cachedb.WithSyncWrites(true)),
	)
	defer func() {
		if err := provider.Close(context.WithoutCancel(cliCtx.Context)); err != nil {
			logger.Warn("cache provider close failed", "error", err)
		}
	}()

	snapshot, err := provider.Configure(cliCtx.Context, configs, cfg.dbVersion)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	_, err = fmt.Fprintf(stdout, "version %d\ntables %s\n", snapshot.Version, strings.Join(snapshot.DB.Tables(), ","))
	if err != nil {
		return fmt.Errorf("migrate write summary: %w", err)
	}

	return nil
}

// prepare loads configuration, applies command line overrides, and builds the
// enabled cache configurations.
func prepare(cliCtx *cli.Context) (appConfig, *slog.Logger, []xmtpcache.CacheConfiguration, error) {
	registry, err := contenttype.NewBuiltinRegistry()
	if err != nil {
		return appConfig{}, nil, nil, fmt.Errorf("new builtin content type registry: %w", err)
	}

	cfg, err := loadConfig(cliCtx.String(configFlag.Name), registry)
	if err != nil {
		return appConfig{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath := strings.TrimSpace(cliCtx.String(dbPathFlag.Name)); dbPath != "" {
		cfg.dbPath = dbPath
	}
	if cliCtx.IsSet(versionFlag.Name) {
		cfg.dbVersion = cliCtx.Uint64(versionFlag.Name)
	}

	logger := slog.New(slog.NewJSONHandler(cliCtx.App.ErrWriter, &slog.HandlerOptions{Level: cfg.logLevel}))
	configs, err := registry.BuildEnabled(cfg.contentTypes, logger)
	if err != nil {
		return appConfig{}, nil, nil, fmt.Errorf("build content types: %w", err)
	}

	return cfg, logger, configs, nil
}

func loadConfig(explicitPath string, registry *contenttype.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicitPath string) (string, error) {
	if configFile := strings.TrimSpace(explicitPath); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:     slog.LevelInfo,
		dbVersion:    cachedb.DefaultVersion,
		contentTypes: contenttype.DefaultDefinitions(),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	cfg.dbPath = strings.TrimSpace(parsed.DBPath)
	if parsed.DBVersion != nil {
		if *parsed.DBVersion == 0 {
			return fmt.Errorf("parse db_version: must be > 0")
		}
		cfg.dbVersion = *parsed.DBVersion
	}

	if parsed.ContentTypes == nil {
		return nil
	}
	cfg.contentTypes = make([]contenttype.Definition, 0, len(parsed.ContentTypes))
	for _, entry := range parsed.ContentTypes {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.contentTypes = append(cfg.contentTypes, contenttype.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return nil
}

func validateAppConfig(cfg *appConfig, registry *contenttype.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil content type registry")
	}
	if cfg.dbPath == "" {
		return fmt.Errorf("db_path is required")
	}

	enabled := 0
	seen := make(map[string]struct{}, len(cfg.contentTypes))
	for _, definition := range cfg.contentTypes {
		if definition.Name == "" {
			return fmt.Errorf("content_types[].name is required")
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("content_types[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if _, err := registry.ContentTypeFor(definition.Name); err != nil {
			return fmt.Errorf("content_types[%s]: %w", definition.Name, err)
		}
		if definition.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled content type is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func writeReport(stdout io.Writer, report cachedb.Report) error {
	writer := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "version\t%d\n", report.Version)
	fmt.Fprintf(writer, "requested_version\t%d\n", report.RequestedVersion)
	fmt.Fprintf(writer, "migration_required\t%t\n", report.MigrationRequired())
	if len(report.Create) > 0 {
		fmt.Fprintf(writer, "create\t%s\n", strings.Join(report.Create, ","))
	}
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "TABLE\tOWNER\tRECORDS")
	for _, table := range report.Tables {
		owner := table.Owner
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\n", table.Name, owner, table.Records)
	}

	return writer.Flush()
}
