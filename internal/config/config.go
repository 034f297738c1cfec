// Package config provides configuration management for the storage engine.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (key-derived names like DATABASE_CONNECTION_STRING, ARCHIVE_DIRECTORY)
// 3. Default values
//
// Import Path: eventcore.dev/eventcore/internal/config
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// identifierPattern matches the identifier regex spec §6 requires of
// store_name and schema_name.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,49}$`)

// Config is the root configuration structure.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// Backend selects which capability-interface implementation a
// composition root constructs (spec §9's "tagged-variant dispatch").
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// StoreConfig names and selects the backing store.
type StoreConfig struct {
	// Name matches ^[A-Za-z_][A-Za-z0-9_]{0,49}$ and namespaces tables.
	Name string `mapstructure:"name"`
	// Backend selects postgres (server-backed relational) or sqlite (embedded).
	Backend Backend `mapstructure:"backend"`
	// SchemaName matches the same identifier regex; only meaningful for
	// relational backends that support schemas (postgres).
	SchemaName string `mapstructure:"schema_name"`
}

// DatabaseConfig contains connection settings for the relational backend.
type DatabaseConfig struct {
	// ConnectionString is the backend-specific opaque connection string
	// (spec §6). For postgres it is a DSN; for sqlite it is a file path
	// ("" means in-memory, used by tests).
	ConnectionString string `mapstructure:"connection_string"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string.
// Priority: ConnectionString > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// ArchiveConfig contains cold-archive file settings.
type ArchiveConfig struct {
	// Directory is the filesystem path for NDJSON segment files; created
	// if missing. Required when any stream's retention_mode is not Default.
	Directory string `mapstructure:"directory"`
	// ReadBatchSize bounds read_all_forwards pagination ([1, 10_000]).
	ReadBatchSize int `mapstructure:"read_batch_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings for the periodic archive trigger.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	ArchiveInterval             time.Duration `mapstructure:"archive_interval"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	ArchivePoolSize int `mapstructure:"archive_pool_size"`
}

// Load reads configuration from file and environment variables.
// Environment variables without prefix (DATABASE_CONNECTION_STRING,
// ARCHIVE_DIRECTORY, etc.). Maps nested config: database.max_conns →
// DATABASE_MAX_CONNS.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eventcore")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration invariants spec §6 names.
func (c *Config) Validate() error {
	if !identifierPattern.MatchString(c.Store.Name) {
		return fmt.Errorf("store.name %q must match %s", c.Store.Name, identifierPattern.String())
	}
	if c.Store.Backend != BackendPostgres && c.Store.Backend != BackendSQLite {
		return fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, BackendPostgres, BackendSQLite)
	}
	if c.Store.SchemaName != "" && !identifierPattern.MatchString(c.Store.SchemaName) {
		return fmt.Errorf("store.schema_name %q must match %s", c.Store.SchemaName, identifierPattern.String())
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.name", "eventcore")
	v.SetDefault("store.backend", string(BackendPostgres))
	v.SetDefault("store.schema_name", "public")

	v.SetDefault("database.connection_string", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "eventcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "eventcore")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")

	v.SetDefault("archive.directory", "./archive")
	v.SetDefault("archive.read_batch_size", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("river.max_workers", 5)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.archive_interval", "5m")

	v.SetDefault("worker.archive_pool_size", 20)
}
