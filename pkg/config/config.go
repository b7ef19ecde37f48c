// Package config loads the curator configuration.
//
// Settings are layered: built-in defaults, then a TOML file, then environment variables. The
// command line applies its flags on top of the result. Unknown keys in the file are not fatal;
// they are collected in WarningMsgs so the caller can log them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

// Config is the complete configuration of a curator process.
type Config struct {
	// Backend is one of surrealdb, postgres, mysql or memory.
	Backend   string          `toml:"backend"`
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
	SQL       SQLConfig       `toml:"sql"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Audit     AuditConfig     `toml:"audit"`

	// PollInterval is how often the SQL backends look for changes made by other processes.
	PollInterval time.Duration `toml:"poll-interval"`
	// RefreshAfterMove re-fetches a collection right after a move instead of waiting for the
	// subscription to deliver it.
	RefreshAfterMove bool `toml:"refresh-after-move"`
	// Collections restricts the curated collection types. Empty means all of them.
	Collections []string `toml:"collections"`

	WarningMsgs []string `toml:"-"`
}

type SurrealDBConfig struct {
	URL       string `toml:"url"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

type SQLConfig struct {
	DSN string `toml:"dsn"`
}

type ServerConfig struct {
	Port            string        `toml:"port"`
	ReadOnly        bool          `toml:"read-only"`
	ShutdownTimeout time.Duration `toml:"shutdown-timeout"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

type AuditConfig struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: constants.BackendSurrealDB,
		SurrealDB: SurrealDBConfig{
			URL:       constants.DefaultSurrealDBURL,
			Namespace: constants.DefaultNamespace,
			Database:  constants.DefaultDatabase,
		},
		Server: ServerConfig{
			Port:            constants.DefaultServerPort,
			ShutdownTimeout: constants.DefaultShutdownTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:  true,
			Interval: constants.DefaultAuditInterval,
		},
		PollInterval:     constants.DefaultPollInterval,
		RefreshAfterMove: true,
	}
}

// Load reads the file at path, when path is not empty, over the defaults and applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.configFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) configFromFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		c.WarningMsgs = append(c.WarningMsgs,
			fmt.Sprintf("config %s contains undefined items: %s", path, strings.Join(keys, ", ")))
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvBackend       = "CURATOR_BACKEND"
	EnvPort          = "CURATOR_PORT"
	EnvReadOnly      = "CURATOR_READ_ONLY"
	EnvLogLevel      = "CURATOR_LOG_LEVEL"
	EnvLogFile       = "CURATOR_LOG_FILE"
	EnvSQLDSN        = "CURATOR_SQL_DSN"
	EnvPollInterval  = "CURATOR_POLL_INTERVAL"
	EnvAuditInterval = "CURATOR_AUDIT_INTERVAL"
	EnvSurrealDBURL  = "SURREALDB_URL"
	EnvSurrealDBNS   = "SURREALDB_NS"
	EnvSurrealDBDB   = "SURREALDB_DB"
	EnvSurrealDBUser = "SURREALDB_USER"
	EnvSurrealDBPass = "SURREALDB_PASS"
)

// ApplyEnv overrides settings from environment variables. Empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	strs := map[string]*string{
		EnvBackend:       &c.Backend,
		EnvPort:          &c.Server.Port,
		EnvLogLevel:      &c.Log.Level,
		EnvLogFile:       &c.Log.File,
		EnvSQLDSN:        &c.SQL.DSN,
		EnvSurrealDBURL:  &c.SurrealDB.URL,
		EnvSurrealDBNS:   &c.SurrealDB.Namespace,
		EnvSurrealDBDB:   &c.SurrealDB.Database,
		EnvSurrealDBUser: &c.SurrealDB.Username,
		EnvSurrealDBPass: &c.SurrealDB.Password,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if v, ok := get(EnvReadOnly); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvReadOnly, err)
		}
		c.Server.ReadOnly = b
	}

	durations := map[string]*time.Duration{
		EnvPollInterval:  &c.PollInterval,
		EnvAuditInterval: &c.Audit.Interval,
	}
	for key, dst := range durations {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case constants.BackendSurrealDB:
		if c.SurrealDB.URL == "" {
			errs = append(errs, errors.New("surrealdb.url is required"))
		}
		if c.SurrealDB.Namespace == "" || c.SurrealDB.Database == "" {
			errs = append(errs, errors.New("surrealdb.namespace and surrealdb.database are required"))
		}
	case constants.BackendPostgres, constants.BackendMySQL:
		if c.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("sql.dsn is required for the %s backend", c.Backend))
		}
		if c.PollInterval <= 0 {
			errs = append(errs, errors.New("poll-interval must be positive"))
		}
	case constants.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port %q", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown-timeout must not be negative"))
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		errs = append(errs, errors.New("audit.interval must be positive when audit is enabled"))
	}
	if _, err := c.CollectionTypes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CollectionTypes returns the configured collection types, or every type when none is listed.
func (c *Config) CollectionTypes() ([]models.CollectionType, error) {
	if len(c.Collections) == 0 {
		return models.CollectionTypes(), nil
	}
	seen := make(map[models.CollectionType]bool, len(c.Collections))
	out := make([]models.CollectionType, 0, len(c.Collections))
	for _, name := range c.Collections {
		t, err := models.ParseCollectionType(name)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}
