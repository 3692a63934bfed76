// Package config loads the service configuration from an optional YAML file
// and SOCIALGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/socialgraph/store"
	"github.com/jacentio/socialgraph/store/badgerstore"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Backend  string         `yaml:"backend"`
	Badger   BadgerConfig   `yaml:"badger"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Edges    EdgeConfig     `yaml:"edges"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the log level (DEBUG, INFO, WARN, ERROR) and format
// (text, json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// DynamoDBConfig configures the DynamoDB store. Endpoint is only set for
// local emulators.
type DynamoDBConfig struct {
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	Table          string        `yaml:"table"`
	SequenceTable  string        `yaml:"sequence_table"`
	LockTable      string        `yaml:"lock_table"`
	LockLease      time.Duration `yaml:"lock_lease"`
	MaxCASAttempts int           `yaml:"max_cas_attempts"`
	ScanSegments   int           `yaml:"scan_segments"`
}

// EdgeConfig configures friend edge transactions.
type EdgeConfig struct {
	TxTimeout time.Duration `yaml:"tx_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sc := store.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
		Backend: BackendBadger,
		Badger: BadgerConfig{
			Path:       "data/socialgraph",
			GCInterval: 5 * time.Minute,
		},
		DynamoDB: DynamoDBConfig{
			Region:         "us-east-1",
			Table:          sc.Table,
			SequenceTable:  sc.SequenceTable,
			LockTable:      sc.LockTable,
			LockLease:      sc.LockLease,
			MaxCASAttempts: sc.MaxCASAttempts,
			ScanSegments:   sc.ScanSegments,
		},
		Edges: EdgeConfig{
			TxTimeout: 5 * time.Second,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("SOCIALGRAPH_ADDRESS", &c.Server.Address)
	setString("SOCIALGRAPH_LOG_LEVEL", &c.Log.Level)
	setString("SOCIALGRAPH_LOG_FORMAT", &c.Log.Format)
	setString("SOCIALGRAPH_BACKEND", &c.Backend)

	setString("SOCIALGRAPH_BADGER_PATH", &c.Badger.Path)
	setBool("SOCIALGRAPH_BADGER_IN_MEMORY", &c.Badger.InMemory)
	setBool("SOCIALGRAPH_BADGER_SYNC_WRITES", &c.Badger.SyncWrites)

	setString("SOCIALGRAPH_DYNAMODB_REGION", &c.DynamoDB.Region)
	setString("SOCIALGRAPH_DYNAMODB_ENDPOINT", &c.DynamoDB.Endpoint)
	setString("SOCIALGRAPH_DYNAMODB_TABLE", &c.DynamoDB.Table)
	setString("SOCIALGRAPH_DYNAMODB_SEQUENCE_TABLE", &c.DynamoDB.SequenceTable)
	setString("SOCIALGRAPH_DYNAMODB_LOCK_TABLE", &c.DynamoDB.LockTable)
	setInt("SOCIALGRAPH_DYNAMODB_MAX_CAS_ATTEMPTS", &c.DynamoDB.MaxCASAttempts)
	setInt("SOCIALGRAPH_DYNAMODB_SCAN_SEGMENTS", &c.DynamoDB.ScanSegments)

	setDuration("SOCIALGRAPH_EDGE_TX_TIMEOUT", &c.Edges.TxTimeout)

	return errors.Join(errs...)
}

// Validate normalizes case-insensitive fields and rejects unusable values.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	c.Log.Level = strings.ToUpper(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	var errs []error
	switch c.Backend {
	case BackendBadger:
		if !c.Badger.InMemory && c.Badger.Path == "" {
			errs = append(errs, errors.New("badger.path is required unless badger.in_memory is set"))
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb.table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendBadger, BackendDynamoDB, c.Backend))
	}
	switch c.Log.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("log.level must be DEBUG, INFO, WARN or ERROR, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Edges.TxTimeout < 0 {
		errs = append(errs, errors.New("edges.tx_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreConfig returns the DynamoDB store configuration.
func (c *Config) StoreConfig() store.Config {
	sc := store.DefaultConfig()
	sc.Table = c.DynamoDB.Table
	sc.SequenceTable = c.DynamoDB.SequenceTable
	sc.LockTable = c.DynamoDB.LockTable
	sc.LockLease = c.DynamoDB.LockLease
	sc.MaxCASAttempts = c.DynamoDB.MaxCASAttempts
	sc.ScanSegments = c.DynamoDB.ScanSegments
	return sc
}

// BadgerStoreConfig returns the Badger store configuration.
func (c *Config) BadgerStoreConfig() badgerstore.Config {
	var bc badgerstore.Config
	if c.Badger.InMemory {
		bc = badgerstore.InMemoryConfig()
	} else {
		bc = badgerstore.DefaultConfig()
		bc.Path = c.Badger.Path
	}
	bc.SyncWrites = c.Badger.SyncWrites
	if c.Badger.GCInterval > 0 {
		bc.GCInterval = c.Badger.GCInterval
	}
	return bc
}
