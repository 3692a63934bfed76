// Package badgerstore implements the record store on an embedded BadgerDB.
//
// Records of one namespace live under the key prefix "<namespace>/" followed
// by the 8-byte big-endian identifier, encoded as JSON objects. Transactions
// map onto Badger read-write transactions, whose serializable snapshot
// isolation detects optimistic conflicts at commit. Pessimistic transactions
// additionally hold striped key locks until they end, and read the latest
// committed value once the lock is theirs.
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5
	GCDiscardRatio float64

	// LockStripes is the number of key lock stripes shared by all namespaces.
	// Default: 256
	LockStripes int

	// LockWait bounds a lock acquisition when the caller has no deadline.
	// Default: 5s
	LockWait time.Duration

	// MaxConflictRetries bounds the retries of a standalone write that loses
	// a commit race.
	// Default: 8
	MaxConflictRetries int
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SyncWrites:         true,
		GCInterval:         5 * time.Minute,
		GCDiscardRatio:     0.5,
		LockStripes:        256,
		LockWait:           5 * time.Second,
		MaxConflictRetries: 8,
	}
}

// InMemoryConfig returns configuration for tests and throwaway servers.
func InMemoryConfig() Config {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	return cfg
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.LockStripes < 1 {
		c.LockStripes = d.LockStripes
	}
	if c.LockWait <= 0 {
		c.LockWait = d.LockWait
	}
	if c.MaxConflictRetries < 1 {
		c.MaxConflictRetries = d.MaxConflictRetries
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio > 1 {
		c.GCDiscardRatio = d.GCDiscardRatio
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an open BadgerDB shared by every Store built on it.
type DB struct {
	*badger.DB
	cfg    Config
	locks  *keyLocks
	stopGC chan struct{}
	gcDone chan struct{}
	logger *slog.Logger
}

// Open opens the database described by cfg and starts value log GC when configured.
// The caller must Close the DB on shutdown.
func Open(cfg Config) (*DB, error) {
	cfg.validate()
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{
		DB:     bdb,
		cfg:    cfg,
		locks:  newKeyLocks(cfg.LockStripes),
		logger: logger,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.stopGC = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.runGC()
	}
	return db, nil
}

func (d *DB) runGC() {
	defer close(d.gcDone)

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.RunValueLogGC(d.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops garbage collection and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.DB.Close()
}
