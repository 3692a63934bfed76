package store

import "time"

// Config holds configuration for the DynamoDB store.
type Config struct {
	// Table is the name of the record table (hash key "id", type N).
	// Default: "socialgraph_persons"
	Table string

	// SequenceTable is the name of the identifier sequence table (hash key "name", type S).
	// Default: "socialgraph_sequences"
	SequenceTable string

	// SequenceName is the counter row used by NextSequence.
	// Default: "person_id"
	SequenceName string

	// LockTable is the name of the lease table used by pessimistic transactions
	// (hash key "pk", type S).
	// Default: "socialgraph_locks"
	LockTable string

	// LockLease is how long a key lock survives its owner. Locks are released
	// explicitly on Close; the lease only matters after a crash.
	// Default: 30s
	LockLease time.Duration

	// LockWait bounds a single lock acquisition when the transaction has no timeout.
	// Default: 5s
	LockWait time.Duration

	// MaxCASAttempts bounds the compare-and-swap loop of standalone writes.
	// Default: 8
	MaxCASAttempts int

	// ScanSegments is the number of parallel segments used by Scan.
	// Default: 4, Max: 64
	ScanSegments int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:          "socialgraph_persons",
		SequenceTable:  "socialgraph_sequences",
		SequenceName:   "person_id",
		LockTable:      "socialgraph_locks",
		LockLease:      30 * time.Second,
		LockWait:       5 * time.Second,
		MaxCASAttempts: 8,
		ScanSegments:   4,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.SequenceTable == "" {
		c.SequenceTable = d.SequenceTable
	}
	if c.SequenceName == "" {
		c.SequenceName = d.SequenceName
	}
	if c.LockTable == "" {
		c.LockTable = d.LockTable
	}
	if c.LockLease <= 0 {
		c.LockLease = d.LockLease
	}
	if c.LockWait <= 0 {
		c.LockWait = d.LockWait
	}
	if c.MaxCASAttempts < 1 {
		c.MaxCASAttempts = d.MaxCASAttempts
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > 64 {
		c.ScanSegments = 64
	}
}
