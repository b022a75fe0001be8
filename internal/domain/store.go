package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists validated signal records. Records may be archived and
// pruned; replay protection does not depend on them (see NonceStore).
type SignalStore interface {
	Insert(ctx context.Context, rec SignalRecord) error
	Get(ctx context.Context, id common.Hash) (SignalRecord, error)
	LoadAll(ctx context.Context) ([]SignalRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]SignalRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// NonceStore persists the permanent used-nonce set. Entries are never pruned,
// even after the originating signal has expired or been archived.
type NonceStore interface {
	Add(ctx context.Context, nonce common.Hash) error
	LoadAll(ctx context.Context) ([]common.Hash, error)
}

// ExecutionStore persists completed trade executions and the one-time-use
// executed markers.
type ExecutionStore interface {
	Insert(ctx context.Context, exec TradeExecution) error
	WasExecuted(ctx context.Context, signalID common.Hash) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]TradeExecution, error)
	LoadExecutedIDs(ctx context.Context) ([]common.Hash, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeExecution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LockManager provides distributed mutual exclusion for deployments running
// more than one vaultd replica against the same stores.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Archiver snapshots aged records to blob storage.
type Archiver interface {
	ArchiveSignals(ctx context.Context, before time.Time) (int64, error)
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
