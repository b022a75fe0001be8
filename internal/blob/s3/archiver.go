package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tgcapital/signalvault/internal/domain"
)

// SignalArchiveStore is the read side the archiver needs from the signal
// store. The Postgres store satisfies it.
type SignalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SignalRecord, error)
}

// ExecutionArchiveStore is the read side the archiver needs from the
// execution store.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeExecution, error)
}

// AuditArchiveStore is the read side the archiver needs from the audit log.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver: aged records are serialized to
// JSONL and uploaded to blob storage. Deleting the archived rows from the
// primary store is a separate, explicit step taken after the upload has
// been verified. Used nonces are never archived or pruned.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	signals    SignalArchiveStore
	executions ExecutionArchiveStore
	auditRead  AuditArchiveStore
	audit      domain.AuditStore
}

// NewArchiver creates an ArchiveImpl over the given stores.
func NewArchiver(
	writer domain.BlobWriter,
	signals SignalArchiveStore,
	executions ExecutionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		signals:    signals,
		executions: executions,
		auditRead:  audit,
		audit:      audit,
	}
}

// ArchiveSignals uploads signal records posted before the cutoff to
// archive/signals/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.signals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals query: %w", err)
	}
	return upload(ctx, a, "signals", before, recs)
}

// ArchiveExecutions uploads executions settled before the cutoff to
// archive/executions/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	return upload(ctx, a, "executions", before, execs)
}

// ArchiveAudit uploads audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.auditRead.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return upload(ctx, a, "audit", before, entries)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the blob key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
