// Package audit keeps a snapshot of every deleted document for a retention
// window before removing it for good.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

// DefaultPurgeBatch bounds how many records one purge transaction touches.
const DefaultPurgeBatch = 500

// ErrStoreRequired is returned when no store is provided.
var ErrStoreRequired = errors.New("store required")

// Log is the deleted-file audit log.
type Log struct {
	store      storage.Store
	clock      core.Clock
	retention  time.Duration
	purgeBatch int
	logger     *slog.Logger
}

// Option configures a Log.
type Option func(*Log) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// WithClock sets the time source.
func WithClock(clock core.Clock) Option {
	return func(l *Log) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		l.clock = clock
		return nil
	}
}

// WithRetention sets how long records stay before they are purged.
// Default is 30 days.
func WithRetention(d time.Duration) Option {
	return func(l *Log) error {
		if d <= 0 {
			return fmt.Errorf("retention must be positive, got %s", d)
		}
		l.retention = d
		return nil
	}
}

// WithPurgeBatch sets the purge transaction size.
func WithPurgeBatch(n int) Option {
	return func(l *Log) error {
		if n < 1 {
			return fmt.Errorf("purge batch must be at least 1, got %d", n)
		}
		l.purgeBatch = n
		return nil
	}
}

// NewLog creates an audit log over store.
func NewLog(store storage.Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	l := &Log{
		store:      store,
		clock:      core.SystemClock{},
		retention:  core.DefaultPurgeRetention,
		purgeBatch: DefaultPurgeBatch,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "audit")
	return l, nil
}

// Retention is the configured retention window.
func (l *Log) Retention() time.Duration { return l.retention }

// Snapshot builds the audit record for doc without storing it.
func (l *Log) Snapshot(doc *core.Document, deletedBy, reason string, now time.Time) *core.DeletedFileRecord {
	backup := map[string]string{
		"documentStatus": string(doc.Status),
		"ragNamespace":   doc.AgentID,
		"ragEntryCount":  strconv.Itoa(len(doc.RagEntryIDs)),
	}
	if doc.ErrorMessage != "" {
		backup["errorMessage"] = doc.ErrorMessage
	}
	return &core.DeletedFileRecord{
		ID:             core.NewULID(now),
		DocumentID:     doc.ID,
		OrganizationID: doc.OrganizationID,
		AgentID:        doc.AgentID,
		FileName:       doc.FileName,
		FileType:       doc.FileType,
		FileSize:       doc.FileSize,
		SourceType:     doc.SourceType,
		ChunkCount:     doc.ChunkCount,
		RagEntryIDs:    append([]string(nil), doc.RagEntryIDs...),
		UploadedAt:     doc.UploadedAt,
		ProcessedAt:    doc.ProcessedAt,
		DeletedBy:      deletedBy,
		DeletionReason: reason,
		DeletedAt:      now,
		BackupMetadata: backup,
		PurgeAt:        now.Add(l.retention),
	}
}

// RecordDeletion writes the audit record for doc within tx. It is called
// once per document inside the transaction that removes it.
func (l *Log) RecordDeletion(tx storage.Tx, doc *core.Document, deletedBy, reason string, now time.Time) (*core.DeletedFileRecord, error) {
	rec := l.Snapshot(doc, deletedBy, reason, now)
	if err := tx.Audit().Put(rec); err != nil {
		return nil, fmt.Errorf("write audit record for %s: %w", doc.ID, err)
	}
	return rec, nil
}

// PurgeExpired removes records whose retention has elapsed. Due records are
// first marked purged and committed, then physically deleted in a second
// transaction, so an interrupted purge is finished by the next run.
// It returns the number of records removed.
func (l *Log) PurgeExpired(ctx context.Context) (int, error) {
	now := l.clock.Now()
	total := 0
	for {
		var due []*core.DeletedFileRecord
		err := l.store.Update(ctx, func(tx storage.Tx) error {
			var err error
			due, err = tx.Audit().ListDue(now, l.purgeBatch)
			if err != nil {
				return err
			}
			for _, rec := range due {
				if rec.IsPurged {
					continue
				}
				rec.IsPurged = true
				rec.PurgedAt = now
				if err := tx.Audit().Put(rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("mark purged: %w", err)
		}
		if len(due) == 0 {
			break
		}

		err = l.store.Update(ctx, func(tx storage.Tx) error {
			for _, rec := range due {
				if err := tx.Audit().Delete(rec.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("delete purged: %w", err)
		}
		total += len(due)
		if len(due) < l.purgeBatch {
			break
		}
	}
	if total > 0 {
		l.logger.Info("purged deleted-file records", "count", total)
	}
	return total, nil
}

// List returns the agent's audit records ordered by id.
func (l *Log) List(ctx context.Context, agentID string) ([]*core.DeletedFileRecord, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	var out []*core.DeletedFileRecord
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.Audit().ListByAgent(agentID)
		return err
	})
	return out, err
}

// Get returns one record.
func (l *Log) Get(ctx context.Context, id string) (*core.DeletedFileRecord, error) {
	var rec *core.DeletedFileRecord
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.Audit().Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
