package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/chunking"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/parsing"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/worker"
)

const (
	// DefaultMaxFileSize is the upload limit.
	DefaultMaxFileSize int64 = 50 << 20
	// DefaultMinChunkChars flags shorter chunks as low quality.
	DefaultMinChunkChars = 20

	expireBatch     = 100
	conflictRetries = 8
	previewExpired  = "preview expired"
)

// Parser extracts text from an upload of the given file type.
type Parser interface {
	Parse(ctx context.Context, fileType, name string, r io.Reader) (*parsing.Result, error)
}

// CreateSessionRequest describes a new upload.
type CreateSessionRequest struct {
	OrganizationID string
	AgentID        string
	FileName       string
	FileType       string
	FileSize       int64
	SourceType     string
}

// Manager owns ingestion sessions.
type Manager struct {
	store   storage.Store
	vectors vectorstore.Store
	meta    *agentmeta.Index
	parser  Parser
	chunker chunking.Chunker
	pool    *worker.Pool
	clock   core.Clock
	logger  *slog.Logger

	poolSize         int
	previewEnabled   bool
	previewOverrides map[string]bool
	previewTTL       time.Duration
	maxFileSize      int64
	allowedTypes     map[string]bool
	minChunkChars    int
	retry            worker.Policy
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithClock sets the time source.
func WithClock(clock core.Clock) Option {
	return func(m *Manager) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		m.clock = clock
		return nil
	}
}

// WithParser replaces the file parser used by Process.
func WithParser(p Parser) Option {
	return func(m *Manager) error {
		m.parser = p
		return nil
	}
}

// WithChunker replaces the chunker used by Process.
func WithChunker(c chunking.Chunker) Option {
	return func(m *Manager) error {
		m.chunker = c
		return nil
	}
}

// WithPoolSize sets how many chunks are embedded concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(m *Manager) error {
		m.poolSize = size
		return nil
	}
}

// WithPreview sets whether sessions stop at the preview gate by default.
// Default is true.
func WithPreview(enabled bool) Option {
	return func(m *Manager) error {
		m.previewEnabled = enabled
		return nil
	}
}

// WithPreviewOverride enables or disables the preview gate for one
// organization.
func WithPreviewOverride(orgID string, enabled bool) Option {
	return func(m *Manager) error {
		m.previewOverrides[orgID] = enabled
		return nil
	}
}

// WithPreviewTTL sets how long a preview waits for confirmation.
// Default is 24 hours.
func WithPreviewTTL(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("preview TTL must be positive, got %s", d)
		}
		m.previewTTL = d
		return nil
	}
}

// WithMaxFileSize sets the upload limit in bytes.
func WithMaxFileSize(n int64) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("max file size must be positive, got %d", n)
		}
		m.maxFileSize = n
		return nil
	}
}

// WithAllowedTypes restricts uploads to the given file types.
func WithAllowedTypes(types ...string) Option {
	return func(m *Manager) error {
		m.allowedTypes = make(map[string]bool, len(types))
		for _, t := range types {
			m.allowedTypes[parsing.NormalizeType(t)] = true
		}
		return nil
	}
}

// WithMinChunkChars sets the low-quality threshold.
func WithMinChunkChars(n int) Option {
	return func(m *Manager) error {
		m.minChunkChars = n
		return nil
	}
}

// WithRetryPolicy sets the retry policy for vector upserts.
func WithRetryPolicy(p worker.Policy) Option {
	return func(m *Manager) error {
		if p.MaxAttempts <= 0 {
			return worker.ErrInvalidMaxAttempts
		}
		m.retry = p
		return nil
	}
}

// NewManager creates an ingestion manager.
func NewManager(store storage.Store, vectors vectorstore.Store, meta *agentmeta.Index, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if meta == nil {
		return nil, ErrMetadataIndexRequired
	}

	m := &Manager{
		store:            store,
		vectors:          vectors,
		meta:             meta,
		clock:            core.SystemClock{},
		logger:           slog.Default(),
		poolSize:         worker.DefaultPoolSize(),
		previewEnabled:   true,
		previewOverrides: make(map[string]bool),
		previewTTL:       core.DefaultPreviewTTL,
		maxFileSize:      DefaultMaxFileSize,
		minChunkChars:    DefaultMinChunkChars,
		retry:            worker.DefaultPolicy,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "ingestion")
	if m.parser == nil {
		m.parser = parsing.NewRegistry(m.logger)
	}
	if m.chunker == nil {
		m.chunker = chunking.New(chunking.WithLogger(m.logger))
	}

	pool, err := worker.NewPool("embedding", m.poolSize, m.logger)
	if err != nil {
		return nil, err
	}
	m.pool = pool
	return m, nil
}

// Release stops the embedding pool.
func (m *Manager) Release() {
	if m.pool != nil {
		m.pool.Release()
	}
}

// PreviewEnabled reports whether orgID's sessions stop at the preview gate.
func (m *Manager) PreviewEnabled(orgID string) bool {
	if enabled, ok := m.previewOverrides[orgID]; ok {
		return enabled
	}
	return m.previewEnabled
}

// CreateSession validates an upload and starts a session in uploading.
func (m *Manager) CreateSession(ctx context.Context, req CreateSessionRequest) (*core.IngestionSession, error) {
	if err := core.ValidateID("organizationId", req.OrganizationID); err != nil {
		return nil, err
	}
	if err := core.ValidateID("agentId", req.AgentID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: fileName: %w", core.ErrInvalidInput, core.ErrEmptyField)
	}
	if req.FileSize <= 0 {
		return nil, fmt.Errorf("%w: file size must be positive, got %d", core.ErrInvalidInput, req.FileSize)
	}
	if req.FileSize > m.maxFileSize {
		return nil, fmt.Errorf("%w: file size %d exceeds limit %d", core.ErrInvalidInput, req.FileSize, m.maxFileSize)
	}
	fileType := parsing.NormalizeType(req.FileType)
	if fileType == "" {
		fileType = parsing.TypeFromName(req.FileName)
	}
	if m.allowedTypes != nil && !m.allowedTypes[fileType] {
		return nil, fmt.Errorf("%w: file type %q is not accepted", core.ErrInvalidInput, fileType)
	}
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = "upload"
	}

	now := m.clock.Now()
	session := &core.IngestionSession{
		ID:             core.NewSessionID(),
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		FileName:       req.FileName,
		FileType:       fileType,
		FileSize:       req.FileSize,
		SourceType:     sourceType,
		Stage:          core.StageUploading,
		Progress:       core.StageUploading.Progress(),
		CreatedAt:      now,
		UploadedAt:     now,
		UpdatedAt:      now,
	}
	err := m.store.Update(ctx, func(tx storage.Tx) error {
		return tx.Sessions().Put(session)
	})
	if err != nil {
		return nil, err
	}
	metrics.SessionTransition(string(core.StageUploading))
	m.logger.Info("session created", "session", session.ID, "agent", session.AgentID, "file", session.FileName)
	return session, nil
}

// AdvanceToParsing moves an uploaded session into parsing.
func (m *Manager) AdvanceToParsing(ctx context.Context, id string) (*core.IngestionSession, error) {
	return m.transition(ctx, id, core.StageParsing)
}

// AdvanceToChunking moves a parsed session into chunking.
func (m *Manager) AdvanceToChunking(ctx context.Context, id string) (*core.IngestionSession, error) {
	return m.transition(ctx, id, core.StageChunking)
}

// CompleteChunking attaches the chunker's output. With the preview gate on
// the session waits in preview_ready until confirmed or expired; otherwise
// the chunks are persisted and embedded immediately.
func (m *Manager) CompleteChunking(ctx context.Context, id string, chunks []core.PreviewChunk) (*core.IngestionSession, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Stage != core.StageChunking {
		return nil, fmt.Errorf("%w: session %s is %s, not chunking", core.ErrInvalidState, id, session.Stage)
	}
	if err := core.ValidatePreviewChunks(chunks); err != nil {
		return nil, m.failWith(ctx, id, err)
	}
	if !m.PreviewEnabled(session.OrganizationID) {
		return m.persistDirect(ctx, id, chunks)
	}

	err = m.update(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		now := m.clock.Now()
		if err := m.advance(session, core.StagePreviewReady, now); err != nil {
			return err
		}
		session.PreviewChunks = chunks
		session.ChunkCount = len(chunks)
		session.ExpiresAt = now.Add(m.previewTTL)
		return tx.Sessions().Put(session)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("preview ready", "session", id, "chunks", len(chunks), "expires", session.ExpiresAt)
	return session, nil
}

// Process drives a session from uploading through parsing and chunking
// using the configured parser and chunker, then completes chunking.
func (m *Manager) Process(ctx context.Context, id string, r io.Reader) (*core.IngestionSession, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Stage == core.StageUploading {
		if session, err = m.AdvanceToParsing(ctx, id); err != nil {
			return nil, err
		}
	}
	if session.Stage != core.StageParsing {
		return nil, fmt.Errorf("%w: session %s is %s, not parsing", core.ErrInvalidState, id, session.Stage)
	}

	start := time.Now()
	res, err := m.parser.Parse(ctx, session.FileType, session.FileName, r)
	metrics.CaptureDependency("parser", time.Since(start))
	if err != nil {
		kind := core.ErrExternalDependency
		if errors.Is(err, parsing.ErrUnsupportedType) {
			kind = core.ErrInvalidInput
		}
		return nil, m.failWith(ctx, id, fmt.Errorf("%w: parse: %w", kind, err))
	}

	if _, err = m.AdvanceToChunking(ctx, id); err != nil {
		return nil, err
	}
	start = time.Now()
	chunks, err := m.chunker.Chunk(ctx, res, chunking.Hints{FileType: session.FileType})
	metrics.CaptureDependency("chunker", time.Since(start))
	if err != nil {
		kind := core.ErrExternalDependency
		if errors.Is(err, chunking.ErrNoContent) || errors.Is(err, core.ErrInvalidInput) {
			kind = core.ErrInvalidInput
		}
		return nil, m.failWith(ctx, id, fmt.Errorf("%w: chunk: %w", kind, err))
	}
	return m.CompleteChunking(ctx, id, chunks)
}

// Confirm accepts a preview. The document and its chunks are written in one
// transaction and then embedded; see the package documentation for the
// failure behavior.
func (m *Manager) Confirm(ctx context.Context, id string) (*core.IngestionSession, error) {
	if err := core.ValidateID("sessionId", id); err != nil {
		return nil, err
	}
	confirmedAt := time.Now()

	var (
		session *core.IngestionSession
		doc     *core.Document
		chunks  []*core.Chunk
		expired bool
	)
	err := m.update(ctx, func(tx storage.Tx) error {
		var err error
		expired = false
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		if session.Stage == core.StageCancelled && session.ErrorMessage == previewExpired {
			expired = true
			return nil
		}
		if session.Stage != core.StagePreviewReady {
			return fmt.Errorf("%w: session %s is %s, not preview_ready", core.ErrInvalidState, id, session.Stage)
		}
		now := m.clock.Now()
		if now.After(session.ExpiresAt) {
			expired = true
			session.ErrorMessage = previewExpired
			if err := m.advance(session, core.StageCancelled, now); err != nil {
				return err
			}
			return tx.Sessions().Put(session)
		}

		meta, err := agentmeta.Load(tx, session.AgentID)
		if err != nil {
			return err
		}
		if meta.Status == core.AgentDeleting {
			return fmt.Errorf("%w: agent %s", core.ErrAgentDeleting, session.AgentID)
		}

		preview := session.PreviewChunks
		if err := m.advance(session, core.StageConfirming, now); err != nil {
			return err
		}
		doc, chunks, err = m.persistTx(tx, session, preview, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.logger.Info("confirm after preview expiry", "session", id)
		return session, fmt.Errorf("%w: session %s expired at %s", core.ErrExpiredSession, id, session.ExpiresAt)
	}

	session, err = m.embed(ctx, session, doc, chunks)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	metrics.ObserveConfirm(outcome, time.Since(confirmedAt))
	return session, err
}

// Cancel abandons a session waiting at the preview gate. Cancelling a
// cancelled session is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) (*core.IngestionSession, error) {
	if err := core.ValidateID("sessionId", id); err != nil {
		return nil, err
	}
	var session *core.IngestionSession
	err := m.update(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		switch session.Stage {
		case core.StageCancelled:
			return nil
		case core.StagePreviewReady, core.StageConfirming:
		default:
			return fmt.Errorf("%w: session %s is %s and cannot be cancelled", core.ErrInvalidState, id, session.Stage)
		}
		if err := m.advance(session, core.StageCancelled, m.clock.Now()); err != nil {
			return err
		}
		return tx.Sessions().Put(session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ExpireStale cancels every preview whose TTL has passed and returns how
// many were cancelled.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	total := 0
	for {
		n := 0
		err := m.update(ctx, func(tx storage.Tx) error {
			n = 0
			now := m.clock.Now()
			expired, err := tx.Sessions().ListExpired(now, expireBatch)
			if err != nil {
				return err
			}
			for _, s := range expired {
				if s.Stage != core.StagePreviewReady {
					continue
				}
				s.ErrorMessage = previewExpired
				if err := m.advance(s, core.StageCancelled, now); err != nil {
					return err
				}
				if err := tx.Sessions().Put(s); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < expireBatch {
			break
		}
	}
	if total > 0 {
		m.logger.Info("expired stale previews", "count", total)
	}
	return total, nil
}

// GetSession returns the full session including its preview.
func (m *Manager) GetSession(ctx context.Context, id string) (*core.IngestionSession, error) {
	if err := core.ValidateID("sessionId", id); err != nil {
		return nil, err
	}
	var session *core.IngestionSession
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetStatus returns the polling projection of a session.
func (m *Manager) GetStatus(ctx context.Context, id string) (core.SessionStatus, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return core.SessionStatus{}, err
	}
	return session.Status(), nil
}

// ListDocuments returns the agent's documents ordered by id.
func (m *Manager) ListDocuments(ctx context.Context, agentID string) ([]*core.Document, error) {
	if err := core.ValidateID("agentId", agentID); err != nil {
		return nil, err
	}
	var docs []*core.Document
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		docs, err = tx.Documents().ListByAgent(agentID)
		return err
	})
	return docs, err
}

// Fail records an external failure against a non-terminal session. Rows
// already persisted for the session are removed.
func (m *Manager) Fail(ctx context.Context, id string, cause error) (*core.IngestionSession, error) {
	if err := core.ValidateID("sessionId", id); err != nil {
		return nil, err
	}
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	var (
		session *core.IngestionSession
		removed []*core.Chunk
	)
	err := m.update(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		if session.Stage.IsTerminal() {
			return fmt.Errorf("%w: session %s already %s", core.ErrInvalidState, id, session.Stage)
		}
		now := m.clock.Now()
		if session.DocumentID != "" {
			removed, err = m.removeDocumentTx(tx, session, now)
			if err != nil {
				return err
			}
		}
		session.ErrorMessage = cause.Error()
		if err := m.advance(session, core.StageFailed, now); err != nil {
			return err
		}
		return tx.Sessions().Put(session)
	})
	if err != nil {
		return nil, err
	}
	m.deleteVectors(ctx, session.AgentID, removed)
	m.logger.Warn("session failed", "session", id, "err", cause)
	return session, nil
}

// failWith records cause on the session and returns it.
func (m *Manager) failWith(ctx context.Context, id string, cause error) error {
	if _, err := m.Fail(ctx, id, cause); err != nil {
		m.logger.Error("failed to record session failure", "session", id, "cause", cause, "err", err)
	}
	return cause
}

func (m *Manager) transition(ctx context.Context, id string, next core.Stage) (*core.IngestionSession, error) {
	if err := core.ValidateID("sessionId", id); err != nil {
		return nil, err
	}
	var session *core.IngestionSession
	err := m.update(ctx, func(tx storage.Tx) error {
		var err error
		session, err = tx.Sessions().Get(id)
		if err != nil {
			return err
		}
		if err := m.advance(session, next, m.clock.Now()); err != nil {
			return err
		}
		return tx.Sessions().Put(session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// advance applies a stage transition and counts it.
func (m *Manager) advance(s *core.IngestionSession, next core.Stage, now time.Time) error {
	if err := s.Transition(next, fixedClock(now)); err != nil {
		return err
	}
	metrics.SessionTransition(string(next))
	return nil
}

// update runs fn, rerunning it from fresh reads when a concurrent
// transaction wins. fn checks the stage it reads, so a session that really
// moved on fails there; running out of attempts is reported as an invalid
// state.
func (m *Manager) update(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for range conflictRetries {
		err = m.store.Update(ctx, fn)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		m.logger.Debug("transaction conflict, retrying")
	}
	return fmt.Errorf("%w: session kept changing concurrently: %w", core.ErrInvalidState, err)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }
