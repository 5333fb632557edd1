// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kbase wires the knowledge base components from a configuration.
package kbase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/kbase/accesslog"
	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/ai/openai"
	"github.com/poiesic/kbase/audit"
	"github.com/poiesic/kbase/chunking"
	"github.com/poiesic/kbase/config"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/deletion"
	"github.com/poiesic/kbase/ingestion"
	"github.com/poiesic/kbase/parsing"
	"github.com/poiesic/kbase/reembed"
	"github.com/poiesic/kbase/search"
	"github.com/poiesic/kbase/server"
	"github.com/poiesic/kbase/storage"
	"github.com/poiesic/kbase/storage/badger"
	"github.com/poiesic/kbase/sweeper"
	"github.com/poiesic/kbase/vectorstore"
	"github.com/poiesic/kbase/vectorstore/memory"
	"github.com/poiesic/kbase/vectorstore/qdrant"
	"github.com/poiesic/kbase/worker"
	"github.com/redis/go-redis/v9"
)

// KnowledgeBase owns every component of one deployment.
type KnowledgeBase struct {
	cfg      *config.Config
	backend  *badger.Backend
	vectors  vectorstore.Store
	ownsVecs bool
	provider ai.AIProvider
	redis    *redis.Client
	logger   *slog.Logger

	meta      *agentmeta.Index
	audit     *audit.Log
	access    *accesslog.Log
	ingestion *ingestion.Manager
	deletion  *deletion.Engine
	searcher  *search.Searcher
	sweeper   *sweeper.Sweeper
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	clock    core.Clock
	embedder ai.Embedder
	vectors  vectorstore.Store
	redis    *redis.Client
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the system clock.
func WithClock(clock core.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithEmbedder replaces the OpenAI-compatible embedder.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithVectorStore bypasses vector store construction.
func WithVectorStore(v vectorstore.Store) Option {
	return func(o *options) { o.vectors = v }
}

// WithRedisClient uses client for the hot set instead of dialing cfg.Redis.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// Open validates cfg and builds the knowledge base. An empty DataDir keeps
// everything in memory.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*KnowledgeBase, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := &options{logger: slog.Default(), clock: core.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	kb := &KnowledgeBase{cfg: cfg, logger: o.logger.With("component", "kbase")}
	if err := kb.open(ctx, o); err != nil {
		if cerr := kb.Close(); cerr != nil {
			kb.logger.Error("error closing after failed open", "err", cerr)
		}
		return nil, err
	}
	return kb, nil
}

func (kb *KnowledgeBase) open(ctx context.Context, o *options) error {
	cfg := kb.cfg
	var err error
	kb.backend, err = badger.OpenBackendWithLogger(cfg.DataDir, cfg.DataDir == "", o.logger)
	if err != nil {
		return err
	}
	if kb.vectors, err = kb.openVectors(ctx, o); err != nil {
		return err
	}
	kb.ownsVecs = o.vectors == nil

	if kb.meta, err = agentmeta.NewIndex(kb.backend,
		agentmeta.WithLogger(o.logger),
		agentmeta.WithClock(o.clock),
		agentmeta.WithChunkKeysCacheSize(cfg.ChunkKeysCacheSize),
	); err != nil {
		return err
	}
	auditOpts := []audit.Option{audit.WithLogger(o.logger), audit.WithClock(o.clock)}
	if cfg.AuditRetention > 0 {
		auditOpts = append(auditOpts, audit.WithRetention(cfg.AuditRetention))
	}
	if kb.audit, err = audit.NewLog(kb.backend, auditOpts...); err != nil {
		return err
	}

	accessOpts := []accesslog.Option{accesslog.WithLogger(o.logger), accesslog.WithClock(o.clock)}
	kb.redis = o.redis
	if kb.redis == nil && cfg.Redis.Addr != "" {
		kb.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	if kb.redis != nil {
		accessOpts = append(accessOpts, accesslog.WithHotSet(accesslog.NewRedisHotSet(kb.redis, cfg.Redis.Prefix)))
	}
	if kb.access, err = accesslog.NewLog(kb.backend, accessOpts...); err != nil {
		return err
	}

	if kb.ingestion, err = kb.newIngestion(o); err != nil {
		return err
	}
	if kb.deletion, err = kb.newDeletion(o); err != nil {
		return err
	}
	searchOpts := []search.Option{search.WithLogger(o.logger)}
	if cfg.SearchMaxLimit > 0 {
		searchOpts = append(searchOpts, search.WithMaxLimit(cfg.SearchMaxLimit))
	}
	if kb.searcher, err = search.NewSearcher(kb.backend, kb.vectors, kb.meta, kb.access, searchOpts...); err != nil {
		return err
	}

	sweepOpts := []sweeper.Option{sweeper.WithLogger(o.logger), sweeper.WithClock(o.clock)}
	for _, sw := range []struct {
		name     string
		interval time.Duration
		fn       sweeper.Func
	}{
		{sweeper.ExpireSessions, cfg.Sweeps.ExpireSessions, kb.ingestion.ExpireStale},
		{sweeper.PurgeAudit, cfg.Sweeps.PurgeAudit, kb.audit.PurgeExpired},
		{sweeper.PruneAccessLog, cfg.Sweeps.PruneAccessLog, kb.access.PruneMissing},
		{sweeper.ResumeDeletions, cfg.Sweeps.ResumeDeletions, kb.deletion.Resume},
	} {
		if sw.interval > 0 {
			sweepOpts = append(sweepOpts, sweeper.WithSweep(sw.name, sw.interval, sw.fn))
		}
	}
	kb.sweeper, err = sweeper.New(kb.backend, sweepOpts...)
	return err
}

func (kb *KnowledgeBase) openVectors(ctx context.Context, o *options) (vectorstore.Store, error) {
	if o.vectors != nil {
		return o.vectors, nil
	}
	embedder := o.embedder
	if kb.cfg.VectorStore.Type == "qdrant" {
		if embedder == nil {
			provider, err := openai.NewProvider(&kb.cfg.AI)
			if err != nil {
				return nil, err
			}
			kb.provider = provider
			embedder = provider.Embedder()
		}
		return qdrant.New(ctx, kb.cfg.VectorStore.Qdrant, embedder, kb.cfg.AI.Dimensions, qdrant.WithLogger(o.logger))
	}
	if embedder != nil {
		return memory.New(memory.WithEmbedder(embedder)), nil
	}
	return memory.New(), nil
}

func (kb *KnowledgeBase) newIngestion(o *options) (*ingestion.Manager, error) {
	c := kb.cfg.Ingestion
	counter := chunking.WordTokens
	if c.TokenModel != "" {
		counter = chunking.ModelTokens(c.TokenModel)
	}
	opts := []ingestion.Option{
		ingestion.WithLogger(o.logger),
		ingestion.WithClock(o.clock),
		ingestion.WithParser(parsing.NewRegistry(o.logger)),
		ingestion.WithChunker(chunking.New(
			chunking.WithLogger(o.logger),
			chunking.WithChunkSize(c.ChunkSize),
			chunking.WithChunkOverlap(c.ChunkOverlap),
			chunking.WithTokenCounter(counter),
		)),
		ingestion.WithPreview(c.PreviewEnabled),
		ingestion.WithPreviewTTL(c.PreviewTTL),
		ingestion.WithMinChunkChars(c.MinChunkChars),
	}
	if c.MaxFileSize > 0 {
		opts = append(opts, ingestion.WithMaxFileSize(c.MaxFileSize))
	}
	if c.EmbedWorkers > 0 {
		opts = append(opts, ingestion.WithPoolSize(c.EmbedWorkers))
	}
	if len(c.AllowedTypes) > 0 {
		opts = append(opts, ingestion.WithAllowedTypes(c.AllowedTypes...))
	}
	for org, enabled := range c.PreviewOverrides {
		opts = append(opts, ingestion.WithPreviewOverride(org, enabled))
	}
	if kb.cfg.Deletion.MaxRetries > 0 {
		opts = append(opts, ingestion.WithRetryPolicy(kb.retryPolicy()))
	}
	return ingestion.NewManager(kb.backend, kb.vectors, kb.meta, opts...)
}

func (kb *KnowledgeBase) newDeletion(o *options) (*deletion.Engine, error) {
	c := kb.cfg.Deletion
	opts := []deletion.Option{
		deletion.WithLogger(o.logger),
		deletion.WithClock(o.clock),
		deletion.WithBatchSize(c.BatchSize),
		deletion.WithBatchRate(c.BatchesPerSecond, 1),
	}
	if c.Workers > 0 {
		opts = append(opts, deletion.WithPoolSize(c.Workers))
	}
	if c.PollInterval > 0 {
		opts = append(opts, deletion.WithPollInterval(c.PollInterval))
	}
	if c.MaxRetries > 0 {
		opts = append(opts, deletion.WithRetryPolicy(kb.retryPolicy()))
	}
	return deletion.NewEngine(kb.backend, kb.vectors, kb.meta, kb.audit, opts...)
}

func (kb *KnowledgeBase) retryPolicy() worker.Policy {
	p := worker.DefaultPolicy
	p.MaxAttempts = kb.cfg.Deletion.MaxRetries
	if kb.cfg.Deletion.RetryDelay > 0 {
		p.BaseDelay = kb.cfg.Deletion.RetryDelay
	}
	return p
}

// Close stops the worker pools and closes the stores.
func (kb *KnowledgeBase) Close() error {
	var errs []error
	if kb.ingestion != nil {
		kb.ingestion.Release()
	}
	if kb.deletion != nil {
		kb.deletion.Release()
	}
	if c, ok := kb.vectors.(io.Closer); ok && kb.ownsVecs {
		if err := c.Close(); err != nil {
			kb.logger.Error("error closing vector store", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.provider != nil {
		if err := kb.provider.Close(); err != nil {
			kb.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.redis != nil {
		if err := kb.redis.Close(); err != nil {
			kb.logger.Error("error closing redis client", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.backend != nil {
		if err := kb.backend.Close(); err != nil {
			kb.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the knowledge base was opened with.
func (kb *KnowledgeBase) Config() *config.Config { return kb.cfg }

func (kb *KnowledgeBase) Store() storage.Store           { return kb.backend }
func (kb *KnowledgeBase) VectorStore() vectorstore.Store { return kb.vectors }
func (kb *KnowledgeBase) Ingestion() *ingestion.Manager  { return kb.ingestion }
func (kb *KnowledgeBase) Deletion() *deletion.Engine     { return kb.deletion }
func (kb *KnowledgeBase) Metadata() *agentmeta.Index     { return kb.meta }
func (kb *KnowledgeBase) Audit() *audit.Log              { return kb.audit }
func (kb *KnowledgeBase) AccessLog() *accesslog.Log      { return kb.access }
func (kb *KnowledgeBase) Searcher() *search.Searcher     { return kb.searcher }
func (kb *KnowledgeBase) Sweeper() *sweeper.Sweeper      { return kb.sweeper }

// Sweep runs every configured sweep once.
func (kb *KnowledgeBase) Sweep(ctx context.Context) (map[string]int, error) {
	return kb.sweeper.RunAll(ctx)
}

// NewServer builds the HTTP API from the configured limits.
func (kb *KnowledgeBase) NewServer(opts ...server.Option) (*server.Server, error) {
	base := []server.Option{
		server.WithLogger(kb.logger),
		server.WithRateLimit(kb.cfg.HTTP.RequestsPerSecond, kb.cfg.HTTP.Burst),
	}
	if kb.cfg.HTTP.MaxUploadBytes > 0 {
		base = append(base, server.WithMaxUploadBytes(kb.cfg.HTTP.MaxUploadBytes))
	}
	return server.New(server.Services{
		Ingestion: kb.ingestion,
		Deletion:  kb.deletion,
		Metadata:  kb.meta,
		Search:    kb.searcher,
		Audit:     kb.audit,
	}, append(base, opts...)...)
}

// NewReembedder creates a reembedder over this knowledge base's stores.
func (kb *KnowledgeBase) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(kb.backend, kb.vectors, cfg, progress, kb.logger)
}
