package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/poiesic/kbase"
	"github.com/poiesic/kbase/config"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/deletion"
	"github.com/poiesic/kbase/ingestion"
	"github.com/poiesic/kbase/reembed"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func open(c *cli.Context) (*kbase.KnowledgeBase, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	kb, err := kbase.Open(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	addr := kb.Config().HTTP.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	srv, err := kb.NewServer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := kb.Deletion().Resume(ctx); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Resumed %d deletions, some failed: %v\n", n, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return kb.Deletion().Run(ctx) })
	g.Go(func() error { return kb.Sweeper().Start(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	mgr := kb.Ingestion()
	session, err := mgr.CreateSession(c.Context, ingestion.CreateSessionRequest{
		OrganizationID: c.String("org"),
		AgentID:        c.String("agent"),
		FileName:       filepath.Base(path),
		FileType:       c.String("type"),
		FileSize:       info.Size(),
		SourceType:     "cli",
	})
	if err != nil {
		return err
	}
	if session, err = mgr.Process(c.Context, session.ID, f); err != nil {
		return err
	}
	if c.Bool("confirm") && session.Stage == core.StagePreviewReady {
		if session, err = mgr.Confirm(c.Context, session.ID); err != nil {
			return err
		}
	}
	return printJSON(c, session)
}

type sessionAction func(ctx context.Context, kb *kbase.KnowledgeBase, id string) (any, error)

func sessionCommand(action sessionAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return fmt.Errorf("session id is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		out, err := action(c.Context, kb, id)
		if err != nil {
			return err
		}
		return printJSON(c, out)
	}
}

func confirmSession(ctx context.Context, kb *kbase.KnowledgeBase, id string) (any, error) {
	s, err := kb.Ingestion().Confirm(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Status(), nil
}

func cancelSession(ctx context.Context, kb *kbase.KnowledgeBase, id string) (any, error) {
	s, err := kb.Ingestion().Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Status(), nil
}

func sessionStatus(ctx context.Context, kb *kbase.KnowledgeBase, id string) (any, error) {
	return kb.Ingestion().GetStatus(ctx, id)
}

func docsCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	docs, err := kb.Ingestion().ListDocuments(c.Context, c.String("agent"))
	if err != nil {
		return err
	}
	return printJSON(c, docs)
}

func deleteCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	req := deletion.EnqueueRequest{
		AgentID:        c.String("agent"),
		OrganizationID: c.String("org"),
		Type:           core.DeleteFullNamespace,
		RemoveAgent:    c.Bool("remove-agent"),
		RequestedBy:    c.String("requested-by"),
		Reason:         c.String("reason"),
	}
	switch {
	case c.IsSet("document") && c.Bool("orphans"):
		return fmt.Errorf("--document and --orphans are mutually exclusive")
	case c.IsSet("document"):
		req.Type = core.DeleteSpecificDocuments
		req.DocumentIDs = []string{c.String("document")}
	case c.Bool("orphans"):
		req.Type = core.DeleteCleanupOrphans
	}

	engine := kb.Deletion()
	entry, err := engine.Enqueue(c.Context, req)
	if err != nil {
		return err
	}
	if c.Bool("wait") {
		if err := engine.ProcessEntry(c.Context, entry.ID); err != nil {
			return err
		}
		if entry, err = engine.Get(c.Context, entry.ID); err != nil {
			return err
		}
	}
	return printJSON(c, entry)
}

func deletionsCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	status, err := kb.Deletion().GetStatus(c.Context, c.String("agent"))
	if err != nil {
		return err
	}
	return printJSON(c, status)
}

func statsCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.Metadata().GetStats(c.Context, c.String("agent"))
	if err != nil {
		return err
	}
	return printJSON(c, stats)
}

func sweepCommand(c *cli.Context) error {
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if name := c.String("name"); name != "" {
		n, err := kb.Sweeper().RunOnce(c.Context, name)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]int{name: n})
	}
	counts, err := kb.Sweep(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c, counts)
}

func searchCommand(c *cli.Context) error {
	query := c.Args().First()
	if query == "" {
		return fmt.Errorf("query is required")
	}
	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	results, err := kb.Searcher().Search(c.Context, c.String("agent"), query, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c, results)
}

func reindexCommand(c *cli.Context) error {
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Workers:        reembed.DefaultConfig().Workers,
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	kb, err := open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	r, err := kb.NewReembedder(cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", kb.Config().DataDir)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", kb.Config().AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", kb.Config().AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := r.Run(c.Context, c.String("agent")); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}
