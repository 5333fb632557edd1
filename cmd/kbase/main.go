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

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/kbase/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	agentFlag := &cli.StringFlag{
		Name:     "agent",
		Aliases:  []string{"a"},
		Usage:    "Agent id",
		Required: true,
	}
	orgFlag := &cli.StringFlag{
		Name:     "org",
		Aliases:  []string{"o"},
		Usage:    "Organization id",
		EnvVars:  []string{"KBASE_ORGANIZATION_ID"},
		Required: true,
	}

	return &cli.App{
		Name:  "kbase",
		Usage: "Per-agent knowledge base for document ingestion and retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "kbase.yaml",
				EnvVars: []string{"KBASE_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Environment files to load before reading configuration",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Path to the BadgerDB database directory (empty keeps data in memory)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the deletion worker and the sweeps",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Listen address (overrides http.addr)",
						EnvVars: []string{"KBASE_HTTP_ADDR"},
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Upload a file, parse and chunk it",
				ArgsUsage: "<file>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					agentFlag,
					orgFlag,
					&cli.StringFlag{
						Name:  "type",
						Usage: "File type (defaults to the file extension)",
					},
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "Confirm the preview immediately",
					},
				},
			},
			{
				Name:      "confirm",
				Usage:     "Confirm a previewed session",
				ArgsUsage: "<session-id>",
				Action:    sessionCommand(confirmSession),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a session",
				ArgsUsage: "<session-id>",
				Action:    sessionCommand(cancelSession),
			},
			{
				Name:      "status",
				Usage:     "Show the status of a session",
				ArgsUsage: "<session-id>",
				Action:    sessionCommand(sessionStatus),
			},
			{
				Name:   "docs",
				Usage:  "List an agent's documents",
				Action: docsCommand,
				Flags:  []cli.Flag{agentFlag},
			},
			{
				Name:   "delete",
				Usage:  "Delete a document, or the agent's whole namespace",
				Action: deleteCommand,
				Flags: []cli.Flag{
					agentFlag,
					orgFlag,
					&cli.StringFlag{
						Name:  "document",
						Usage: "Document id; without it the whole namespace is deleted",
					},
					&cli.BoolFlag{
						Name:  "remove-agent",
						Usage: "Retire the agent once its namespace is empty",
					},
					&cli.BoolFlag{
						Name:  "orphans",
						Usage: "Only remove chunks of missing or failed documents",
					},
					&cli.StringFlag{
						Name:    "requested-by",
						Usage:   "Recorded in the deletion audit log",
						Value:   "cli",
						EnvVars: []string{"USER"},
					},
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Recorded in the deletion audit log",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Process the deletion before returning",
						Value: true,
					},
				},
			},
			{
				Name:   "deletions",
				Usage:  "Show the deletion status of an agent",
				Action: deletionsCommand,
				Flags:  []cli.Flag{agentFlag},
			},
			{
				Name:   "stats",
				Usage:  "Show an agent's knowledge metadata",
				Action: statsCommand,
				Flags:  []cli.Flag{agentFlag},
			},
			{
				Name:   "sweep",
				Usage:  "Run maintenance sweeps once",
				Action: sweepCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Run only the named sweep",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search an agent's knowledge",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					agentFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild an agent's vectors with the configured embedder",
				Action: reindexCommand,
				Flags: []cli.Flag{
					agentFlag,
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

// setup loads configuration and installs the default logger.
func setup(c *cli.Context) error {
	if err := config.LoadEnvFiles(c.StringSlice("env-file")...); err != nil {
		return err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		return err
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = strings.ToLower(c.String("log-level"))
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(c.App.ErrWriter, opts)
	default:
		handler = slog.NewTextHandler(c.App.ErrWriter, opts)
	}
	slog.SetDefault(slog.New(handler))

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}
