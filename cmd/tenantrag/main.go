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

	"github.com/poiesic/tenantrag/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tenantrag",
		Usage: "Multi-tenant document ingestion and question answering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   "tenantrag.yaml",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides storage.path)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); defaults to log.level",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Upload documents and index them",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{
						Name:  "document",
						Usage: "Document identifier (defaults to the file name; only valid with one file)",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for ingestion to finish",
						Value: true,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Answer a question from a tenant's documents",
				ArgsUsage: "QUESTION",
				Action:    queryCommand,
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of passages used as context (0 uses query.top_k)",
					},
					&cli.Float64Flag{
						Name:  "freshness-weight",
						Usage: "Freshness weight for this query (default query.freshness_weight)",
					},
					&cli.BoolFlag{
						Name:  "sources",
						Usage: "Print the passages used as context",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the state of ingestion tasks",
				ArgsUsage: "TASK_ID...",
				Action:    statusCommand,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel pending ingestion tasks",
				ArgsUsage: "TASK_ID...",
				Action:    cancelCommand,
			},
			{
				Name:   "documents",
				Usage:  "List a tenant's document versions",
				Action: documentsCommand,
				Flags:  []cli.Flag{tenantFlag()},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed a tenant's chunks and rebuild its index",
				Action: reindexCommand,
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Print plain progress lines instead of a progress bar",
					},
				},
			},
		},
	}
}

func tenantFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "Tenant identifier",
		Required: true,
	}
}

// setup loads the configuration and installs the default logger.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
		cfg.Storage.InMemory = false
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.Log.Level)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
