package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/tenantrag"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/query"
	"github.com/poiesic/tenantrag/reindex"
	"github.com/urfave/cli/v2"
)

// openEngine opens the engine described by the loaded configuration.
func openEngine(c *cli.Context) (*tenantrag.Engine, error) {
	cfg := loadedConfig(c)
	engine, err := tenantrag.Open("", tenantrag.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return engine, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func ingestCommand(c *cli.Context) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one file is required")
	}
	documentID := c.String("document")
	if documentID != "" && len(files) > 1 {
		return errors.New("--document can only be used with a single file")
	}
	tenant := core.TenantID(c.String("tenant"))

	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var tasks []*core.Task
	for _, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		id := documentID
		if id == "" {
			id = filepath.Base(path)
		}
		task, err := engine.Upload(ctx, tenant, id, filepath.Base(path), string(text))
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s v%d\t%s\n", task.ID, task.DocumentID, task.Version, task.State)
		tasks = append(tasks, task)
	}

	if !c.Bool("wait") {
		return nil
	}

	var failed int
	for _, task := range tasks {
		done, err := engine.WaitTask(ctx, task.ID)
		if err != nil {
			return err
		}
		switch {
		case done.State != core.TaskSucceeded:
			failed++
			fmt.Fprintf(c.App.Writer, "%s\t%s v%d\t%s: %s\n", done.ID, done.DocumentID, done.Version, done.State, done.LastError)
		case done.Result != nil:
			r := done.Result
			fmt.Fprintf(c.App.Writer, "%s\t%s v%d\t%s: %d chunks, %d indexed, %d skipped, %d superseded\n",
				done.ID, done.DocumentID, done.Version, done.State, r.Chunks, r.Indexed, r.Skipped, r.Superseded)
		default:
			fmt.Fprintf(c.App.Writer, "%s\t%s v%d\t%s\n", done.ID, done.DocumentID, done.Version, done.State)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(tasks))
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	if c.Int("top-k") < 0 {
		return errors.New("top-k must not be negative")
	}

	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var opts []query.QueryOption
	if c.IsSet("freshness-weight") {
		opts = append(opts, query.FreshnessWeight(c.Float64("freshness-weight")))
	}
	answer, err := engine.Query(ctx, core.TenantID(c.String("tenant")), question, c.Int("top-k"), opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, answer.Text)

	if c.Bool("sources") && len(answer.Sources) > 0 {
		fmt.Fprintln(c.App.Writer)
		for i, s := range answer.Sources {
			fmt.Fprintf(c.App.Writer, "[%d] %s v%d #%d (score %.3f)\n", i+1, s.DocumentID, s.Version, s.Sequence, s.Score)
		}
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return errors.New("at least one task ID is required")
	}

	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tATTEMPTS\tERROR")
	for _, id := range ids {
		status, err := engine.TaskStatus(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, status.State, status.AttemptCount, status.LastError)
	}
	return w.Flush()
}

func cancelCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return errors.New("at least one task ID is required")
	}

	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, id := range ids {
		task, err := engine.CancelTask(ctx, id)
		if err != nil {
			return fmt.Errorf("cancelling %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", task.ID, task.State)
	}
	return nil
}

func documentsCommand(c *cli.Context) error {
	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	docs, err := engine.Documents(ctx, core.TenantID(c.String("tenant")))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tVERSION\tSTATUS\tCHUNKS\tFAILED\tUPDATED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\n",
			d.ID, d.Version, d.Status, d.ChunkCount, d.FailedChunks, d.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func reindexCommand(c *cli.Context) error {
	tenant := core.TenantID(c.String("tenant"))

	ctx, cancel := commandContext()
	defer cancel()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var progress reindex.Progress = newBarProgress(c.App.ErrWriter, string(tenant))
	if c.Bool("no-progress") {
		progress = reindex.NewProgressTracker(c.App.ErrWriter, 100)
	}

	report, err := engine.Reindex(ctx, tenant, progress)
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Reindexed %d of %d chunks (%d rejected) in %s\n",
		report.Indexed, report.Chunks, report.Rejected, report.Elapsed.Round(time.Millisecond))
	return nil
}
