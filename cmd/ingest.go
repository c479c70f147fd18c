package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/ingest"
	"github.com/ziadkadry99/vaultsearch/internal/progress"
)

var ingestActor string

var ingestCmd = &cobra.Command{
	Use:   "ingest <glob>...",
	Short: "Encrypt, index and store records from CSV files",
	Long: `Reads every CSV file matching the given patterns (doublestar syntax, e.g.
"exports/**/*.csv") and submits each one to the ingestion queue, exactly as
an HTTP upload would: a CSV_UPLOAD_START block is written when the file is
queued and a CSV_UPLOAD block when its rows are stored. A file that fails to
store is rolled back entirely.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		files, err := expandGlobs(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files match %v", args)
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		actor := ingestActor
		if actor == "" {
			actor = defaultActor()
		}

		// One worker keeps files in order and their progress bars apart.
		queue := ingest.NewQueue(a.db, a.ingester, a.chain, 1, len(files), a.logger)

		var (
			jobs      []string
			reporters []progress.Reporter
		)
		for _, path := range files {
			id, rep, err := submitFile(cmd.Context(), a, queue, actor, path)
			if err != nil {
				queue.Close()
				return fmt.Errorf("%s: %w", path, err)
			}
			jobs = append(jobs, id)
			reporters = append(reporters, rep)
		}
		queue.Close()
		for _, rep := range reporters {
			rep.Finish()
		}

		var (
			total  ingest.Job
			failed []string
		)
		for i, id := range jobs {
			job, err := queue.Job(cmd.Context(), id)
			if err != nil {
				return err
			}
			total.Succeeded += job.Succeeded
			total.Failed += job.Failed
			total.Tokens += job.Tokens
			if job.Status == ingest.StatusFailed {
				failed = append(failed, fmt.Sprintf("%s: %s", files[i], job.Error))
			}
		}

		fmt.Printf("Ingested %d records (%d tokens) from %d files, %d rows rejected\n",
			total.Succeeded, total.Tokens, len(files), total.Failed)
		if len(failed) > 0 {
			return fmt.Errorf("%d files failed:\n  %s", len(failed), strings.Join(failed, "\n  "))
		}
		return nil
	},
}

// expandGlobs resolves each pattern against the filesystem and returns the
// sorted, deduplicated matches.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// submitFile parses path and queues it. The returned reporter is finished
// by the caller once the queue drains.
func submitFile(ctx context.Context, a *app, queue *ingest.Queue, actor, path string) (string, progress.Reporter, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	rows, parseErrs, err := ingest.ParseCSV(f)
	if err != nil {
		return "", nil, err
	}
	for _, pe := range parseErrs {
		a.logger.Warn("skipping malformed csv row", "file", path, "line", pe.Line, "error", pe.Err)
	}

	rep := progress.NewReporter("Encrypting " + filepath.Base(path))
	job, err := queue.Enqueue(ctx, ingest.Submission{
		Actor:    actor,
		Source:   path,
		Rows:     rows,
		Rejected: parseErrs,
		Progress: progress.Track(rep, "indexing"),
	})
	if err != nil {
		return "", nil, err
	}
	return job.ID, rep, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestActor, "as", "", "actor recorded on the ledger (defaults to the OS user)")
	rootCmd.AddCommand(ingestCmd)
}
