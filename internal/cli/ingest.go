package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"webrag/internal/adapter/fs"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Build a corpus from local files",
	Long: `Walk a file or directory, extract the text of every matching document
(markdown, plain text, HTML) and index it as the current corpus.

Files are selected with the documents.includes and documents.excludes
glob patterns from the config.

Examples:
  webrag ingest              # Ingest the project directory
  webrag ingest ./docs       # Ingest a subdirectory
  webrag ingest notes.md     # Ingest a single file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	path := GetRootDir()
	if len(args) > 0 {
		path = args[0]
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	docs, err := fs.LoadDir(fs.NewWalker(cfg.Documents.Includes, cfg.Documents.Excludes), fs.Reader{}, path)
	if err != nil {
		return err
	}
	fmt.Printf("Ingesting %d files from %s\n", len(docs), path)

	a, err := newApp(cfg, GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.IngestDocuments(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	printIngestReport(report)

	if report.Chunks == 0 {
		slog.Warn("no chunks produced, corpus not saved")
		return nil
	}
	if err := a.saveSnapshot(ctx); err != nil {
		return err
	}
	fmt.Printf("Corpus stored at: %s\n", cfg.SnapshotPath(GetRootDir()))
	return nil
}
