package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryText     string
	queryTopK     int
	queryJSON     bool
	queryNoRerank bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the last saved corpus",
	Long: `Run a two-stage retrieval against the corpus saved by the last
'webrag search' or 'webrag ingest', without searching or crawling again.

Examples:
  webrag query -q "how does the scheduler steal work"
  webrag query -q "benchmarks" --top-k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "disable cross-encoder reranking")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	query := strings.TrimSpace(queryText)
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	a, err := newApp(cfg, GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if queryNoRerank {
		a.engine.SetRerank(false)
	}

	snap, err := a.restoreSnapshot(ctx)
	if err != nil {
		return err
	}
	if !queryJSON && snap.Query != "" {
		fmt.Printf("Corpus from: %q (%d chunks, %s)\n\n", snap.Query, len(snap.Chunks), snap.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	report, err := a.engine.Search(ctx, query, firstPositive(queryTopK, cfg.Retrieve.TopK))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printRetrieval(report, nil, queryJSON)
}
