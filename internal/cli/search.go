package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"webrag/internal/adapter/crawler"
	"webrag/internal/usecase"
)

var (
	searchText     string
	searchTopK     int
	searchTarget   int
	searchAttempts int
	searchQuick    bool
	searchBefore   string
	searchAfter    string
	searchBackend  string
	searchURLs     string
	searchJSON     bool
	searchNoRerank bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the web, build a corpus and retrieve from it",
	Long: `Find URLs that were not ingested in earlier sessions, crawl them,
index the readable text and run a two-stage retrieval for the query.

The corpus is saved so 'webrag query' can ask follow-up questions.

Examples:
  webrag search -q "vector database benchmarks"
  webrag search -q "go 1.24 release" --after 2025-01-01 --target 20
  webrag search -q "summarize these" --urls "https://a.example/x https://b.example/y"`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().IntVar(&searchTarget, "target", 0, "number of new URLs to collect (default from config)")
	searchCmd.Flags().IntVar(&searchAttempts, "attempts", 0, "maximum search pages (default from config)")
	searchCmd.Flags().BoolVar(&searchQuick, "quick", false, "fetch a single search page")
	searchCmd.Flags().StringVar(&searchBefore, "before", "", "only results before this date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchAfter, "after", "", "only results after this date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchBackend, "backend", "", "backend-specific engine selection")
	searchCmd.Flags().StringVar(&searchURLs, "urls", "", "crawl URLs found in this text instead of searching")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().BoolVar(&searchNoRerank, "no-rerank", false, "disable cross-encoder reranking")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	query := strings.TrimSpace(searchText)
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	a, err := newApp(cfg, GetRootDir(), appOptions{withSearch: true, withCrawl: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if searchNoRerank {
		a.engine.SetRerank(false)
	}
	if !searchJSON {
		a.crawler.SetProgress(crawlProgress())
	}

	req := usecase.IngestRequest{
		AggregateRequest: usecase.AggregateRequest{
			Query:       query,
			TargetCount: firstPositive(searchTarget, cfg.Search.TargetCount),
			MaxAttempts: firstPositive(searchAttempts, cfg.Search.MaxAttempts),
			Before:      searchBefore,
			After:       searchAfter,
			Backend:     searchBackend,
		},
		Quick: searchQuick,
	}
	if searchURLs != "" {
		req.URLs = crawler.ExtractURLs(searchURLs)
		if len(req.URLs) == 0 {
			return fmt.Errorf("no URLs found in --urls")
		}
	}

	ingest, err := a.engine.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("building corpus failed: %w", err)
	}
	a.remember(ctx, ingest.URLs)
	if !searchJSON {
		printIngestReport(ingest)
	}

	if ingest.Chunks > 0 {
		if err := a.saveSnapshot(ctx); err != nil {
			slog.Warn("corpus not saved", slog.Any("error", err))
		}
	}

	report, err := a.engine.Search(ctx, query, firstPositive(searchTopK, cfg.Retrieve.TopK))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printRetrieval(report, ingest, searchJSON)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
