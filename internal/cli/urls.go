package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"webrag/internal/domain"
	"webrag/internal/usecase"
)

var (
	urlsText     string
	urlsTarget   int
	urlsAttempts int
	urlsQuick    bool
	urlsBefore   string
	urlsAfter    string
	urlsBackend  string
	urlsRemember bool
	urlsJSON     bool
)

var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "Find URLs for a query without crawling them",
	Long: `Page through the search backend until enough URLs are found that are
neither remembered from earlier sessions nor excluded, and print them.

Examples:
  webrag urls -q "hnsw parameter tuning" --target 20
  webrag urls -q "release notes" --quick --json`,
	RunE: runURLs,
}

func init() {
	rootCmd.AddCommand(urlsCmd)
	urlsCmd.Flags().StringVarP(&urlsText, "query", "q", "", "search query (required)")
	urlsCmd.Flags().IntVar(&urlsTarget, "target", 0, "number of new URLs to collect (default from config)")
	urlsCmd.Flags().IntVar(&urlsAttempts, "attempts", 0, "maximum search pages (default from config)")
	urlsCmd.Flags().BoolVar(&urlsQuick, "quick", false, "fetch a single search page")
	urlsCmd.Flags().StringVar(&urlsBefore, "before", "", "only results before this date (YYYY-MM-DD)")
	urlsCmd.Flags().StringVar(&urlsAfter, "after", "", "only results after this date (YYYY-MM-DD)")
	urlsCmd.Flags().StringVar(&urlsBackend, "backend", "", "backend-specific engine selection")
	urlsCmd.Flags().BoolVar(&urlsRemember, "remember", false, "record the URLs so later sessions skip them")
	urlsCmd.Flags().BoolVar(&urlsJSON, "json", false, "output as JSON")
	urlsCmd.MarkFlagRequired("query")
}

func runURLs(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	query := strings.TrimSpace(urlsText)
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	a, err := newApp(cfg, GetRootDir(), appOptions{withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := usecase.AggregateRequest{
		Query:       query,
		TargetCount: firstPositive(urlsTarget, cfg.Search.TargetCount),
		MaxAttempts: firstPositive(urlsAttempts, cfg.Search.MaxAttempts),
		Before:      urlsBefore,
		After:       urlsAfter,
		Backend:     urlsBackend,
	}
	urls, stats, err := a.engine.FindURLs(ctx, req, urlsQuick, domain.NewSessionURLSet())
	if err != nil {
		return fmt.Errorf("url search failed: %w", err)
	}
	if urlsRemember {
		a.remember(ctx, urls)
	}

	if urlsJSON {
		return printJSON(struct {
			Query string             `json:"query"`
			URLs  []string           `json:"urls"`
			Stats usecase.DedupStats `json:"stats"`
		}{query, urls, stats})
	}

	if len(urls) == 0 {
		fmt.Println("No new URLs found.")
	} else {
		fmt.Printf("Found %d new URLs for: %s\n\n", len(urls), query)
		for i, u := range urls {
			fmt.Printf("%3d. %s\n", i+1, u)
		}
	}
	fmt.Println()
	printDedupStats(stats)
	return nil
}
