package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"webrag/internal/usecase"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the saved corpus and known URL counts",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <url>...",
	Short: "Remove URLs from the known URL store",
	Long: `Forget URLs recorded by earlier sessions so the next search may
return and crawl them again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(forgetCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	a, err := newApp(cfg, GetRootDir(), appOptions{withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.restoreSnapshot(ctx)
	if err != nil {
		return err
	}
	st := a.engine.Stats()
	known := a.knownCount(ctx)

	if statsJSON {
		return printJSON(struct {
			Engine    usecase.EngineStats `json:"engine"`
			CreatedAt time.Time           `json:"created_at"`
			KnownURLs int                 `json:"known_urls"`
		}{st, snap.CreatedAt, known})
	}

	fmt.Printf("Corpus:\n")
	fmt.Printf("  Session:     %s\n", st.SessionID)
	if st.Query != "" {
		fmt.Printf("  Query:       %s\n", st.Query)
	}
	fmt.Printf("  Created:     %s\n", snap.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Printf("  Profile:     %s (%s, dim %d)\n", st.Profile, st.Model, st.Dimension)
	fmt.Printf("  Chunks:      %d\n", st.Index.Chunks)
	fmt.Printf("  Sources:     %d\n", st.Index.Sources)
	if st.RerankModel != "" {
		fmt.Printf("  Reranker:    %s\n", st.RerankModel)
	}
	fmt.Printf("\nKnown URLs:    %d\n", known)
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if !cfg.Storage.RememberURLs {
		return fmt.Errorf("URLs are not remembered (storage.remember_urls is false)")
	}

	a, err := newApp(cfg, GetRootDir(), appOptions{withSearch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.urls.Forget(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("failed to forget urls: %w", err)
	}
	fmt.Printf("Forgot %d of %d URLs (%d remembered)\n", n, len(args), a.knownCount(cmd.Context()))
	return nil
}

func (a *app) knownCount(ctx context.Context) int {
	type counter interface {
		Count(ctx context.Context) (int, error)
	}
	c, ok := a.known.(counter)
	if !ok {
		return 0
	}
	n, err := c.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}
