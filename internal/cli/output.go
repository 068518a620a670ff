package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"webrag/internal/adapter/crawler"
	"webrag/internal/domain"
	"webrag/internal/usecase"
)

// maxDisplayText is how much of a chunk is printed per result.
const maxDisplayText = 500

// resultView is the JSON shape of one retrieval result.
type resultView struct {
	Rank           uint32  `json:"rank"`
	Source         string  `json:"source"`
	Title          string  `json:"title,omitempty"`
	ChunkIndex     uint32  `json:"chunk_index"`
	TotalChunks    uint32  `json:"total_chunks"`
	RetrievalScore float32 `json:"retrieval_score"`
	RerankScore    float32 `json:"rerank_score"`
	Reranked       bool    `json:"reranked"`
	Text           string  `json:"text"`
}

type retrievalView struct {
	Query     string                `json:"query"`
	State     string                `json:"state"`
	Reranked  bool                  `json:"reranked"`
	Degraded  bool                  `json:"degraded"`
	CacheHit  bool                  `json:"cache_hit"`
	ElapsedMS int64                 `json:"elapsed_ms"`
	Ingest    *usecase.IngestReport `json:"ingest,omitempty"`
	Results   []resultView          `json:"results"`
}

func toResultViews(results []domain.RankedResult) []resultView {
	out := make([]resultView, len(results))
	for i, r := range results {
		out[i] = resultView{
			Rank:           r.RankPosition,
			Source:         r.Chunk.SourceID,
			Title:          r.Chunk.Metadata[domain.MetaTitle],
			ChunkIndex:     r.Chunk.ChunkIndex,
			TotalChunks:    r.Chunk.TotalChunks,
			RetrievalScore: r.RetrievalScore,
			RerankScore:    r.RerankScore,
			Reranked:       r.Reranked,
			Text:           r.Chunk.Text,
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRetrieval(report *usecase.RetrievalReport, ingest *usecase.IngestReport, asJSON bool) error {
	if asJSON {
		return printJSON(retrievalView{
			Query:     report.Query,
			State:     report.State.String(),
			Reranked:  report.Reranked,
			Degraded:  report.Degraded,
			CacheHit:  report.CacheHit,
			ElapsedMS: report.Elapsed.Milliseconds(),
			Ingest:    ingest,
			Results:   toResultViews(report.Results),
		})
	}

	if report.Degraded {
		fmt.Println("Note: reranker unavailable, showing vector search order.")
	}
	if len(report.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s\n\n", len(report.Results), report.Query)
	for _, r := range report.Results {
		score := fmt.Sprintf("score: %.2f", r.RetrievalScore)
		if r.Reranked {
			score = fmt.Sprintf("rerank: %.2f, score: %.2f", r.RerankScore, r.RetrievalScore)
		}
		fmt.Printf("--- [%d] %s #%d/%d (%s) ---\n", r.RankPosition, r.Chunk.SourceID, r.Chunk.ChunkIndex+1, r.Chunk.TotalChunks, score)
		if title := r.Chunk.Metadata[domain.MetaTitle]; title != "" {
			fmt.Printf("%s\n", title)
		}
		fmt.Println(truncateRunes(r.Chunk.Text, maxDisplayText))
		fmt.Println()
	}
	return nil
}

func printIngestReport(report *usecase.IngestReport) {
	fmt.Printf("\nCorpus built:\n")
	if report.Search.Attempts > 0 {
		fmt.Printf("  Search pages:   %d (%d failed)\n", report.Search.Attempts, report.Search.FailedPages)
		fmt.Printf("  URLs found:     %d (%d duplicates, %d excluded)\n",
			report.Search.UniqueFound, report.Search.DuplicatesSkipped, report.Search.Excluded)
	}
	if len(report.URLs) > 0 {
		fmt.Printf("  Pages crawled:  %d (%d failed)\n", report.Crawled, report.Failed)
		fmt.Printf("  Too short:      %d\n", report.Filtered)
	}
	fmt.Printf("  Documents:      %d\n", report.Documents)
	fmt.Printf("  Chunks:         %d\n", report.Chunks)
	fmt.Printf("  Elapsed:        %s\n", formatDuration(report.Elapsed))

	if len(report.Failures) > 0 {
		fmt.Printf("\nWarnings:\n")
		for url, reason := range report.Failures {
			fmt.Printf("  - %s: %s\n", url, reason)
		}
	}
	fmt.Println()
}

func printDedupStats(stats usecase.DedupStats) {
	fmt.Printf("  Search pages:       %d (%d failed)\n", stats.Attempts, stats.FailedPages)
	fmt.Printf("  Results seen:       %d\n", stats.TotalFound)
	fmt.Printf("  Unique:             %d\n", stats.UniqueFound)
	fmt.Printf("  Known duplicates:   %d\n", stats.KnownDuplicates)
	fmt.Printf("  Session duplicates: %d\n", stats.SessionDuplicates)
	fmt.Printf("  Page duplicates:    %d\n", stats.BatchDuplicates)
	fmt.Printf("  Excluded sites:     %d\n", stats.Excluded)
}

// crawlProgress renders crawler progress as a bar with an ETA.
func crawlProgress() crawler.ProgressFunc {
	var (
		bar       *progressbar.ProgressBar
		barMu     sync.Mutex
		startTime time.Time
	)

	return func(done, total int, result domain.CrawlResult) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("[cyan]Crawling[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		bar.Set(done)

		if done > 0 && done < total {
			rate := float64(done) / time.Since(startTime).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Crawling[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
