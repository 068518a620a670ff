package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"webrag/config"
	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/retriever"
	"webrag/internal/adapter/store"
	"webrag/internal/domain"
	"webrag/internal/port"
	"webrag/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "Project directory holding the saved corpus")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -q \"query\"")
		fmt.Println("\nCompares on the saved corpus:")
		fmt.Println("  1. Stage-1 vector recall (order and latency)")
		fmt.Println("  2. Cross-encoder reranked order (order and latency)")
		fmt.Println("  3. How much reranking reshuffles the top results")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	engine, snap, err := loadEngine(ctx, cfg, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Corpus not available: %v\n", err)
		os.Exit(1)
	}

	st := engine.Stats()
	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Chunks indexed: %d from %d sources\n", st.Index.Chunks, st.Index.Sources)
	fmt.Printf("Model: %s (%s, dim %d)\n", st.Model, st.Profile, st.Dimension)
	fmt.Printf("Reranker: %s\n", st.RerankModel)
	if snap.Query != "" {
		fmt.Printf("Corpus query: %q\n", snap.Query)
	}
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	engine.SetRerank(false)
	recall, err := engine.Search(ctx, *query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(recall.Results) == 0 {
		fmt.Println("No results above the score threshold.")
		os.Exit(0)
	}
	printResults("Stage 1: vector recall", recall, false)

	engine.SetRerank(true)
	reranked, err := engine.Search(ctx, *query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rerank error: %v\n", err)
		os.Exit(1)
	}
	printResults("Stage 2: reranked", reranked, true)

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Candidates:          %d\n", recall.Candidates)
	fmt.Printf("  Recall latency:      %s\n", recall.Elapsed.Round(time.Microsecond))
	fmt.Printf("  Rerank latency:      %s\n", reranked.Elapsed.Round(time.Microsecond))
	fmt.Printf("  Average similarity:  %.3f\n", averageScore(recall.Results))
	fmt.Printf("  Top-1 similarity:    %.3f\n", recall.Results[0].RetrievalScore)

	if reranked.Degraded {
		fmt.Println("  Status: DEGRADED - reranker unavailable, stage-1 order kept")
		return
	}
	moved, same := rankShift(recall.Results, reranked.Results)
	fmt.Printf("  Top-1 unchanged:     %v\n", same)
	fmt.Printf("  Results moved:       %d of %d\n", moved, len(reranked.Results))
	if moved == 0 {
		fmt.Println("  Status: OK - reranker agrees with vector order")
	} else {
		fmt.Println("  Status: GOOD - reranker refined the vector order")
	}
}

func loadEngine(ctx context.Context, cfg *config.Config, dir string) (*usecase.Engine, domain.CorpusSnapshot, error) {
	var snap domain.CorpusSnapshot

	st, err := store.NewBoltStore(cfg.SnapshotPath(dir))
	if err != nil {
		return nil, snap, err
	}
	defer st.Close()

	snap, _, err = st.LoadSnapshot(ctx)
	if err != nil {
		return nil, snap, fmt.Errorf("%w - run 'webrag search' or 'webrag ingest' first", err)
	}

	profile, err := domain.ParseEmbeddingProfile(snap.Profile)
	if err != nil {
		return nil, snap, err
	}

	engine, err := usecase.NewEngine(usecase.EngineConfig{
		Profile:  profile,
		Encoders: setupEncoders(cfg),
		Retrieval: usecase.RetrievalOptions{
			InitialKMultiplier: cfg.Retrieve.InitialKMultiplier,
			ScoreThreshold:     float32(cfg.Retrieve.ScoreThreshold),
			RerankEnabled:      true,
		},
	}, usecase.EngineDeps{CrossEncoder: setupReranker(cfg)})
	if err != nil {
		return nil, snap, err
	}
	if err := engine.Restore(snap); err != nil {
		return nil, snap, err
	}
	return engine, snap, nil
}

func setupEncoders(cfg *config.Config) usecase.EncoderFactory {
	return func(profile domain.EmbeddingProfile) (embedding.EncoderLoader, error) {
		model := cfg.Embedding.Model
		if model == "" || profile.Key() != cfg.Embedding.Profile {
			model = profile.ModelIdentifier()
		}
		var prompts embedding.Prompts
		if profile.SupportsAsymmetricEncoding() {
			prompts = embedding.Prompts{Document: cfg.Embedding.DocumentPrompt, Query: cfg.Embedding.QueryPrompt}
		}

		switch cfg.Embedding.Provider {
		case "ollama":
			return func(ctx context.Context) (port.Encoder, error) {
				return embedding.NewOllamaEmbedder(embedding.OllamaConfig{
					BaseURL:   cfg.Embedding.BaseURL,
					Model:     model,
					Dimension: profile.Dimension(),
					Prompts:   prompts,
					Timeout:   cfg.Embedding.Timeout,
				})
			}, nil
		case "openai":
			return func(ctx context.Context) (port.Encoder, error) {
				return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
					BaseURL:   cfg.Embedding.BaseURL,
					APIKeyEnv: cfg.Embedding.APIKeyEnv,
					Model:     model,
					Dimension: profile.Dimension(),
					Prompts:   prompts,
					Timeout:   cfg.Embedding.Timeout,
				})
			}, nil
		case "hash":
			return func(ctx context.Context) (port.Encoder, error) {
				return embedding.NewHashEncoder(profile.Dimension()), nil
			}, nil
		default:
			return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
		}
	}
}

func setupReranker(cfg *config.Config) port.CrossEncoder {
	if cfg.Rerank.Provider == "lexical" {
		return retriever.NewLexicalCrossEncoder()
	}
	rc := retriever.HTTPCrossEncoderConfig{
		API:       cfg.Rerank.Provider,
		BaseURL:   cfg.Rerank.BaseURL,
		APIKeyEnv: cfg.Rerank.APIKeyEnv,
		Model:     cfg.Rerank.Model,
		Timeout:   cfg.Rerank.Timeout,
	}
	return retriever.NewLazyCrossEncoder(rc.Model, func(ctx context.Context) (port.CrossEncoder, error) {
		return retriever.NewHTTPCrossEncoder(rc)
	})
}

func printResults(title string, report *usecase.RetrievalReport, reranked bool) {
	fmt.Printf("%s (%d results, %s):\n\n", title, len(report.Results), report.Elapsed.Round(time.Microsecond))
	for i, r := range report.Results {
		preview := []rune(r.Chunk.Text)
		text := string(preview)
		if len(preview) > 150 {
			text = string(preview[:150]) + "..."
		}
		text = strings.ReplaceAll(text, "\n", " ")

		score := fmt.Sprintf("%s %.3f", rating(r.RetrievalScore), r.RetrievalScore)
		if reranked && r.Reranked {
			score += fmt.Sprintf(" | rerank %.3f", r.RerankScore)
		}
		fmt.Printf("%d. [%s] %s #%d\n", i+1, score, shortSource(r.Chunk.SourceID), r.Chunk.ChunkIndex)
		fmt.Printf("   %s\n\n", text)
	}
}

func rating(similarity float32) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func averageScore(results []domain.RankedResult) float64 {
	var total float64
	for _, r := range results {
		total += float64(r.RetrievalScore)
	}
	return total / float64(len(results))
}

// rankShift counts results whose position changed between two orderings
// and reports whether the first result stayed in place.
func rankShift(before, after []domain.RankedResult) (moved int, sameTop bool) {
	pos := make(map[string]int, len(before))
	for i, r := range before {
		pos[chunkKey(r.Chunk)] = i
	}
	for i, r := range after {
		if j, ok := pos[chunkKey(r.Chunk)]; !ok || j != i {
			moved++
		}
	}
	sameTop = len(before) > 0 && len(after) > 0 && chunkKey(before[0].Chunk) == chunkKey(after[0].Chunk)
	return moved, sameTop
}

func chunkKey(c domain.Chunk) string {
	return fmt.Sprintf("%s#%d", c.SourceID, c.ChunkIndex)
}

func shortSource(source string) string {
	source = strings.TrimSuffix(source, "/")
	parts := strings.Split(source, "/")
	if len(parts) > 2 {
		return parts[len(parts)-1]
	}
	return source
}
