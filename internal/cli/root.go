package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"webrag/config"
	"webrag/internal/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	verbose     bool
	profileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "webrag",
	Short: "Web RAG - search the web, build a throwaway corpus, retrieve with reranking",
	Long: `webrag searches the web for a query, crawls the pages it has not seen
before, embeds them into an in-memory HNSW index and answers with a
two-stage retrieval: vector recall followed by cross-encoder reranking.

Example usage:
  webrag search -q "rust async runtimes"     # Search, crawl, index and retrieve
  webrag query -q "tokio vs async-std"       # Query the last corpus again
  webrag ingest ./docs                       # Build a corpus from local files
  webrag urls -q "hnsw tuning" --target 20   # Only find new URLs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		// A missing .env is normal; variables may already be exported.
		_ = godotenv.Load()

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if profileFlag != "" && profileFlag != cfg.Embedding.Profile {
			cfg.Embedding.Profile = profileFlag
			// The configured provider model belongs to the configured profile.
			cfg.Embedding.Model = ""
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		return logger.Setup(cfg.Logging.Level, cfg.Logging.Format, verbose)
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so in-flight searches and crawls stop promptly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./webrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "project directory (default is current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "embedding profile (gemma, minilm, bge)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
