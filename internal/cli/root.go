// Package cli implements the hybridrag command line interface.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag"
	"github.com/hybridrag/hybridrag/config"
	"github.com/hybridrag/hybridrag/embedder"
)

var (
	cfgPath string
	verbose bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hybridrag",
	Short: "Local hybrid retrieval over plain-text files",
	Long: `hybridrag indexes text files into a local, offline store and answers
queries with a fusion of exact vector similarity and keyword search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)

		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "hybridrag.toml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func logger() *hybridrag.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return hybridrag.NewTextLogger(level)
}

// openEngine wires an engine from the loaded config. When needEmbedder is
// set, a missing OPENAI_API_KEY is an error; otherwise the engine opens
// without one and text-only entry points are unavailable.
func openEngine(needEmbedder bool) (*hybridrag.Engine, error) {
	opts := []hybridrag.Option{
		hybridrag.WithLogger(logger()),
		hybridrag.WithBlockSize(cfg.Search.BlockSize),
		hybridrag.WithRRFK(cfg.Search.RRFK),
		hybridrag.WithMinResults(cfg.Search.MinResults),
	}

	if key := config.APIKey(); key != "" {
		emb, err := embedder.NewOpenAI(key, func(o *embedder.OpenAIOptions) {
			o.Model = cfg.Embedder.Model
			o.RequestsPerSecond = cfg.Embedder.RequestsPerSecond
			o.Dimension = cfg.Dimension
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, hybridrag.WithEmbedder(emb))
	} else if needEmbedder {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set (put it in the environment or a .env file)")
	}

	return hybridrag.Open(rootCmd.Context(), cfg.DataDir, cfg.Dimension, opts...)
}
