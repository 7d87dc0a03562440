package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag"
	"github.com/hybridrag/hybridrag/config"
)

var (
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a hybrid query against the index",
	Long: `Runs keyword and vector search in parallel and fuses the rankings.
Without an OPENAI_API_KEY the query falls back to keyword search only.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	topK := queryTopK
	if topK <= 0 {
		topK = cfg.Search.TopK
	}

	var res hybridrag.QueryResult
	if config.APIKey() != "" {
		res, err = eng.QueryText(cmd.Context(), args[0], topK)
	} else {
		res, err = eng.Query(cmd.Context(), hybridrag.Query{Text: args[0], TopK: topK})
	}
	if err != nil {
		return err
	}

	if queryJSON {
		return printJSON(cmd, res)
	}

	if len(res.Chunks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
		return nil
	}
	for _, sc := range res.Chunks {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %.4f  %s#%d\n    %s\n",
			sc.Rank+1, sc.Score, sc.Chunk.SourcePath, sc.Chunk.Position, firstLine(sc.Chunk.Text))
	}
	if res.Gated {
		fmt.Fprintln(cmd.OutOrStdout(), "warning: fewer results than the configured minimum")
	}

	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}

	return s
}
