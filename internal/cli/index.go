package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index <file...>",
	Short: "Chunk, embed, and index text files",
	Long: `Splits each file into paragraph chunks, embeds new chunks with the
configured embedding model, and writes them to the local store.
Unchanged files are skipped without spending embedding calls.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-check every chunk even if the file looks unchanged")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()

	var total hybridrag.IngestResult
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		paragraphs := splitParagraphs(string(data))
		if len(paragraphs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: empty, skipped\n", path)
			continue
		}

		if !indexForce {
			contents := make([][]byte, len(paragraphs))
			for i, p := range paragraphs {
				contents[i] = []byte(p)
			}
			changed, err := eng.SourceChanged(ctx, path, contents)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: unchanged, skipped\n", path)
				continue
			}
		}

		items := make([]hybridrag.Ingestible, len(paragraphs))
		for i, p := range paragraphs {
			items[i] = hybridrag.Ingestible{
				SourcePath: path,
				Text:       p,
				Position:   i,
			}
		}

		res, err := eng.IngestText(ctx, items)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		total.Indexed += res.Indexed
		total.Reembedded += res.Reembedded
		total.Skipped += res.Skipped
		total.Failed = append(total.Failed, res.Failed...)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d, repaired %d, skipped %d, failed %d\n",
		total.Indexed, total.Reembedded, total.Skipped, len(total.Failed))
	for _, f := range total.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", f)
	}

	return nil
}

// splitParagraphs breaks text on blank lines. It is deliberately naive:
// it keeps chunk identity stable across runs, and document-format-aware
// parsing stays out of scope.
func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p := strings.TrimSpace(block)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
