package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove chunks whose source files no longer exist",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	chunks, sources, err := eng.GC(cmd.Context(), func(sourcePath string) bool {
		_, err := os.Stat(sourcePath)

		return err == nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunks from %d vanished sources\n", chunks, sources)

	return nil
}
