package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index health and store sizes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := eng.Status(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(cmd, st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "data dir:        %s\n", st.Dir)
	fmt.Fprintf(out, "dimension:       %d\n", st.Dimension)
	fmt.Fprintf(out, "chunks:          %d (%d embedded, %d sources)\n", st.Chunks, st.Embedded, st.Sources)
	fmt.Fprintf(out, "embedding rows:  %d committed (%d orphaned)\n", st.CommittedRows, st.OrphanRows)
	if st.Dangling > 0 {
		fmt.Fprintf(out, "dangling refs:   %d (re-run index to repair)\n", st.Dangling)
	}

	return nil
}
