package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <dst>",
	Short: "Write a compressed backup of the embedding log",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Snapshot(args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", args[0])

	return nil
}
