package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/controller"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

// listCmd represents the list command.
var listCmd = newListCmd()

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the corpus test cases that a campaign would replay",
		Long:  "Enumerate the queue(s) under the afl-fuzz output directory in replay order.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fuzzingDirFlag == "" {
				return fmt.Errorf("--%s is required", fuzzingDirFlagName)
			}

			cases, err := fsAdapter.ListQueue(m.Path(fuzzingDirFlag))
			if err != nil {
				return err
			}

			ui := controller.NewUI(cmd, controller.IsTTY(os.Stdout), noProgressFlag)

			return ui.DisplayCorpus(context.Background(), cases)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(listCmd)
}
