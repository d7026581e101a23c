package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/controller"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "View a previously generated zero-coverage report",
		Long:  "Render the zero-coverage report saved by an earlier campaign without replaying anything.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputDir := outputDirFlag
			if outputDir == "" {
				if fuzzingDirFlag == "" {
					return fmt.Errorf("--%s or --%s is required", outputDirFlagName, fuzzingDirFlagName)
				}

				outputDir = filepath.Join(fuzzingDirFlag, "cov")
			}

			report, err := reportStore.LoadReport(m.Path(filepath.Join(outputDir, "zero_coverage.yaml")))
			if err != nil {
				return err
			}

			ui := controller.NewUI(cmd, controller.IsTTY(os.Stdout), noProgressFlag)

			return ui.DisplayReport(context.Background(), report)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
