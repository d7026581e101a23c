package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/domain"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

var gccCodeDirFlag string
var lcovPathFlag string
var genhtmlPathFlag string

// gccCmd represents the gcc command.
var gccCmd = newGCCCmd()

func newGCCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcc",
		Short: "Collect coverage from a gcov-instrumented target",
		Long: `Replay the corpus against a target compiled with --coverage. Every run
writes gcov counters into a private directory, which lcov captures into a
tracefile that is merged into the campaign total.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := campaignOptions()
			if err != nil {
				return err
			}

			if gccCodeDirFlag == "" {
				return fmt.Errorf("--code-dir is required in gcc mode")
			}

			backend := domain.NewGCCBackend(
				fsAdapter, procRunner, opts,
				m.Path(gccCodeDirFlag), lcovPathFlag, genhtmlPathFlag,
			)

			return collect(cmd, backend, opts)
		},
	}

	cmd.Flags().StringVarP(&gccCodeDirFlag, "code-dir", "c", "", "directory holding the instrumented build (.gcno files)")
	cmd.Flags().StringVar(&lcovPathFlag, "lcov-path", "lcov", "path to the lcov binary")
	cmd.Flags().StringVar(&genhtmlPathFlag, "genhtml-path", "genhtml", "path to the genhtml binary")

	return cmd
}

func init() {
	rootCmd.AddCommand(gccCmd)
}
