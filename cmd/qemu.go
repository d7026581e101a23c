package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/domain"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

var qemuAFLPathFlag string
var qemuDrcovMergeFlag string

// qemuCmd represents the qemu command.
var qemuCmd = newQEMUCmd()

func newQEMUCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qemu",
		Short: "Collect basic-block coverage from an uninstrumented target under QEMU",
		Long: `Replay the corpus under afl-qemu-trace with the drcov TCG plugin loaded.
Each run emits a drcov trace; traces are batch-merged with drcov-merge
into a single campaign trace.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := campaignOptions()
			if err != nil {
				return err
			}

			if qemuAFLPathFlag == "" {
				return fmt.Errorf("--afl-path is required in qemu mode")
			}

			backend := domain.NewQEMUBackend(
				fsAdapter, procRunner, opts,
				m.Path(qemuAFLPathFlag), qemuDrcovMergeFlag,
			)

			return collect(cmd, backend, opts)
		},
	}

	cmd.Flags().StringVarP(&qemuAFLPathFlag, "afl-path", "a", "", "AFL++ installation holding afl-qemu-trace and the drcov plugin")
	cmd.Flags().StringVar(&qemuDrcovMergeFlag, "drcov-merge-path", "drcov-merge", "path to the drcov-merge binary")

	return cmd
}

func init() {
	rootCmd.AddCommand(qemuCmd)
}
