package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/domain"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

var fridaAFLPathFlag string
var fridaDrcovMergeFlag string

// fridaCmd represents the frida command.
var fridaCmd = newFridaCmd()

func newFridaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frida",
		Short: "Collect basic-block coverage from an uninstrumented target under Frida",
		Long: `Replay the corpus with the afl-frida-trace shim preloaded so every run
emits a drcov trace; traces are batch-merged with drcov-merge into a
single campaign trace.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := campaignOptions()
			if err != nil {
				return err
			}

			if fridaAFLPathFlag == "" {
				return fmt.Errorf("--afl-path is required in frida mode")
			}

			backend := domain.NewFridaBackend(
				fsAdapter, procRunner, opts,
				m.Path(fridaAFLPathFlag), fridaDrcovMergeFlag,
			)

			return collect(cmd, backend, opts)
		},
	}

	cmd.Flags().StringVarP(&fridaAFLPathFlag, "afl-path", "a", "", "AFL++ installation holding frida_mode/afl-frida-trace.so")
	cmd.Flags().StringVar(&fridaDrcovMergeFlag, "drcov-merge-path", "drcov-merge", "path to the drcov-merge binary")

	return cmd
}

func init() {
	rootCmd.AddCommand(fridaCmd)
}
